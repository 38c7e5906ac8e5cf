package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.AccountStore = (*AccountStore)(nil)

// Upsert inserts or refreshes an account keyed (broker_link_id, broker_account_id).
func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (id, broker_link_id, broker_account_id, currency,
			margin_available, margin_utilized, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (broker_link_id, broker_account_id) DO UPDATE
		SET currency = EXCLUDED.currency,
		    margin_available = EXCLUDED.margin_available,
		    margin_utilized = EXCLUDED.margin_utilized,
		    updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.BrokerLinkID, a.BrokerAccountID, a.Currency,
		a.MarginAvailable, a.MarginUtilized,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.ID, err)
	}
	return nil
}

const accountSelectCols = `id, broker_link_id, broker_account_id, currency,
	margin_available, margin_utilized, updated_at`

func scanAccount(scanner interface{ Scan(dest ...any) error }) (domain.Account, error) {
	var a domain.Account
	err := scanner.Scan(
		&a.ID, &a.BrokerLinkID, &a.BrokerAccountID, &a.Currency,
		&a.MarginAvailable, &a.MarginUtilized, &a.UpdatedAt,
	)
	return a, err
}

// GetByID retrieves a single account by id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// ListByLink returns the accounts under one broker link.
func (s *AccountStore) ListByLink(ctx context.Context, linkID string) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE broker_link_id = $1 ORDER BY broker_account_id`, linkID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts by link: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListByUser returns every account reachable from a user's broker links.
func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.broker_link_id, a.broker_account_id, a.currency,
		       a.margin_available, a.margin_utilized, a.updated_at
		FROM accounts a
		JOIN broker_links bl ON bl.id = a.broker_link_id
		WHERE bl.user_id = $1
		ORDER BY a.broker_account_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts by user: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateMargin refreshes the cached margin snapshot for an account.
func (s *AccountStore) UpdateMargin(ctx context.Context, id string, m domain.MarginSnapshot) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET margin_available = $2, margin_utilized = $3, currency = $4, updated_at = NOW()
		WHERE id = $1`,
		id, m.Available, m.Utilized, m.Currency)
	if err != nil {
		return fmt.Errorf("postgres: update margin for account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
