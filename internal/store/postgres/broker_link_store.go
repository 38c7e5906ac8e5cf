package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// BrokerLinkStore implements domain.BrokerLinkStore using PostgreSQL.
type BrokerLinkStore struct {
	pool *pgxpool.Pool
}

// NewBrokerLinkStore creates a new BrokerLinkStore backed by the given pool.
func NewBrokerLinkStore(pool *pgxpool.Pool) *BrokerLinkStore {
	return &BrokerLinkStore{pool: pool}
}

var _ domain.BrokerLinkStore = (*BrokerLinkStore)(nil)

// Create inserts a new broker link.
func (s *BrokerLinkStore) Create(ctx context.Context, l domain.BrokerLink) error {
	const query = `
		INSERT INTO broker_links (
			id, user_id, kind, client_code, status,
			session_token, session_expires_at, last_login_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.UserID, string(l.Kind), l.ClientCode, string(l.Status),
		l.SessionToken, l.SessionExpiresAt, l.LastLoginAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create broker link %s: %w", l.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of a broker link.
func (s *BrokerLinkStore) Update(ctx context.Context, l domain.BrokerLink) error {
	const query = `
		UPDATE broker_links
		SET status = $2, session_token = $3, session_expires_at = $4,
		    last_login_at = $5, client_code = $6, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		l.ID, string(l.Status), l.SessionToken, l.SessionExpiresAt, l.LastLoginAt, l.ClientCode,
	)
	if err != nil {
		return fmt.Errorf("postgres: update broker link %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const linkSelectCols = `id, user_id, kind, client_code, status,
	session_token, session_expires_at, last_login_at, created_at, updated_at`

func scanLink(scanner interface{ Scan(dest ...any) error }) (domain.BrokerLink, error) {
	var l domain.BrokerLink
	var kind, status string
	err := scanner.Scan(
		&l.ID, &l.UserID, &kind, &l.ClientCode, &status,
		&l.SessionToken, &l.SessionExpiresAt, &l.LastLoginAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.BrokerLink{}, err
	}
	l.Kind = domain.BrokerKind(kind)
	l.Status = domain.LinkStatus(status)
	return l, nil
}

// GetByID retrieves a single broker link by id.
func (s *BrokerLinkStore) GetByID(ctx context.Context, id string) (domain.BrokerLink, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkSelectCols+` FROM broker_links WHERE id = $1`, id)
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BrokerLink{}, domain.ErrNotFound
		}
		return domain.BrokerLink{}, fmt.Errorf("postgres: get broker link %s: %w", id, err)
	}
	return l, nil
}

// ListByUser returns all broker links owned by a user.
func (s *BrokerLinkStore) ListByUser(ctx context.Context, userID string) ([]domain.BrokerLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkSelectCols+` FROM broker_links WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list broker links: %w", err)
	}
	defer rows.Close()

	var links []domain.BrokerLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan broker link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Delete removes a broker link; accounts and vault blobs cascade.
func (s *BrokerLinkStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM broker_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete broker link %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
