package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

// Upsert inserts or replaces the rolling position keyed (account_id, symbol).
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (id, account_id, symbol, net_qty, avg_price, pnl, paper, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_id, symbol) DO UPDATE
		SET net_qty = EXCLUDED.net_qty,
		    avg_price = EXCLUDED.avg_price,
		    pnl = EXCLUDED.pnl,
		    paper = EXCLUDED.paper,
		    updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.AccountID, p.Symbol, p.NetQty, p.AvgPrice, p.PnL, p.Paper)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.AccountID, p.Symbol, err)
	}
	return nil
}

// Get retrieves the position for one (account, symbol).
func (s *PositionStore) Get(ctx context.Context, accountID, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, symbol, net_qty, avg_price, pnl, paper, updated_at
		FROM positions WHERE account_id = $1 AND symbol = $2`, accountID, symbol)

	var p domain.Position
	err := row.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.NetQty, &p.AvgPrice, &p.PnL, &p.Paper, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", accountID, symbol, err)
	}
	return p, nil
}

// ListOpenByUser returns all non-flat positions across a user's accounts.
func (s *PositionStore) ListOpenByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.account_id, p.symbol, p.net_qty, p.avg_price, p.pnl, p.paper, p.updated_at
		FROM positions p
		JOIN accounts a ON a.id = p.account_id
		JOIN broker_links bl ON bl.id = a.broker_link_id
		WHERE bl.user_id = $1 AND p.net_qty != 0
		ORDER BY p.symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.NetQty, &p.AvgPrice, &p.PnL, &p.Paper, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
