package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

// Insert records a realised fill.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (id, order_id, account_id, symbol, quantity, price, realized_pnl, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OrderID, t.AccountID, t.Symbol, t.Quantity, t.Price, t.RealizedPnL, t.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByUser returns a user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `
		SELECT t.id, t.order_id, t.account_id, t.symbol, t.quantity, t.price, t.realized_pnl, t.ts
		FROM trades t
		JOIN accounts a ON a.id = t.account_id
		JOIN broker_links bl ON bl.id = a.broker_link_id
		WHERE bl.user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND t.ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND t.ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY t.ts DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.AccountID, &t.Symbol,
			&t.Quantity, &t.Price, &t.RealizedPnL, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DailyPnL returns the per-day realised PnL series for the trailing N days,
// oldest day first.
func (s *TradeStore) DailyPnL(ctx context.Context, userID string, days int) ([]domain.DailyPnLPoint, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT TO_CHAR(t.ts::DATE, 'YYYY-MM-DD'), SUM(t.realized_pnl), COUNT(*)
		FROM trades t
		JOIN accounts a ON a.id = t.account_id
		JOIN broker_links bl ON bl.id = a.broker_link_id
		WHERE bl.user_id = $1 AND t.ts >= NOW() - ($2 || ' days')::INTERVAL
		GROUP BY t.ts::DATE
		ORDER BY t.ts::DATE`, userID, days)
	if err != nil {
		return nil, fmt.Errorf("postgres: daily pnl: %w", err)
	}
	defer rows.Close()

	var points []domain.DailyPnLPoint
	for rows.Next() {
		var p domain.DailyPnLPoint
		if err := rows.Scan(&p.Date, &p.RealizedPnL, &p.TradeCount); err != nil {
			return nil, fmt.Errorf("postgres: scan daily pnl: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SumRealized returns the realised PnL total for a user, optionally bounded
// below by since.
func (s *TradeStore) SumRealized(ctx context.Context, userID string, since *time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(t.realized_pnl), 0)
		FROM trades t
		JOIN accounts a ON a.id = t.account_id
		JOIN broker_links bl ON bl.id = a.broker_link_id
		WHERE bl.user_id = $1`
	args := []any{userID}
	if since != nil {
		query += " AND t.ts >= $2"
		args = append(args, *since)
	}

	var sum decimal.Decimal
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	return sum, nil
}
