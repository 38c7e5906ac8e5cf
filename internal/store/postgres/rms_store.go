package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// RmsStore implements domain.RmsStore using PostgreSQL.
type RmsStore struct {
	pool *pgxpool.Pool
}

// NewRmsStore creates a new RmsStore backed by the given pool.
func NewRmsStore(pool *pgxpool.Pool) *RmsStore {
	return &RmsStore{pool: pool}
}

var _ domain.RmsStore = (*RmsStore)(nil)

// GetConfig returns the user's guardrail config. A user with no stored row
// gets an empty config: every rule unset.
func (s *RmsStore) GetConfig(ctx context.Context, userID string) (domain.RmsConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, max_lots_per_order, max_daily_lots, max_daily_loss,
		       exposure_limit, margin_buffer_pct, profit_lock, trailing_sl, drawdown_limit,
		       auto_square_off_enabled, auto_square_off_buffer_pct,
		       notify_email, notify_telegram, updated_at
		FROM rms_configs WHERE user_id = $1`, userID)

	var cfg domain.RmsConfig
	err := row.Scan(
		&cfg.UserID, &cfg.MaxLotsPerOrder, &cfg.MaxDailyLots, &cfg.MaxDailyLoss,
		&cfg.ExposureLimit, &cfg.MarginBufferPct, &cfg.ProfitLock, &cfg.TrailingSL, &cfg.DrawdownLimit,
		&cfg.AutoSquareOffEnabled, &cfg.AutoSquareOffBufferPct,
		&cfg.NotifyEmail, &cfg.NotifyTelegram, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RmsConfig{UserID: userID}, nil
		}
		return domain.RmsConfig{}, fmt.Errorf("postgres: get rms config for %s: %w", userID, err)
	}
	return cfg, nil
}

// UpsertConfig replaces the user's guardrail config.
func (s *RmsStore) UpsertConfig(ctx context.Context, cfg domain.RmsConfig) error {
	const query = `
		INSERT INTO rms_configs (
			user_id, max_lots_per_order, max_daily_lots, max_daily_loss,
			exposure_limit, margin_buffer_pct, profit_lock, trailing_sl, drawdown_limit,
			auto_square_off_enabled, auto_square_off_buffer_pct,
			notify_email, notify_telegram, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET max_lots_per_order = EXCLUDED.max_lots_per_order,
		    max_daily_lots = EXCLUDED.max_daily_lots,
		    max_daily_loss = EXCLUDED.max_daily_loss,
		    exposure_limit = EXCLUDED.exposure_limit,
		    margin_buffer_pct = EXCLUDED.margin_buffer_pct,
		    profit_lock = EXCLUDED.profit_lock,
		    trailing_sl = EXCLUDED.trailing_sl,
		    drawdown_limit = EXCLUDED.drawdown_limit,
		    auto_square_off_enabled = EXCLUDED.auto_square_off_enabled,
		    auto_square_off_buffer_pct = EXCLUDED.auto_square_off_buffer_pct,
		    notify_email = EXCLUDED.notify_email,
		    notify_telegram = EXCLUDED.notify_telegram,
		    updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		cfg.UserID, cfg.MaxLotsPerOrder, cfg.MaxDailyLots, cfg.MaxDailyLoss,
		cfg.ExposureLimit, cfg.MarginBufferPct, cfg.ProfitLock, cfg.TrailingSL, cfg.DrawdownLimit,
		cfg.AutoSquareOffEnabled, cfg.AutoSquareOffBufferPct,
		cfg.NotifyEmail, cfg.NotifyTelegram,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert rms config for %s: %w", cfg.UserID, err)
	}
	return nil
}

// GetCounters returns the day's running totals, or zeroes when the user has
// not traded yet today.
func (s *RmsStore) GetCounters(ctx context.Context, userID, tradingDay string) (domain.RmsCounters, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, TO_CHAR(trading_day, 'YYYY-MM-DD'), lots_today,
		       realized_pnl, open_notional, session_peak_pnl, updated_at
		FROM rms_counters WHERE user_id = $1 AND trading_day = $2::DATE`, userID, tradingDay)

	var c domain.RmsCounters
	err := row.Scan(&c.UserID, &c.TradingDay, &c.LotsToday,
		&c.RealizedPnL, &c.OpenNotional, &c.SessionPeakPnL, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RmsCounters{UserID: userID, TradingDay: tradingDay}, nil
		}
		return domain.RmsCounters{}, fmt.Errorf("postgres: get rms counters for %s: %w", userID, err)
	}
	return c, nil
}

// SaveCounters persists the day's running totals.
func (s *RmsStore) SaveCounters(ctx context.Context, c domain.RmsCounters) error {
	const query = `
		INSERT INTO rms_counters (
			user_id, trading_day, lots_today, realized_pnl, open_notional, session_peak_pnl, updated_at
		) VALUES ($1, $2::DATE, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, trading_day) DO UPDATE
		SET lots_today = EXCLUDED.lots_today,
		    realized_pnl = EXCLUDED.realized_pnl,
		    open_notional = EXCLUDED.open_notional,
		    session_peak_pnl = EXCLUDED.session_peak_pnl,
		    updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		c.UserID, c.TradingDay, c.LotsToday, c.RealizedPnL, c.OpenNotional, c.SessionPeakPnL)
	if err != nil {
		return fmt.Errorf("postgres: save rms counters for %s: %w", c.UserID, err)
	}
	return nil
}

// ListConfiguredUsers returns every user id with a stored guardrail config.
func (s *RmsStore) ListConfiguredUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM rms_configs ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list configured rms users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan rms user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
