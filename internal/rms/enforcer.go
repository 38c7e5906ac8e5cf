package rms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// SquareOffExecutor flattens open positions. The execution layer provides the
// implementation; the enforcer only decides when to pull the trigger.
type SquareOffExecutor interface {
	SquareOff(ctx context.Context, cmd domain.SquareOffCommand) error
}

// Notifier pushes a human-readable alert to the user's configured channels.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Enforcer periodically sweeps user counters against the post-trade rules
// (max daily loss square-off, profit lock, drawdown) and issues square-off
// commands when a rule fires.
type Enforcer struct {
	store     domain.RmsStore
	positions domain.PositionStore
	gate      *Gate
	executor  SquareOffExecutor
	notifier  Notifier
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewEnforcer builds an Enforcer. notifier may be nil.
func NewEnforcer(store domain.RmsStore, positions domain.PositionStore, gate *Gate,
	executor SquareOffExecutor, notifier Notifier, audit domain.AuditStore, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		store:     store,
		positions: positions,
		gate:      gate,
		executor:  executor,
		notifier:  notifier,
		audit:     audit,
		logger:    logger.With(slog.String("component", "rms_enforcer")),
		now:       time.Now,
	}
}

// Sweep evaluates the post-trade rules for one user and fires the first rule
// that is breached. It returns the name of the fired rule, or "" when no rule
// fired.
func (e *Enforcer) Sweep(ctx context.Context, userID string) (string, error) {
	cfg, err := e.store.GetConfig(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("rms: enforcer load config: %w", err)
	}
	counters, err := e.store.GetCounters(ctx, userID, e.gate.TradingDay(e.now()))
	if err != nil {
		return "", fmt.Errorf("rms: enforcer load counters: %w", err)
	}

	if rule, reason := e.breachedRule(cfg, counters); rule != "" {
		if err := e.squareOff(ctx, userID, rule, reason); err != nil {
			return rule, err
		}
		return rule, nil
	}
	return "", nil
}

// ManualSquareOff flattens all of the user's open positions on request,
// outside any rule evaluation. Returns how many positions were flattened.
func (e *Enforcer) ManualSquareOff(ctx context.Context, userID, reason string) (int, error) {
	open, err := e.positions.ListOpenByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("rms: list positions: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	cmd := domain.SquareOffCommand{
		UserID:    userID,
		Rule:      "manual",
		Reason:    reason,
		Automated: false,
		Positions: open,
		IssuedAt:  e.now(),
	}

	_ = e.audit.Log(ctx, userID, "rms.square_off", map[string]any{
		"rule":      "manual",
		"reason":    reason,
		"positions": len(open),
	})
	e.logger.Info("manual square-off",
		slog.String("user_id", userID),
		slog.Int("positions", len(open)))

	if err := e.executor.SquareOff(ctx, cmd); err != nil {
		return 0, fmt.Errorf("rms: square off for user %s: %w", userID, err)
	}
	return len(open), nil
}

// breachedRule returns the first post-trade rule the counters violate.
func (e *Enforcer) breachedRule(cfg domain.RmsConfig, c domain.RmsCounters) (rule, reason string) {
	pnl := c.RealizedPnL

	if cfg.AutoSquareOffEnabled && cfg.MaxDailyLoss != nil {
		// Fire early: the buffer pct pulls the trigger before the loss limit
		// itself is hit.
		threshold := cfg.MaxDailyLoss.Neg()
		if cfg.AutoSquareOffBufferPct != nil {
			threshold = cfg.MaxDailyLoss.Mul(
				decimal.NewFromInt(100).Sub(*cfg.AutoSquareOffBufferPct).Div(decimal.NewFromInt(100))).Neg()
		}
		if pnl.LessThanOrEqual(threshold) {
			return "max_daily_loss", fmt.Sprintf("day PnL %s breached square-off threshold %s", pnl, threshold)
		}
	}
	if cfg.ProfitLock != nil && c.SessionPeakPnL.GreaterThanOrEqual(*cfg.ProfitLock) && pnl.LessThan(*cfg.ProfitLock) {
		return "profit_lock", fmt.Sprintf("day PnL %s fell below locked profit %s (peak %s)",
			pnl, cfg.ProfitLock, c.SessionPeakPnL)
	}
	if cfg.DrawdownLimit != nil {
		drawdown := c.SessionPeakPnL.Sub(pnl)
		if drawdown.GreaterThanOrEqual(*cfg.DrawdownLimit) {
			return "drawdown_limit", fmt.Sprintf("drawdown %s from peak %s exceeds limit %s",
				drawdown, c.SessionPeakPnL, cfg.DrawdownLimit)
		}
	}
	return "", ""
}

func (e *Enforcer) squareOff(ctx context.Context, userID, rule, reason string) error {
	open, err := e.positions.ListOpenByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("rms: enforcer list positions: %w", err)
	}

	cmd := domain.SquareOffCommand{
		UserID:    userID,
		Rule:      rule,
		Reason:    reason,
		Automated: true,
		Positions: open,
		IssuedAt:  e.now(),
	}

	_ = e.audit.Log(ctx, userID, "rms.square_off", map[string]any{
		"rule":      rule,
		"reason":    reason,
		"positions": len(open),
	})
	e.logger.Warn("square-off triggered",
		slog.String("user_id", userID),
		slog.String("rule", rule),
		slog.Int("positions", len(open)))

	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, userID, fmt.Sprintf("RMS square-off (%s): %s", rule, reason))
	}

	if err := e.executor.SquareOff(ctx, cmd); err != nil {
		return fmt.Errorf("rms: square off for user %s: %w", userID, err)
	}
	return nil
}
