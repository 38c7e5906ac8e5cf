// Package rms implements the pre-trade risk gate and the post-trade
// enforcement sweep. The gate is the single chokepoint every leg passes
// before it may reach a broker; counters are mutated only under a per-user
// lock so concurrent fan-outs cannot double-spend the daily budget.
package rms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// DefaultTimezone is the exchange timezone used for the daily counter
// boundary when none is configured.
const DefaultTimezone = "Asia/Kolkata"

// Gate performs pre-trade checks and reserves daily budget for approved legs.
type Gate struct {
	store  domain.RmsStore
	audit  domain.AuditStore
	logger *slog.Logger
	tz     *time.Location
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewGate builds a Gate. tz is the exchange timezone for the trading-day
// boundary; pass nil for the default.
func NewGate(store domain.RmsStore, audit domain.AuditStore, tz *time.Location, logger *slog.Logger) *Gate {
	if tz == nil {
		tz, _ = time.LoadLocation(DefaultTimezone)
	}
	return &Gate{
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "rms_gate")),
		tz:     tz,
		now:    time.Now,
		users:  make(map[string]*sync.Mutex),
	}
}

func (g *Gate) userLock(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.users[userID]
	if !ok {
		l = &sync.Mutex{}
		g.users[userID] = l
	}
	return l
}

// TradingDay returns the ISO date of t in the exchange timezone.
func (g *Gate) TradingDay(t time.Time) string {
	return t.In(g.tz).Format("2006-01-02")
}

// Reservation is the budget held for one approved leg. Release returns it
// when the leg is rejected by the broker or errors; approved-and-filled legs
// keep their reservation.
type Reservation struct {
	gate     *Gate
	userID   string
	lots     int64
	notional decimal.Decimal
	released bool
	mu       sync.Mutex
}

// Release hands the reserved lots and notional back to the user's daily
// budget. Safe to call more than once.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.mu.Unlock()
	return r.gate.release(ctx, r.userID, r.lots, r.notional)
}

// ReserveLeg runs the pre-trade checks for one leg and, when all pass,
// reserves its lots and notional against the user's daily counters. The
// checks run in a fixed order so rejections are deterministic.
func (g *Gate) ReserveLeg(ctx context.Context, account domain.Account, intent domain.TradeIntent, leg domain.AllocationLeg, userID string) (*Reservation, error) {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := g.store.GetConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rms: load config: %w", err)
	}
	day := g.TradingDay(g.now())
	counters, err := g.store.GetCounters(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("rms: load counters: %w", err)
	}

	notional := intent.RefPrice().Mul(decimal.NewFromInt(leg.Quantity))

	if cfg.MaxLotsPerOrder != nil && leg.Lots > *cfg.MaxLotsPerOrder {
		return nil, g.reject(ctx, userID, domain.CodeRMSMaxOrderSize,
			fmt.Sprintf("leg of %d lots exceeds max %d lots per order", leg.Lots, *cfg.MaxLotsPerOrder))
	}
	if cfg.MaxDailyLots != nil && counters.LotsToday+leg.Lots > *cfg.MaxDailyLots {
		return nil, g.reject(ctx, userID, domain.CodeRMSMaxLots,
			fmt.Sprintf("daily lot limit reached: %d of %d used, leg needs %d",
				counters.LotsToday, *cfg.MaxDailyLots, leg.Lots))
	}
	if cfg.ExposureLimit != nil && counters.OpenNotional.Add(notional).GreaterThan(*cfg.ExposureLimit) {
		return nil, g.reject(ctx, userID, domain.CodeRMSExposure,
			fmt.Sprintf("exposure limit %s would be exceeded (open %s + leg %s)",
				cfg.ExposureLimit, counters.OpenNotional, notional))
	}
	if cfg.MarginBufferPct != nil {
		usable := account.MarginAvailable.Mul(
			decimal.NewFromInt(100).Sub(*cfg.MarginBufferPct).Div(decimal.NewFromInt(100)))
		if notional.GreaterThan(usable) {
			return nil, g.reject(ctx, userID, domain.CodeRMSMargin,
				fmt.Sprintf("insufficient margin on account %s: need %s, usable %s after %s%% buffer",
					account.ID, notional, usable, cfg.MarginBufferPct))
		}
	}
	if cfg.MaxDailyLoss != nil && counters.RealizedPnL.LessThanOrEqual(cfg.MaxDailyLoss.Neg()) {
		return nil, g.reject(ctx, userID, domain.CodeRMSMaxLoss,
			fmt.Sprintf("daily loss limit tripped: realized %s, limit %s",
				counters.RealizedPnL, cfg.MaxDailyLoss))
	}

	counters.LotsToday += leg.Lots
	counters.OpenNotional = counters.OpenNotional.Add(notional)
	if err := g.store.SaveCounters(ctx, counters); err != nil {
		return nil, fmt.Errorf("rms: save counters: %w", err)
	}
	return &Reservation{gate: g, userID: userID, lots: leg.Lots, notional: notional}, nil
}

func (g *Gate) reject(ctx context.Context, userID, code, msg string) error {
	_ = g.audit.Log(ctx, userID, "rms.rejected", map[string]any{"code": code, "reason": msg})
	g.logger.Info("leg rejected", slog.String("user_id", userID), slog.String("code", code))
	return &domain.RiskViolation{Code: code, Message: msg}
}

func (g *Gate) release(ctx context.Context, userID string, lots int64, notional decimal.Decimal) error {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	day := g.TradingDay(g.now())
	counters, err := g.store.GetCounters(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("rms: load counters for release: %w", err)
	}
	counters.LotsToday -= lots
	if counters.LotsToday < 0 {
		counters.LotsToday = 0
	}
	counters.OpenNotional = counters.OpenNotional.Sub(notional)
	if counters.OpenNotional.IsNegative() {
		counters.OpenNotional = decimal.Zero
	}
	if err := g.store.SaveCounters(ctx, counters); err != nil {
		return fmt.Errorf("rms: save counters after release: %w", err)
	}
	return nil
}

// RecordPnL folds a realised PnL delta (and the notional freed by the close)
// into the day's counters, tracking the session peak for drawdown rules.
func (g *Gate) RecordPnL(ctx context.Context, userID string, realizedDelta, closedNotional decimal.Decimal) error {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	day := g.TradingDay(g.now())
	counters, err := g.store.GetCounters(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("rms: load counters for pnl: %w", err)
	}
	counters.RealizedPnL = counters.RealizedPnL.Add(realizedDelta)
	counters.OpenNotional = counters.OpenNotional.Sub(closedNotional)
	if counters.OpenNotional.IsNegative() {
		counters.OpenNotional = decimal.Zero
	}
	if counters.RealizedPnL.GreaterThan(counters.SessionPeakPnL) {
		counters.SessionPeakPnL = counters.RealizedPnL
	}
	if err := g.store.SaveCounters(ctx, counters); err != nil {
		return fmt.Errorf("rms: save counters after pnl: %w", err)
	}
	return nil
}

// lotsAlertThreshold triggers the "nearly exhausted" alert once this fraction
// of the daily lot budget is used.
var lotsAlertThreshold = decimal.NewFromFloat(0.9)

// Status assembles the read-only RMS view with advisory alerts.
func (g *Gate) Status(ctx context.Context, userID string, marginAvailable decimal.Decimal) (domain.RmsStatus, error) {
	cfg, err := g.store.GetConfig(ctx, userID)
	if err != nil {
		return domain.RmsStatus{}, fmt.Errorf("rms: load config: %w", err)
	}
	counters, err := g.store.GetCounters(ctx, userID, g.TradingDay(g.now()))
	if err != nil {
		return domain.RmsStatus{}, fmt.Errorf("rms: load counters: %w", err)
	}

	status := domain.RmsStatus{
		DayPnL:           counters.RealizedPnL,
		TotalLotsToday:   counters.LotsToday,
		NotionalExposure: counters.OpenNotional,
		AvailableMargin:  marginAvailable,
		Alerts:           []string{},
		Automations:      []string{},
	}

	if cfg.MaxDailyLots != nil {
		status.MaxDailyLots = cfg.MaxDailyLots
		remaining := *cfg.MaxDailyLots - counters.LotsToday
		if remaining < 0 {
			remaining = 0
		}
		status.LotsRemaining = &remaining

		used := decimal.NewFromInt(counters.LotsToday)
		budget := decimal.NewFromInt(*cfg.MaxDailyLots)
		if budget.IsPositive() && used.GreaterThanOrEqual(budget.Mul(lotsAlertThreshold)) {
			status.Alerts = append(status.Alerts, "Daily lot limit is nearly exhausted")
		}
	}
	if cfg.MaxDailyLoss != nil {
		status.MaxDailyLoss = cfg.MaxDailyLoss
		remaining := cfg.MaxDailyLoss.Add(counters.RealizedPnL) // pnl is negative when losing
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		status.LossRemaining = &remaining
		if counters.RealizedPnL.IsNegative() &&
			counters.RealizedPnL.Neg().GreaterThanOrEqual(cfg.MaxDailyLoss.Mul(lotsAlertThreshold)) {
			status.Alerts = append(status.Alerts, "Daily loss limit is nearly exhausted")
		}
	}
	if cfg.ExposureLimit != nil {
		status.ExposureLimit = cfg.ExposureLimit
	}
	if cfg.AutoSquareOffEnabled {
		status.Automations = append(status.Automations, "auto_square_off")
	}
	if cfg.TrailingSL != nil {
		status.Automations = append(status.Automations, "trailing_stop_loss")
	}
	if cfg.ProfitLock != nil {
		status.Automations = append(status.Automations, "profit_lock")
	}
	return status, nil
}
