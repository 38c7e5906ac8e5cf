package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RmsConfig holds the per-user guardrail scalars. Nil pointers mean the rule
// is not configured and is skipped by the gate.
type RmsConfig struct {
	UserID                 string           `json:"user_id"`
	MaxLotsPerOrder        *int64           `json:"max_lots_per_order,omitempty"`
	MaxDailyLots           *int64           `json:"max_daily_lots,omitempty"`
	MaxDailyLoss           *decimal.Decimal `json:"max_daily_loss,omitempty"`
	ExposureLimit          *decimal.Decimal `json:"exposure_limit,omitempty"`
	MarginBufferPct        *decimal.Decimal `json:"margin_buffer_pct,omitempty"`
	ProfitLock             *decimal.Decimal `json:"profit_lock,omitempty"`
	TrailingSL             *decimal.Decimal `json:"trailing_sl,omitempty"`
	DrawdownLimit          *decimal.Decimal `json:"drawdown_limit,omitempty"`
	AutoSquareOffEnabled   bool             `json:"auto_square_off_enabled"`
	AutoSquareOffBufferPct *decimal.Decimal `json:"auto_square_off_buffer_pct,omitempty"`
	NotifyEmail            bool             `json:"notify_email"`
	NotifyTelegram         bool             `json:"notify_telegram"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// RmsCounters are the per-(user, trading day) running totals the gate checks
// and mutates. They are only ever touched under the gate's per-user lock.
type RmsCounters struct {
	UserID       string
	TradingDay   string // ISO date in the configured exchange timezone
	LotsToday    int64
	RealizedPnL  decimal.Decimal
	OpenNotional decimal.Decimal
	SessionPeakPnL decimal.Decimal
	UpdatedAt    time.Time
}

// RmsStatus is the read-only view returned by GET /rms/status.
type RmsStatus struct {
	DayPnL           decimal.Decimal  `json:"day_pnl"`
	TotalLotsToday   int64            `json:"total_lots_today"`
	MaxDailyLots     *int64           `json:"max_daily_lots,omitempty"`
	LotsRemaining    *int64           `json:"lots_remaining,omitempty"`
	MaxDailyLoss     *decimal.Decimal `json:"max_daily_loss,omitempty"`
	LossRemaining    *decimal.Decimal `json:"loss_remaining,omitempty"`
	NotionalExposure decimal.Decimal  `json:"notional_exposure"`
	ExposureLimit    *decimal.Decimal `json:"exposure_limit,omitempty"`
	AvailableMargin  decimal.Decimal  `json:"available_margin"`
	Alerts           []string         `json:"alerts"`
	Automations      []string         `json:"automations"`
}

// SquareOffCommand instructs the execution layer to flatten open positions.
type SquareOffCommand struct {
	UserID    string
	Rule      string // breached rule name, e.g. "max_daily_loss"
	Reason    string
	Automated bool
	Positions []Position
	IssuedAt  time.Time
}
