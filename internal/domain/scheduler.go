package domain

import "time"

// ScheduledJob fires a strategy run on a cron cadence. Missed fires during
// downtime are not replayed.
type ScheduledJob struct {
	ID          string
	UserID      string
	StrategyID  string
	Name        string
	CronExpr    string
	Enabled     bool
	Context     map[string]any
	LastFiredAt *time.Time
	CreatedAt   time.Time
}

// WebhookConnector routes authenticated external signals into a strategy.
// Token is the sole authentication material; comparisons must be
// constant-time.
type WebhookConnector struct {
	ID         string
	UserID     string
	StrategyID string
	Token      string
	// Transform maps inbound payload fields onto TradeIntent fields, e.g.
	// {"symbol": "ticker", "side": "action"}. Empty means identity mapping.
	Transform map[string]string
	Enabled   bool
	CreatedAt time.Time
}
