package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a trade intent.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the pricing mode of a trade intent.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// TradeIntent is the normalized order request that enters the orchestrator,
// whether it came from a manual call, a strategy run or a webhook.
type TradeIntent struct {
	Symbol      string           `json:"symbol"`
	Side        OrderSide        `json:"side"`
	Lots        int64            `json:"lots"`
	LotSize     int64            `json:"lot_size"`
	OrderType   OrderType        `json:"order_type"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	Exchange    string           `json:"exchange,omitempty"`
	SymbolToken string           `json:"symbol_token,omitempty"`
	StrategyID  string           `json:"strategy_id,omitempty"`

	// Paper routes every leg of this intent to the built-in simulator
	// regardless of which broker the account is linked to.
	Paper bool `json:"paper,omitempty"`
}

// Quantity returns lots multiplied by lot size.
func (t TradeIntent) Quantity() int64 {
	return t.Lots * t.LotSize
}

// RefPrice returns the intent price, or zero when the intent is MARKET with
// no reference attached.
func (t TradeIntent) RefPrice() decimal.Decimal {
	if t.Price != nil {
		return *t.Price
	}
	return decimal.Zero
}

// RunStatus is the terminal-or-pending state of an execution run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunPartial    RunStatus = "partial"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunPartial, RunSucceeded, RunFailed, RunRolledBack:
		return true
	}
	return false
}

// ExecutionRun is one fan-out of a trade intent across a group. Once the
// status is terminal the run is immutable.
type ExecutionRun struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	GroupID       string          `json:"group_id,omitempty"`
	StrategyRunID string          `json:"strategy_run_id,omitempty"`
	Status        RunStatus       `json:"status"`
	Intent        TradeIntent     `json:"intent"`
	Payload       map[string]any  `json:"payload,omitempty"` // request snapshot + distribution + latency
	RequestedAt   time.Time       `json:"requested_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Latency       *LatencySummary `json:"latency,omitempty"`
}

// EventStatus is the per-leg lifecycle status recorded in the event store.
type EventStatus string

const (
	EventRequested           EventStatus = "requested"
	EventAccepted            EventStatus = "accepted"
	EventRejected            EventStatus = "rejected"
	EventFilled              EventStatus = "filled"
	EventCancelled           EventStatus = "cancelled"
	EventError               EventStatus = "error"
	EventCancelledBeforeSend EventStatus = "cancelled_before_send"
)

// TerminalLeg reports whether the status ends a leg's lifecycle.
func (s EventStatus) TerminalLeg() bool {
	return s != EventRequested
}

// Success reports whether the leg reached the broker and was accepted.
func (s EventStatus) Success() bool {
	return s == EventAccepted || s == EventFilled
}

// ExecutionEvent is one append-only telemetry record for a leg. Events carry
// a per-run monotonic sequence assigned by the event store.
type ExecutionEvent struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	Seq          int64          `json:"seq"`
	AccountID    string         `json:"account_id"`
	BrokerLinkID string         `json:"broker_link_id"`
	OrderID      string         `json:"order_id,omitempty"`
	Status       EventStatus    `json:"status"`
	RequestedAt  time.Time      `json:"requested_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	LatencyMs    *float64       `json:"latency_ms,omitempty"`
	Message      string         `json:"message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// LatencySummary aggregates leg latencies for a finished run.
type LatencySummary struct {
	Count     int     `json:"count"`
	AverageMs float64 `json:"average_ms"`
	MaxMs     float64 `json:"max_ms"`
	P50Ms     float64 `json:"p50_ms"`
	P95Ms     float64 `json:"p95_ms"`
}
