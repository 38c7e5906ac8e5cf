package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the broker-facing lifecycle of a dispatched order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAccepted  OrderStatus = "accepted"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
	OrderErrored   OrderStatus = "error"
)

// Order is one broker-side order produced by an execution leg.
type Order struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"account_id"`
	ExecutionRunID string           `json:"execution_run_id,omitempty"`
	StrategyID     string           `json:"strategy_id,omitempty"`
	BrokerOrderID  string           `json:"broker_order_id,omitempty"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Quantity       int64            `json:"quantity"`
	OrderType      OrderType        `json:"order_type"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	TakeProfit     *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	Status         OrderStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Trade is a realised fill attached to an order.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Position is the rolling per-(account, symbol) net position, materialised
// from trades.
type Position struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	NetQty    int64           `json:"net_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	PnL       decimal.Decimal `json:"pnl"`
	Paper     bool            `json:"paper,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Notional returns |net_qty| * avg_price.
func (p Position) Notional() decimal.Decimal {
	qty := p.NetQty
	if qty < 0 {
		qty = -qty
	}
	return p.AvgPrice.Mul(decimal.NewFromInt(qty))
}
