// Package broker defines the uniform adapter contract over heterogeneous
// broker APIs, the kind -> factory registry, and the dispatcher that enforces
// deadlines and silent session recovery around every adapter call.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

// Session is an authenticated broker session. Adapters return it from
// Connect/Refresh; the dispatcher persists the token on the broker link.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Metadata  map[string]string
}

// Expired reports whether the session is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return s.Token == "" || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// PlaceIntent is the normalized per-leg order request handed to an adapter.
type PlaceIntent struct {
	Symbol      string
	Exchange    string
	SymbolToken string
	Side        domain.OrderSide
	Quantity    int64
	OrderType   domain.OrderType
	Price       *decimal.Decimal
	TakeProfit  *decimal.Decimal
	StopLoss    *decimal.Decimal
	OrderTag    string
}

// PlaceResult is the standardized broker response for an order attempt.
type PlaceResult struct {
	BrokerOrderID string
	Status        domain.OrderStatus
	Message       string

	// FillPrice is set when the broker reports an immediate fill. Settlement
	// into trades and positions depends on it.
	FillPrice *decimal.Decimal

	Metadata map[string]any
}

// OrderPatch carries the modifiable fields of a resting order.
type OrderPatch struct {
	Price     *decimal.Decimal
	Quantity  *int64
	OrderType *domain.OrderType
}

// ConvertRequest moves a position between product types (e.g. intraday ->
// delivery) on brokers that support it.
type ConvertRequest struct {
	Symbol      string
	Exchange    string
	Quantity    int64
	FromProduct string
	ToProduct   string
}

// OrderFeedEvent is one lifecycle update from an adapter's async order feed.
type OrderFeedEvent struct {
	BrokerOrderID string
	Status        domain.OrderStatus
	FilledQty     int64
	AvgPrice      decimal.Decimal
	At            time.Time
}

// Adapter is the capability set every broker variant implements. Adapters
// must be safe for concurrent use across execution runs; session-level
// serialisation, where the upstream requires it, is the adapter's own
// responsibility.
type Adapter interface {
	Kind() domain.BrokerKind

	Connect(ctx context.Context, creds vault.Secrets) (Session, error)
	Refresh(ctx context.Context, sess Session, creds vault.Secrets) (Session, error)
	Logout(ctx context.Context, sess Session) error

	Place(ctx context.Context, sess Session, intent PlaceIntent) (PlaceResult, error)
	Modify(ctx context.Context, sess Session, brokerOrderID string, patch OrderPatch) error
	Cancel(ctx context.Context, sess Session, brokerOrderID string) error

	Positions(ctx context.Context, sess Session) ([]domain.BrokerPosition, error)
	Holdings(ctx context.Context, sess Session) ([]domain.Holding, error)
	Margin(ctx context.Context, sess Session) (domain.MarginSnapshot, error)
}

// PositionConverter is implemented by adapters whose upstream supports
// position conversion.
type PositionConverter interface {
	ConvertPosition(ctx context.Context, sess Session, req ConvertRequest) error
}

// OrderFeeder is implemented by adapters that expose an async order feed.
// Subscribe delivers lifecycle events until ctx is cancelled.
type OrderFeeder interface {
	SubscribeOrders(ctx context.Context, sess Session, fn func(OrderFeedEvent)) error
}

func sessionExpiredFault(msg string) error {
	return &domain.BrokerFault{Code: domain.CodeBrokerSessionExpired, Message: msg}
}

func rejectedFault(msg string) error {
	return &domain.BrokerFault{Code: domain.CodeBrokerRejected, Message: msg}
}

func transportFault(msg string) error {
	return &domain.BrokerFault{Code: domain.CodeAdapterTimeout, Message: msg, Retryable: true}
}
