package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

// paperAdapter is the built-in simulator. It is deterministic: MARKET orders
// fill immediately at the intent's reference price (or a synthetic LTP derived
// from the symbol when no price is given), LIMIT orders rest as accepted.
// State is process-local and resets on restart, which is fine for a simulator.
type paperAdapter struct {
	seq atomic.Int64

	mu        sync.Mutex
	orders    map[string]*paperOrder
	positions map[string]*domain.BrokerPosition // keyed symbol|exchange
	utilized  decimal.Decimal
}

type paperOrder struct {
	intent PlaceIntent
	status domain.OrderStatus
	fillPx decimal.Decimal
}

// paperCapital is the virtual margin a paper account starts with.
var paperCapital = decimal.NewFromInt(1_000_000)

// NewPaperAdapterFactory returns the factory for the paper trading simulator.
func NewPaperAdapterFactory() Factory {
	return func(Options) Adapter {
		return &paperAdapter{
			orders:    make(map[string]*paperOrder),
			positions: make(map[string]*domain.BrokerPosition),
		}
	}
}

var _ Adapter = (*paperAdapter)(nil)

func (p *paperAdapter) Kind() domain.BrokerKind { return domain.BrokerPaper }

func (p *paperAdapter) Connect(_ context.Context, _ vault.Secrets) (Session, error) {
	return Session{
		Token:     fmt.Sprintf("paper-session-%d", time.Now().UnixNano()),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *paperAdapter) Refresh(ctx context.Context, _ Session, creds vault.Secrets) (Session, error) {
	return p.Connect(ctx, creds)
}

func (p *paperAdapter) Logout(context.Context, Session) error { return nil }

func (p *paperAdapter) Place(_ context.Context, _ Session, intent PlaceIntent) (PlaceResult, error) {
	if intent.Quantity <= 0 {
		return PlaceResult{}, rejectedFault("quantity must be positive")
	}

	id := fmt.Sprintf("PAPER-ORD-%06d", p.seq.Add(1))
	px := paperReferencePrice(intent)

	p.mu.Lock()
	defer p.mu.Unlock()

	ord := &paperOrder{intent: intent, status: domain.OrderAccepted}
	result := PlaceResult{BrokerOrderID: id}
	if intent.OrderType == domain.OrderMarket {
		ord.status = domain.OrderFilled
		ord.fillPx = px
		p.applyFill(intent, px)
		result.FillPrice = &px
	}
	p.orders[id] = ord

	result.Status = ord.status
	result.Message = "paper order " + string(ord.status)
	result.Metadata = map[string]any{"fill_price": px.String()}
	return result, nil
}

func (p *paperAdapter) Modify(_ context.Context, _ Session, brokerOrderID string, patch OrderPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ord, ok := p.orders[brokerOrderID]
	if !ok {
		return rejectedFault("unknown order " + brokerOrderID)
	}
	if ord.status != domain.OrderAccepted {
		return rejectedFault("order " + brokerOrderID + " is not open")
	}
	if patch.Price != nil {
		ord.intent.Price = patch.Price
	}
	if patch.Quantity != nil {
		ord.intent.Quantity = *patch.Quantity
	}
	if patch.OrderType != nil {
		ord.intent.OrderType = *patch.OrderType
	}
	return nil
}

func (p *paperAdapter) Cancel(_ context.Context, _ Session, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ord, ok := p.orders[brokerOrderID]
	if !ok {
		return rejectedFault("unknown order " + brokerOrderID)
	}
	if ord.status != domain.OrderAccepted {
		return rejectedFault("order " + brokerOrderID + " is not open")
	}
	ord.status = domain.OrderCancelled
	return nil
}

func (p *paperAdapter) Positions(context.Context, Session) ([]domain.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *paperAdapter) Holdings(context.Context, Session) ([]domain.Holding, error) {
	return []domain.Holding{}, nil
}

func (p *paperAdapter) Margin(context.Context, Session) (domain.MarginSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.MarginSnapshot{
		Available: paperCapital.Sub(p.utilized),
		Utilized:  p.utilized,
		Currency:  "INR",
	}, nil
}

// applyFill nets the fill into the simulated position book. Caller holds mu.
func (p *paperAdapter) applyFill(intent PlaceIntent, px decimal.Decimal) {
	key := intent.Symbol + "|" + intent.Exchange
	pos, ok := p.positions[key]
	if !ok {
		pos = &domain.BrokerPosition{Symbol: intent.Symbol, Exchange: intent.Exchange, Product: "INTRADAY"}
		p.positions[key] = pos
	}

	qty := intent.Quantity
	if intent.Side == domain.SideSell {
		qty = -qty
	}
	newQty := pos.NetQty + qty
	if pos.NetQty == 0 || (pos.NetQty > 0) == (qty > 0) {
		// Adding to (or opening) a position: volume-weighted average price.
		oldAbs := decimal.NewFromInt(abs64(pos.NetQty))
		addAbs := decimal.NewFromInt(abs64(qty))
		total := oldAbs.Add(addAbs)
		pos.AvgPrice = pos.AvgPrice.Mul(oldAbs).Add(px.Mul(addAbs)).Div(total)
	} else {
		// Reducing, closing or flipping: realise PnL on the closed quantity.
		closed := abs64(qty)
		if closed > abs64(pos.NetQty) {
			closed = abs64(pos.NetQty)
		}
		closedSigned := closed
		if pos.NetQty < 0 {
			closedSigned = -closed
		}
		pos.PnL = pos.PnL.Add(px.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(closedSigned)))
		switch {
		case newQty == 0:
			pos.AvgPrice = decimal.Zero
		case (newQty > 0) != (pos.NetQty > 0):
			// Flipped through zero: the residual opens at the fill price.
			pos.AvgPrice = px
		}
		// A partial close keeps the average price of the remainder.
	}
	pos.NetQty = newQty

	p.utilized = p.utilized.Add(px.Mul(decimal.NewFromInt(abs64(qty))))
	if p.utilized.GreaterThan(paperCapital) {
		p.utilized = paperCapital
	}
}

// paperReferencePrice picks the fill price: the intent's limit price when set,
// otherwise a stable synthetic LTP in [100, 1099] derived from the symbol so
// repeated runs see the same quote.
func paperReferencePrice(intent PlaceIntent) decimal.Decimal {
	if intent.Price != nil && intent.Price.IsPositive() {
		return *intent.Price
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(intent.Symbol))
	return decimal.NewFromInt(int64(100 + h.Sum32()%1000))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
