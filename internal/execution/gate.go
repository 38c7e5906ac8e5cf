package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/broker"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/rms"
)

var (
	_ Placer                = (*broker.Dispatcher)(nil)
	_ rms.SquareOffExecutor = (*Orchestrator)(nil)
)

// gateAdapter lifts *rms.Gate to the Gater interface.
type gateAdapter struct {
	gate *rms.Gate
}

// NewGateAdapter wraps the risk gate for use by the orchestrator.
func NewGateAdapter(g *rms.Gate) Gater {
	return gateAdapter{gate: g}
}

func (a gateAdapter) ReserveLeg(ctx context.Context, account domain.Account, intent domain.TradeIntent, leg domain.AllocationLeg, userID string) (Reservation, error) {
	res, err := a.gate.ReserveLeg(ctx, account, intent, leg, userID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a gateAdapter) RecordPnL(ctx context.Context, userID string, realizedDelta, closedNotional decimal.Decimal) error {
	return a.gate.RecordPnL(ctx, userID, realizedDelta, closedNotional)
}
