// Package execution drives the fan-out of one trade intent across an
// execution group: plan the allocation, gate every leg through RMS, dispatch
// per the group's mode, and finalise the run with per-leg telemetry.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Mohith0505/NextGenAlgo/internal/allocation"
	"github.com/Mohith0505/NextGenAlgo/internal/analytics"
	"github.com/Mohith0505/NextGenAlgo/internal/broker"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

const (
	// maxParallelLegs bounds the dispatch worker pool in parallel mode.
	maxParallelLegs = 16

	parallelRunDeadline  = 30 * time.Second
	syncRunDeadline      = 30 * time.Second
	staggeredRunDeadline = 60 * time.Second
)

// Placer is the slice of the broker dispatcher the orchestrator needs.
type Placer interface {
	Place(ctx context.Context, link domain.BrokerLink, intent broker.PlaceIntent) (broker.PlaceResult, error)
	Cancel(ctx context.Context, link domain.BrokerLink, brokerOrderID string) error
}

// Gater reserves RMS budget per leg and absorbs realised PnL from fills.
// Implemented by *rms.Gate.
type Gater interface {
	ReserveLeg(ctx context.Context, account domain.Account, intent domain.TradeIntent, leg domain.AllocationLeg, userID string) (Reservation, error)
	RecordPnL(ctx context.Context, userID string, realizedDelta, closedNotional decimal.Decimal) error
}

// Reservation is the releasable budget held for one approved leg.
type Reservation interface {
	Release(ctx context.Context) error
}

// EventSink receives every appended execution event, for live streaming.
// Implementations must not block.
type EventSink interface {
	PublishRunEvent(e domain.ExecutionEvent)
}

// Orchestrator executes trade intents across groups.
type Orchestrator struct {
	planner   *allocation.Planner
	gate      Gater
	placer    Placer
	groups    domain.GroupStore
	accounts  domain.AccountStore
	links     domain.BrokerLinkStore
	runs      domain.RunStore
	events    domain.EventStore
	orders    domain.OrderStore
	trades    domain.TradeStore
	positions domain.PositionStore
	sink      EventSink
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator wires an Orchestrator. sink may be nil.
func NewOrchestrator(
	planner *allocation.Planner,
	gate Gater,
	placer Placer,
	groups domain.GroupStore,
	accounts domain.AccountStore,
	links domain.BrokerLinkStore,
	runs domain.RunStore,
	events domain.EventStore,
	orders domain.OrderStore,
	trades domain.TradeStore,
	positions domain.PositionStore,
	sink EventSink,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		gate:      gate,
		placer:    placer,
		groups:    groups,
		accounts:  accounts,
		links:     links,
		runs:      runs,
		events:    events,
		orders:    orders,
		trades:    trades,
		positions: positions,
		sink:      sink,
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// legState carries one leg through the pipeline.
type legState struct {
	leg         domain.AllocationLeg
	account     domain.Account
	link        domain.BrokerLink
	reservation Reservation

	status        domain.EventStatus
	orderID       string
	brokerOrderID string
	message       string
	requestedAt   time.Time
	completedAt   time.Time
	latencyMs     *float64
}

// Execute fans the intent out across the group and returns the finalised run.
// The returned run is terminal unless persistence itself failed.
func (o *Orchestrator) Execute(ctx context.Context, userID, groupID, strategyRunID string, intent domain.TradeIntent) (domain.ExecutionRun, error) {
	group, err := o.groups.GetByID(ctx, userID, groupID)
	if err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("execution: load group %s: %w", groupID, err)
	}
	mappings, err := o.groups.ListMappings(ctx, groupID)
	if err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("execution: load mappings: %w", err)
	}

	run := domain.ExecutionRun{
		ID:            uuid.New().String(),
		UserID:        userID,
		GroupID:       groupID,
		StrategyRunID: strategyRunID,
		Status:        domain.RunPending,
		Intent:        intent,
		Payload: map[string]any{
			"group_name": group.Name,
			"mode":       string(group.Mode),
		},
		RequestedAt: o.now(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("execution: create run: %w", err)
	}

	states, planErr := o.prepare(ctx, userID, intent, mappings)
	if planErr != nil {
		return o.finaliseWith(ctx, run, states, planErr, false)
	}

	deadline := runDeadline(group.Mode)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	rolledBack := false
	switch group.Mode {
	case domain.ModeSync:
		rolledBack = o.dispatchSync(runCtx, run, group, intent, states)
	case domain.ModeStaggered:
		o.dispatchStaggered(runCtx, run, intent, states, group.StaggerDelayMs)
	default:
		o.dispatchParallel(runCtx, run, intent, states)
	}

	// Finalise against the parent context: the run deadline bounds dispatch,
	// not bookkeeping.
	run.Payload["rolled_back"] = rolledBack
	return o.finaliseWith(ctx, run, states, nil, rolledBack)
}

// ExecuteDirect places a manual single-account order through the same RMS
// gate as group runs. The run carries exactly one leg.
func (o *Orchestrator) ExecuteDirect(ctx context.Context, userID, accountID string, intent domain.TradeIntent) (domain.ExecutionRun, error) {
	account, err := o.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("execution: load account %s: %w", accountID, err)
	}

	run := domain.ExecutionRun{
		ID:     uuid.New().String(),
		UserID: userID,
		Status: domain.RunPending,
		Intent: intent,
		Payload: map[string]any{
			"manual":     true,
			"account_id": accountID,
		},
		RequestedAt: o.now(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("execution: create run: %w", err)
	}

	leg := domain.AllocationLeg{
		AccountID:    accountID,
		BrokerLinkID: account.BrokerLinkID,
		Lots:         intent.Lots,
		Quantity:     intent.Lots * intent.LotSize,
		Policy:       domain.PolicyFixed,
		FixedLots:    intent.Lots,
	}
	st := &legState{leg: leg, account: account, status: domain.EventRequested}

	link, err := o.links.GetByID(ctx, account.BrokerLinkID)
	if err != nil {
		st.status = domain.EventError
		st.message = fmt.Sprintf("broker link %s unavailable: %v", account.BrokerLinkID, err)
		return o.finaliseWith(ctx, run, []*legState{st}, nil, false)
	}
	if intent.Paper {
		link.Kind = domain.BrokerPaper
	}
	st.link = link

	res, err := o.gate.ReserveLeg(ctx, account, intent, leg, userID)
	if err != nil {
		st.status = domain.EventRejected
		st.message = err.Error()
		return o.finaliseWith(ctx, run, []*legState{st}, nil, false)
	}
	st.reservation = res

	runCtx, cancel := context.WithTimeout(ctx, parallelRunDeadline)
	defer cancel()
	o.dispatchLeg(runCtx, run, intent, st)

	return o.finaliseWith(ctx, run, []*legState{st}, nil, false)
}

func runDeadline(mode domain.ExecutionMode) time.Duration {
	switch mode {
	case domain.ModeStaggered:
		return staggeredRunDeadline
	case domain.ModeSync:
		return syncRunDeadline
	default:
		return parallelRunDeadline
	}
}

// prepare plans the allocation, resolves accounts and links, and gates every
// leg. Gated-out legs stay in the slice with a rejected status so the event
// log shows the whole picture.
func (o *Orchestrator) prepare(ctx context.Context, userID string, intent domain.TradeIntent, mappings []domain.GroupAccountMapping) ([]*legState, error) {
	linkByAccount := make(map[string]string, len(mappings))
	accounts := make(map[string]domain.Account, len(mappings))
	for _, m := range mappings {
		acct, err := o.accounts.GetByID(ctx, m.AccountID)
		if err != nil {
			return nil, fmt.Errorf("execution: load account %s: %w", m.AccountID, err)
		}
		accounts[m.AccountID] = acct
		linkByAccount[m.AccountID] = acct.BrokerLinkID
	}

	alloc, err := o.planner.Plan(mappings, linkByAccount, intent.Lots, intent.LotSize)
	if err != nil {
		return nil, err
	}

	states := make([]*legState, 0, len(alloc.Legs))
	for _, leg := range alloc.Legs {
		st := &legState{leg: leg, account: accounts[leg.AccountID], status: domain.EventRequested}

		link, err := o.links.GetByID(ctx, leg.BrokerLinkID)
		if err != nil {
			st.status = domain.EventError
			st.message = fmt.Sprintf("broker link %s unavailable: %v", leg.BrokerLinkID, err)
			states = append(states, st)
			continue
		}
		// Paper intents dispatch through the simulator whatever the link's
		// real broker is. The dispatcher routes on the link kind.
		if intent.Paper {
			link.Kind = domain.BrokerPaper
		}
		st.link = link

		res, err := o.gate.ReserveLeg(ctx, st.account, intent, leg, userID)
		if err != nil {
			st.status = domain.EventRejected
			st.message = err.Error()
			states = append(states, st)
			continue
		}
		st.reservation = res
		states = append(states, st)
	}
	return states, nil
}

// dispatchParallel releases approved legs through a bounded worker pool.
func (o *Orchestrator) dispatchParallel(ctx context.Context, run domain.ExecutionRun, intent domain.TradeIntent, states []*legState) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLegs)
	for _, st := range states {
		if st.status != domain.EventRequested {
			continue
		}
		st := st
		g.Go(func() error {
			o.dispatchLeg(gctx, run, intent, st)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatchSync sends legs one at a time in mapping order. The first failure
// aborts the remainder; untouched legs are marked cancelled_before_send.
// With rollback enabled, already-successful legs are cancelled best-effort.
func (o *Orchestrator) dispatchSync(ctx context.Context, run domain.ExecutionRun, group domain.ExecutionGroup, intent domain.TradeIntent, states []*legState) bool {
	aborted := false
	anySuccess := false
	for _, st := range states {
		if st.status != domain.EventRequested {
			continue
		}
		if aborted || ctx.Err() != nil {
			o.cancelBeforeSend(ctx, st)
			continue
		}
		o.dispatchLeg(ctx, run, intent, st)
		if st.status.Success() {
			anySuccess = true
		} else {
			aborted = true
		}
	}

	if aborted && anySuccess && group.RollbackOnPartial {
		o.rollback(ctx, run, states)
		return true
	}
	return false
}

// dispatchStaggered releases legs in order with the configured delay between
// sends. A failed leg does not stop the train; cancellation does.
func (o *Orchestrator) dispatchStaggered(ctx context.Context, run domain.ExecutionRun, intent domain.TradeIntent, states []*legState, delayMs int64) {
	delay := time.Duration(delayMs) * time.Millisecond
	first := true
	for _, st := range states {
		if st.status != domain.EventRequested {
			continue
		}
		if !first && delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
		first = false
		if ctx.Err() != nil {
			o.cancelBeforeSend(ctx, st)
			continue
		}
		o.dispatchLeg(ctx, run, intent, st)
	}
}

// dispatchLeg sends one leg to its broker and settles its terminal status.
func (o *Orchestrator) dispatchLeg(ctx context.Context, run domain.ExecutionRun, intent domain.TradeIntent, st *legState) {
	if ctx.Err() != nil {
		o.cancelBeforeSend(ctx, st)
		return
	}

	st.requestedAt = o.now()
	result, err := o.placer.Place(ctx, st.link, broker.PlaceIntent{
		Symbol:      intent.Symbol,
		Exchange:    intent.Exchange,
		SymbolToken: intent.SymbolToken,
		Side:        intent.Side,
		Quantity:    st.leg.Quantity,
		OrderType:   intent.OrderType,
		Price:       intent.Price,
		TakeProfit:  intent.TakeProfit,
		StopLoss:    intent.StopLoss,
		OrderTag:    run.ID,
	})
	st.completedAt = o.now()
	latency := float64(st.completedAt.Sub(st.requestedAt).Microseconds()) / 1000
	st.latencyMs = &latency

	switch {
	case err == nil:
		st.status = domain.EventAccepted
		if result.Status == domain.OrderFilled {
			st.status = domain.EventFilled
		}
		st.message = result.Message
		st.brokerOrderID = result.BrokerOrderID
		st.orderID = o.recordOrder(ctx, run, intent, st, result)
		if st.status == domain.EventFilled {
			o.settleFill(ctx, run, intent, st, result)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		st.status = domain.EventCancelled
		st.message = "dispatch cancelled: " + err.Error()
		o.releaseReservation(ctx, st)
	default:
		if _, ok := domain.AsBrokerFault(err); ok && !domain.SessionExpired(err) {
			st.status = domain.EventRejected
		} else {
			st.status = domain.EventError
		}
		st.message = err.Error()
		o.releaseReservation(ctx, st)
	}
}

func (o *Orchestrator) cancelBeforeSend(ctx context.Context, st *legState) {
	st.status = domain.EventCancelledBeforeSend
	st.message = "run aborted before dispatch"
	o.releaseReservation(ctx, st)
}

func (o *Orchestrator) releaseReservation(ctx context.Context, st *legState) {
	if st.reservation == nil {
		return
	}
	// Release must survive a dead run context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := st.reservation.Release(rctx); err != nil {
		o.logger.Warn("reservation release failed",
			slog.String("account_id", st.leg.AccountID), slog.Any("error", err))
	}
}

// rollback cancels the broker orders of successful legs, best effort, bounded
// by the remaining run deadline.
func (o *Orchestrator) rollback(ctx context.Context, run domain.ExecutionRun, states []*legState) {
	for _, st := range states {
		if !st.status.Success() || st.orderID == "" {
			continue
		}
		if err := o.placer.Cancel(ctx, st.link, st.brokerOrderID); err != nil {
			o.logger.Warn("rollback cancel failed",
				slog.String("run_id", run.ID),
				slog.String("order_id", st.orderID),
				slog.Any("error", err))
			continue
		}
		st.status = domain.EventCancelled
		st.message = "rolled back after sync abort"
		o.releaseReservation(ctx, st)
		_ = o.orders.UpdateStatus(ctx, st.orderID, domain.OrderCancelled)
	}
}

// recordOrder persists the broker order for a successful leg and returns the
// local order id.
func (o *Orchestrator) recordOrder(ctx context.Context, run domain.ExecutionRun, intent domain.TradeIntent, st *legState, result broker.PlaceResult) string {
	order := domain.Order{
		ID:             uuid.New().String(),
		AccountID:      st.leg.AccountID,
		ExecutionRunID: run.ID,
		StrategyID:     intent.StrategyID,
		BrokerOrderID:  result.BrokerOrderID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       st.leg.Quantity,
		OrderType:      intent.OrderType,
		Price:          intent.Price,
		TakeProfit:     intent.TakeProfit,
		StopLoss:       intent.StopLoss,
		Status:         result.Status,
		CreatedAt:      o.now(),
	}
	if err := o.orders.Create(ctx, order); err != nil {
		o.logger.Error("persist order failed",
			slog.String("run_id", run.ID), slog.Any("error", err))
	}
	return order.ID
}

// settleFill projects an immediate fill into the trade ledger, the rolling
// position and the day's RMS counters. Settlement failures are logged, not
// propagated: the broker already holds the order either way.
func (o *Orchestrator) settleFill(ctx context.Context, run domain.ExecutionRun, intent domain.TradeIntent, st *legState, result broker.PlaceResult) {
	px := result.FillPrice
	if px == nil {
		px = intent.Price
	}
	if px == nil {
		o.logger.Warn("fill reported without a price, settlement skipped",
			slog.String("run_id", run.ID), slog.String("account_id", st.leg.AccountID))
		return
	}

	qty := st.leg.Quantity
	if intent.Side == domain.SideSell {
		qty = -qty
	}

	pos, err := o.positions.Get(ctx, st.leg.AccountID, intent.Symbol)
	if errors.Is(err, domain.ErrNotFound) {
		pos = domain.Position{
			ID:        uuid.New().String(),
			AccountID: st.leg.AccountID,
			Symbol:    intent.Symbol,
		}
	} else if err != nil {
		o.logger.Error("load position for settlement failed",
			slog.String("account_id", st.leg.AccountID), slog.Any("error", err))
		return
	}

	realized, closedNotional := netFill(&pos, qty, *px)
	pos.Paper = intent.Paper
	pos.UpdatedAt = o.now()

	trade := domain.Trade{
		ID:          uuid.New().String(),
		OrderID:     st.orderID,
		AccountID:   st.leg.AccountID,
		Symbol:      intent.Symbol,
		Quantity:    qty,
		Price:       *px,
		RealizedPnL: realized,
		Timestamp:   o.now(),
	}
	if err := o.trades.Insert(ctx, trade); err != nil {
		o.logger.Error("persist trade failed",
			slog.String("run_id", run.ID), slog.Any("error", err))
	}
	if err := o.positions.Upsert(ctx, pos); err != nil {
		o.logger.Error("persist position failed",
			slog.String("account_id", st.leg.AccountID), slog.Any("error", err))
	}
	if !realized.IsZero() || !closedNotional.IsZero() {
		if err := o.gate.RecordPnL(ctx, run.UserID, realized, closedNotional); err != nil {
			o.logger.Error("record pnl failed",
				slog.String("user_id", run.UserID), slog.Any("error", err))
		}
	}
}

// netFill folds a signed fill quantity into pos at price px and returns the
// realised PnL delta plus the entry notional freed by any closed quantity.
func netFill(pos *domain.Position, qty int64, px decimal.Decimal) (realized, closedNotional decimal.Decimal) {
	newQty := pos.NetQty + qty
	if pos.NetQty == 0 || (pos.NetQty > 0) == (qty > 0) {
		oldAbs := decimal.NewFromInt(absQty(pos.NetQty))
		addAbs := decimal.NewFromInt(absQty(qty))
		pos.AvgPrice = pos.AvgPrice.Mul(oldAbs).Add(px.Mul(addAbs)).Div(oldAbs.Add(addAbs))
		pos.NetQty = newQty
		return decimal.Zero, decimal.Zero
	}

	closed := absQty(qty)
	if closed > absQty(pos.NetQty) {
		closed = absQty(pos.NetQty)
	}
	closedSigned := closed
	if pos.NetQty < 0 {
		closedSigned = -closed
	}
	realized = px.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(closedSigned))
	closedNotional = pos.AvgPrice.Mul(decimal.NewFromInt(closed))
	pos.PnL = pos.PnL.Add(realized)
	switch {
	case newQty == 0:
		pos.AvgPrice = decimal.Zero
	case (newQty > 0) != (pos.NetQty > 0):
		// Flipped through zero: the remainder is a fresh entry at px.
		pos.AvgPrice = px
	}
	pos.NetQty = newQty
	return realized, closedNotional
}

func absQty(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// finaliseWith appends the per-leg terminal events, aggregates latencies and
// settles the run status. planErr marks a run that never got past planning.
func (o *Orchestrator) finaliseWith(ctx context.Context, run domain.ExecutionRun, states []*legState, planErr error, rolledBack bool) (domain.ExecutionRun, error) {
	now := o.now()
	var latencies []float64
	succeeded, terminal := 0, 0

	if len(states) > 0 {
		legs := make([]domain.AllocationLeg, 0, len(states))
		for _, st := range states {
			legs = append(legs, st.leg)
		}
		run.Payload["allocation"] = legs
	}

	for _, st := range states {
		// A dispatched leg keeps its own broker round-trip timestamps so
		// latency_ms is exactly completed_at minus requested_at. Legs that
		// never reached a broker fall back to the run's bounds.
		requested := st.requestedAt
		if requested.IsZero() {
			requested = run.RequestedAt
		}
		completed := st.completedAt
		if completed.IsZero() {
			completed = now
		}
		event := domain.ExecutionEvent{
			ID:           uuid.New().String(),
			RunID:        run.ID,
			AccountID:    st.leg.AccountID,
			BrokerLinkID: st.leg.BrokerLinkID,
			OrderID:      st.orderID,
			Status:       st.status,
			RequestedAt:  requested,
			CompletedAt:  &completed,
			LatencyMs:    st.latencyMs,
			Message:      st.message,
			Metadata: map[string]any{
				"lots":     st.leg.Lots,
				"quantity": st.leg.Quantity,
				"policy":   string(st.leg.Policy),
			},
		}
		appended, err := o.events.Append(ctx, event)
		if err != nil {
			o.logger.Error("append event failed", slog.String("run_id", run.ID), slog.Any("error", err))
		} else if o.sink != nil {
			o.sink.PublishRunEvent(appended)
		}

		terminal++
		if st.status.Success() {
			succeeded++
		}
		if st.latencyMs != nil {
			latencies = append(latencies, *st.latencyMs)
		}
	}

	run.Status = runStatus(planErr, succeeded, terminal, rolledBack)
	run.CompletedAt = &now
	if len(latencies) > 0 {
		run.Latency = &domain.LatencySummary{
			Count:     len(latencies),
			AverageMs: analytics.Mean(latencies),
			MaxMs:     analytics.Max(latencies),
			P50Ms:     analytics.Percentile(latencies, 50),
			P95Ms:     analytics.Percentile(latencies, 95),
		}
	}
	if planErr != nil {
		run.Payload["error"] = planErr.Error()
	}

	if err := o.runs.Update(ctx, run); err != nil {
		return run, fmt.Errorf("execution: finalise run %s: %w", run.ID, err)
	}
	o.logger.Info("run finalised",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("legs", terminal),
		slog.Int("succeeded", succeeded))
	return run, planErr
}

func runStatus(planErr error, succeeded, terminal int, rolledBack bool) domain.RunStatus {
	switch {
	case planErr != nil || terminal == 0:
		return domain.RunFailed
	case rolledBack:
		return domain.RunRolledBack
	case succeeded == terminal:
		return domain.RunSucceeded
	case succeeded == 0:
		return domain.RunFailed
	default:
		return domain.RunPartial
	}
}

// SquareOff flattens the given positions by dispatching opposite MARKET
// orders through each position's account. Square-off orders bypass the gate:
// they reduce risk, never add it.
func (o *Orchestrator) SquareOff(ctx context.Context, cmd domain.SquareOffCommand) error {
	var firstErr error
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLegs)
	for _, pos := range cmd.Positions {
		pos := pos
		if pos.NetQty == 0 {
			continue
		}
		g.Go(func() error {
			if err := o.squareOffPosition(gctx, cmd.UserID, pos); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

func (o *Orchestrator) squareOffPosition(ctx context.Context, userID string, pos domain.Position) error {
	acct, err := o.accounts.GetByID(ctx, pos.AccountID)
	if err != nil {
		return fmt.Errorf("execution: square off account %s: %w", pos.AccountID, err)
	}
	link, err := o.links.GetByID(ctx, acct.BrokerLinkID)
	if err != nil {
		return fmt.Errorf("execution: square off link for %s: %w", pos.AccountID, err)
	}
	// A position opened by the simulator is flattened by the simulator.
	if pos.Paper {
		link.Kind = domain.BrokerPaper
	}

	side := domain.SideSell
	qty := pos.NetQty
	if qty < 0 {
		side = domain.SideBuy
		qty = -qty
	}
	result, err := o.placer.Place(ctx, link, broker.PlaceIntent{
		Symbol:    pos.Symbol,
		Side:      side,
		Quantity:  qty,
		OrderType: domain.OrderMarket,
		OrderTag:  "rms-square-off",
	})
	if err != nil {
		return fmt.Errorf("execution: square off %s on %s: %w", pos.Symbol, pos.AccountID, err)
	}

	order := domain.Order{
		ID:            uuid.New().String(),
		AccountID:     pos.AccountID,
		BrokerOrderID: result.BrokerOrderID,
		Symbol:        pos.Symbol,
		Side:          side,
		Quantity:      qty,
		OrderType:     domain.OrderMarket,
		Status:        result.Status,
		CreatedAt:     o.now(),
	}
	if err := o.orders.Create(ctx, order); err != nil {
		o.logger.Error("persist square-off order failed",
			slog.String("account_id", pos.AccountID), slog.Any("error", err))
	}

	if result.Status == domain.OrderFilled && result.FillPrice != nil {
		closeQty := -pos.NetQty
		realized, closedNotional := netFill(&pos, closeQty, *result.FillPrice)
		pos.UpdatedAt = o.now()

		trade := domain.Trade{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			AccountID:   pos.AccountID,
			Symbol:      pos.Symbol,
			Quantity:    closeQty,
			Price:       *result.FillPrice,
			RealizedPnL: realized,
			Timestamp:   o.now(),
		}
		if err := o.trades.Insert(ctx, trade); err != nil {
			o.logger.Error("persist square-off trade failed",
				slog.String("account_id", pos.AccountID), slog.Any("error", err))
		}
		if err := o.positions.Upsert(ctx, pos); err != nil {
			o.logger.Error("persist square-off position failed",
				slog.String("account_id", pos.AccountID), slog.Any("error", err))
		}
		if err := o.gate.RecordPnL(ctx, userID, realized, closedNotional); err != nil {
			o.logger.Error("record square-off pnl failed",
				slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}
