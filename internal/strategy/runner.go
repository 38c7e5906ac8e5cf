// Package strategy manages trading strategies and drives their runs through
// the execution orchestrator. Backtest, paper and live share one code path;
// only the broker side differs.
package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

const (
	// errorWindow and maxFailuresInWindow stop a strategy that keeps failing.
	errorWindow         = 15 * time.Minute
	maxFailuresInWindow = 3

	backtestBars = 32
)

// Executor hands a trade intent to the execution orchestrator.
type Executor interface {
	Execute(ctx context.Context, userID, groupID, strategyRunID string, intent domain.TradeIntent) (domain.ExecutionRun, error)
}

// Runner executes strategy runs.
type Runner struct {
	store    domain.StrategyStore
	runs     domain.RunStore
	events   domain.EventStore
	orders   domain.OrderStore
	executor Executor
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner wires a Runner.
func NewRunner(store domain.StrategyStore, runs domain.RunStore, events domain.EventStore,
	orders domain.OrderStore, executor Executor, logger *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		runs:     runs,
		events:   events,
		orders:   orders,
		executor: executor,
		logger:   logger.With(slog.String("component", "strategy_runner")),
		now:      time.Now,
	}
}

// Start creates and executes a run for the strategy in the given mode.
func (r *Runner) Start(ctx context.Context, strat domain.Strategy, mode domain.StrategyMode) (domain.StrategyRun, error) {
	return r.StartWithID(ctx, strat, mode, uuid.New().String())
}

// StartWithID is Start with a caller-chosen run id, used by the webhook
// ingress so duplicate deliveries can point at the original run. The failure
// window is checked first: a strategy that failed too often recently is
// stopped instead of run again.
func (r *Runner) StartWithID(ctx context.Context, strat domain.Strategy, mode domain.StrategyMode, runID string) (domain.StrategyRun, error) {
	if strat.Status != domain.StrategyActive {
		return domain.StrategyRun{}, &domain.RiskViolation{
			Code:    domain.CodeConflict,
			Message: fmt.Sprintf("strategy %s is not active", strat.ID),
		}
	}

	failures, err := r.store.CountRecentFailures(ctx, strat.ID, errorWindow)
	if err != nil {
		return domain.StrategyRun{}, fmt.Errorf("strategy: count failures: %w", err)
	}
	if failures >= maxFailuresInWindow {
		strat.Status = domain.StrategyStopped
		if err := r.store.Update(ctx, strat); err != nil {
			return domain.StrategyRun{}, fmt.Errorf("strategy: stop after failures: %w", err)
		}
		r.logger.Warn("strategy stopped by error window",
			slog.String("strategy_id", strat.ID), slog.Int64("failures", failures))
		return domain.StrategyRun{}, &domain.RiskViolation{
			Code:    domain.CodeConflict,
			Message: fmt.Sprintf("strategy stopped: %d failures within %s", failures, errorWindow),
		}
	}

	run := domain.StrategyRun{
		ID:         runID,
		StrategyID: strat.ID,
		UserID:     strat.UserID,
		Mode:       mode,
		Status:     domain.StrategyRunRunning,
		StartedAt:  r.now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return domain.StrategyRun{}, fmt.Errorf("strategy: create run: %w", err)
	}
	r.log(ctx, run, domain.LogInfo, fmt.Sprintf("run started in %s mode", mode), nil)

	finished, runErr := r.execute(ctx, strat, run)
	now := r.now()
	finished.FinishedAt = &now
	if runErr != nil {
		finished.Status = domain.StrategyRunFailed
		r.log(ctx, finished, domain.LogError, runErr.Error(), nil)
	} else if !finished.Status.Terminal() {
		finished.Status = domain.StrategyRunSucceeded
	}
	if err := r.store.UpdateRun(ctx, finished); err != nil {
		return finished, fmt.Errorf("strategy: finalise run: %w", err)
	}
	return finished, runErr
}

// Stop marks a running strategy run as stopped.
func (r *Runner) Stop(ctx context.Context, runID string) (domain.StrategyRun, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return domain.StrategyRun{}, fmt.Errorf("strategy: load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return run, &domain.RiskViolation{Code: domain.CodeConflict, Message: "run already finished"}
	}
	run.Status = domain.StrategyRunStopped
	now := r.now()
	run.FinishedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("strategy: stop run: %w", err)
	}
	r.log(ctx, run, domain.LogInfo, "run stopped", nil)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, strat domain.Strategy, run domain.StrategyRun) (domain.StrategyRun, error) {
	intent, groupID, err := intentFromParams(strat)
	if err != nil {
		return run, err
	}

	if run.Mode == domain.ModeBacktest {
		return r.backtest(ctx, run, intent)
	}

	// Paper runs go through the full pipeline but every leg is rebound to
	// the simulator, so no real broker ever sees them.
	intent.Paper = run.Mode == domain.ModePaper

	execRun, err := r.executor.Execute(ctx, strat.UserID, groupID, run.ID, intent)
	if execRun.ID != "" {
		run.ExecutionRunIDs = append(run.ExecutionRunIDs, execRun.ID)
	}
	if err != nil {
		return run, fmt.Errorf("strategy: execute: %w", err)
	}

	orders, err := r.orders.ListByRun(ctx, execRun.ID)
	if err != nil {
		return run, fmt.Errorf("strategy: list orders: %w", err)
	}
	avgLatency := 0.0
	if execRun.Latency != nil {
		avgLatency = execRun.Latency.AverageMs
	}
	run.ResultMetrics = resultMetrics(decimal.Zero, int64(len(orders)), intent.Lots, avgLatency, run.ExecutionRunIDs)
	r.log(ctx, run, domain.LogInfo,
		fmt.Sprintf("execution run %s finished %s", execRun.ID, execRun.Status),
		map[string]any{"orders": len(orders)})

	if execRun.Status == domain.RunFailed {
		return run, fmt.Errorf("strategy: execution run %s failed", execRun.ID)
	}
	return run, nil
}

// backtest replays a deterministic synthetic price walk: an entry at the
// seeded reference price and an exit after a fixed number of bars. No broker
// is touched; the telemetry events are tagged simulated.
func (r *Runner) backtest(ctx context.Context, run domain.StrategyRun, intent domain.TradeIntent) (domain.StrategyRun, error) {
	entry := seedPrice(intent.Symbol)
	exit := entry
	for i := 0; i < backtestBars; i++ {
		exit = nextBar(intent.Symbol, i, exit)
	}

	qty := decimal.NewFromInt(intent.Quantity())
	pnl := exit.Sub(entry).Mul(qty)
	if intent.Side == domain.SideSell {
		pnl = pnl.Neg()
	}

	execRun := domain.ExecutionRun{
		ID:            uuid.New().String(),
		UserID:        run.UserID,
		StrategyRunID: run.ID,
		Status:        domain.RunPending,
		Intent:        intent,
		Payload:       map[string]any{"mode": "backtest"},
		RequestedAt:   r.now(),
	}
	if err := r.runs.Create(ctx, execRun); err != nil {
		return run, fmt.Errorf("strategy: create backtest run: %w", err)
	}
	run.ExecutionRunIDs = append(run.ExecutionRunIDs, execRun.ID)

	now := r.now()
	latency := 0.0
	for _, phase := range []struct {
		status domain.EventStatus
		price  decimal.Decimal
	}{
		{domain.EventFilled, entry},
		{domain.EventFilled, exit},
	} {
		_, err := r.events.Append(ctx, domain.ExecutionEvent{
			ID:          uuid.New().String(),
			RunID:       execRun.ID,
			Status:      phase.status,
			RequestedAt: execRun.RequestedAt,
			CompletedAt: &now,
			LatencyMs:   &latency,
			Message:     "simulated",
			Metadata: map[string]any{
				"simulated": true,
				"price":     phase.price.String(),
			},
		})
		if err != nil {
			return run, fmt.Errorf("strategy: append simulated event: %w", err)
		}
	}

	execRun.Status = domain.RunSucceeded
	execRun.CompletedAt = &now
	if err := r.runs.Update(ctx, execRun); err != nil {
		return run, fmt.Errorf("strategy: finalise backtest run: %w", err)
	}

	run.ResultMetrics = resultMetrics(pnl, 2, intent.Lots, 0, run.ExecutionRunIDs)
	r.log(ctx, run, domain.LogInfo,
		fmt.Sprintf("backtest finished: entry %s exit %s pnl %s", entry, exit, pnl), nil)
	return run, nil
}

func resultMetrics(pnl decimal.Decimal, orders, totalLots int64, avgLatencyMs float64, execRunIDs []string) map[string]any {
	ids := execRunIDs
	if ids == nil {
		ids = []string{}
	}
	f, _ := pnl.Float64()
	return map[string]any{
		"pnl":               f,
		"orders":            orders,
		"total_lots":        totalLots,
		"avg_latency_ms":    avgLatencyMs,
		"execution_run_ids": ids,
	}
}

func (r *Runner) log(ctx context.Context, run domain.StrategyRun, level domain.StrategyLogLevel, msg string, kv map[string]any) {
	entry := domain.StrategyLog{
		ID:         uuid.New().String(),
		StrategyID: run.StrategyID,
		RunID:      run.ID,
		Level:      level,
		Message:    msg,
		Context:    kv,
		CreatedAt:  r.now(),
	}
	if err := r.store.AppendLog(ctx, entry); err != nil {
		r.logger.Warn("append strategy log failed",
			slog.String("run_id", run.ID), slog.Any("error", err))
	}
}

// seedPrice derives a stable reference price in [100, 1099] from the symbol.
func seedPrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return decimal.NewFromInt(int64(100 + h.Sum32()%1000))
}

// nextBar perturbs the price by a hash-derived tick in [-0.5%, +0.5%].
func nextBar(symbol string, bar int, price decimal.Decimal) decimal.Decimal {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d", symbol, bar)
	bps := int64(h.Sum32()%101) - 50 // -50..+50 basis points
	tick := price.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10_000))
	return price.Add(tick)
}

// intentFromParams builds the trade intent a run dispatches from the
// strategy's params. Required: symbol, side, lots, lot_size, group_id.
func intentFromParams(strat domain.Strategy) (domain.TradeIntent, string, error) {
	p := strat.Params
	symbol := paramString(p, "symbol")
	groupID := paramString(p, "group_id")
	side := domain.OrderSide(paramString(p, "side"))
	lots := paramInt(p, "lots")
	lotSize := paramInt(p, "lot_size")

	if symbol == "" || lots <= 0 || lotSize <= 0 {
		return domain.TradeIntent{}, "", &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: "strategy params require symbol, lots > 0 and lot_size > 0",
		}
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.TradeIntent{}, "", &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: fmt.Sprintf("strategy params side %q must be BUY or SELL", side),
		}
	}

	intent := domain.TradeIntent{
		Symbol:     symbol,
		Side:       side,
		Lots:       lots,
		LotSize:    lotSize,
		OrderType:  domain.OrderMarket,
		Exchange:   paramString(p, "exchange"),
		StrategyID: strat.ID,
	}
	if ot := paramString(p, "order_type"); ot != "" {
		intent.OrderType = domain.OrderType(ot)
	}
	if px := paramFloat(p, "price"); px > 0 {
		d := decimal.NewFromFloat(px)
		intent.Price = &d
	}
	return intent, groupID, nil
}

func paramString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func paramInt(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func paramFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
