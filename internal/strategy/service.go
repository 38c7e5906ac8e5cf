package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// Service owns strategy CRUD and the run lifecycle surface.
type Service struct {
	store  domain.StrategyStore
	runner *Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Service.
func NewService(store domain.StrategyStore, runner *Runner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		runner: runner,
		logger: logger.With(slog.String("component", "strategy_service")),
		now:    time.Now,
	}
}

// Create validates and persists a new strategy. New strategies start active.
func (s *Service) Create(ctx context.Context, userID, name string, typ domain.StrategyType, params map[string]any) (domain.Strategy, error) {
	if name == "" {
		return domain.Strategy{}, &domain.RiskViolation{
			Code: domain.CodeAllocationInvalid, Message: "strategy name is required",
		}
	}
	switch typ {
	case domain.StrategyBuiltIn, domain.StrategyCustom, domain.StrategyConnector:
	default:
		return domain.Strategy{}, &domain.RiskViolation{
			Code: domain.CodeAllocationInvalid, Message: fmt.Sprintf("unknown strategy type %q", typ),
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	strat := domain.Strategy{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Type:      typ,
		Status:    domain.StrategyActive,
		Params:    params,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := s.store.Create(ctx, strat); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy: create: %w", err)
	}
	s.logger.Info("strategy created",
		slog.String("strategy_id", strat.ID), slog.String("user_id", userID))
	return strat, nil
}

// Update replaces the mutable fields of a strategy.
func (s *Service) Update(ctx context.Context, userID, id string, name string, params map[string]any) (domain.Strategy, error) {
	strat, err := s.store.GetByID(ctx, userID, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	if name != "" {
		strat.Name = name
	}
	if params != nil {
		strat.Params = params
	}
	strat.UpdatedAt = s.now()
	if err := s.store.Update(ctx, strat); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy: update %s: %w", id, err)
	}
	return strat, nil
}

// Get returns one strategy scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (domain.Strategy, error) {
	return s.store.GetByID(ctx, userID, id)
}

// List returns the user's strategies.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Strategy, error) {
	return s.store.ListByUser(ctx, userID)
}

// Delete removes a strategy and its runs.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.Delete(ctx, userID, id)
}

// Start launches a run of the strategy in the given mode.
func (s *Service) Start(ctx context.Context, userID, id string, mode domain.StrategyMode) (domain.StrategyRun, error) {
	strat, err := s.store.GetByID(ctx, userID, id)
	if err != nil {
		return domain.StrategyRun{}, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	switch mode {
	case domain.ModeBacktest, domain.ModePaper, domain.ModeLive:
	default:
		return domain.StrategyRun{}, &domain.RiskViolation{
			Code: domain.CodeAllocationInvalid, Message: fmt.Sprintf("unknown run mode %q", mode),
		}
	}
	return s.runner.Start(ctx, strat, mode)
}

// Stop halts a running strategy run and marks the strategy stopped.
func (s *Service) Stop(ctx context.Context, userID, id, runID string) (domain.StrategyRun, error) {
	strat, err := s.store.GetByID(ctx, userID, id)
	if err != nil {
		return domain.StrategyRun{}, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	run, err := s.runner.Stop(ctx, runID)
	if err != nil {
		return run, err
	}
	strat.Status = domain.StrategyStopped
	strat.UpdatedAt = s.now()
	if err := s.store.Update(ctx, strat); err != nil {
		return run, fmt.Errorf("strategy: mark stopped: %w", err)
	}
	return run, nil
}

// Runs lists the runs of a strategy, newest first.
func (s *Service) Runs(ctx context.Context, userID, id string, opts domain.ListOpts) ([]domain.StrategyRun, error) {
	if _, err := s.store.GetByID(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	return s.store.ListRuns(ctx, id, opts)
}

// Logs lists the log lines of a strategy, newest first.
func (s *Service) Logs(ctx context.Context, userID, id string, opts domain.ListOpts) ([]domain.StrategyLog, error) {
	if _, err := s.store.GetByID(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	return s.store.ListLogs(ctx, id, opts)
}

// PnL rolls the result metrics of all finished runs into one figure.
func (s *Service) PnL(ctx context.Context, userID, id string) (decimal.Decimal, int64, error) {
	if _, err := s.store.GetByID(ctx, userID, id); err != nil {
		return decimal.Zero, 0, fmt.Errorf("strategy: load %s: %w", id, err)
	}
	runs, err := s.store.ListRuns(ctx, id, domain.ListOpts{})
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("strategy: list runs: %w", err)
	}

	total := decimal.Zero
	var count int64
	for _, run := range runs {
		if !run.Status.Terminal() || run.ResultMetrics == nil {
			continue
		}
		if pnl, ok := run.ResultMetrics["pnl"].(float64); ok {
			total = total.Add(decimal.NewFromFloat(pnl))
			count++
		}
	}
	return total, count, nil
}
