package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// Dashboard is the landing view: run counts, latency aggregates, PnL and
// leg-status mix for one user.
type Dashboard struct {
	TotalRuns    int64                          `json:"total_runs"`
	FailedRuns   int64                          `json:"failed_runs"`
	SuccessRate  float64                        `json:"success_rate"`
	RealizedPnL  decimal.Decimal                `json:"realized_pnl"`
	OpenPositions int                           `json:"open_positions"`
	Latency      domain.LatencySummary          `json:"latency"`
	StatusCounts map[domain.EventStatus]int64   `json:"status_counts"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// Service aggregates execution telemetry into read views.
type Service struct {
	runs      domain.RunStore
	events    domain.EventStore
	trades    domain.TradeStore
	positions domain.PositionStore
	logger    *slog.Logger
	now       func() time.Time

	// group collapses concurrent dashboard builds per user.
	group singleflight.Group
}

// NewService wires a Service.
func NewService(runs domain.RunStore, events domain.EventStore, trades domain.TradeStore,
	positions domain.PositionStore, logger *slog.Logger) *Service {
	return &Service{
		runs:      runs,
		events:    events,
		trades:    trades,
		positions: positions,
		logger:    logger.With(slog.String("component", "analytics")),
		now:       time.Now,
	}
}

// Dashboard assembles the summary view for one user. Concurrent calls for the
// same user share one computation.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	v, err, _ := s.group.Do(userID, func() (any, error) {
		return s.buildDashboard(ctx, userID)
	})
	if err != nil {
		return Dashboard{}, err
	}
	return v.(Dashboard), nil
}

func (s *Service) buildDashboard(ctx context.Context, userID string) (Dashboard, error) {
	total, failed, err := s.runs.CountByUser(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("analytics: count runs: %w", err)
	}

	latencies, err := s.events.Latencies(ctx, userID, domain.ListOpts{Limit: 1000})
	if err != nil {
		return Dashboard{}, fmt.Errorf("analytics: load latencies: %w", err)
	}
	counts, err := s.events.StatusCounts(ctx, userID, domain.ListOpts{})
	if err != nil {
		return Dashboard{}, fmt.Errorf("analytics: count statuses: %w", err)
	}

	pnl, err := s.trades.SumRealized(ctx, userID, nil)
	if err != nil {
		return Dashboard{}, fmt.Errorf("analytics: sum pnl: %w", err)
	}
	open, err := s.positions.ListOpenByUser(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("analytics: list positions: %w", err)
	}

	d := Dashboard{
		TotalRuns:     total,
		FailedRuns:    failed,
		RealizedPnL:   pnl,
		OpenPositions: len(open),
		StatusCounts:  counts,
		GeneratedAt:   s.now(),
		Latency: domain.LatencySummary{
			Count:     len(latencies),
			AverageMs: Mean(latencies),
			MaxMs:     Max(latencies),
			P50Ms:     Percentile(latencies, 50),
			P95Ms:     Percentile(latencies, 95),
		},
	}
	if total > 0 {
		d.SuccessRate = float64(total-failed) / float64(total)
	}
	return d, nil
}

// DailyPnL returns the realised PnL series for the trailing number of days,
// oldest first.
func (s *Service) DailyPnL(ctx context.Context, userID string, days int) ([]domain.DailyPnLPoint, error) {
	if days <= 0 {
		days = 30
	}
	points, err := s.trades.DailyPnL(ctx, userID, days)
	if err != nil {
		return nil, fmt.Errorf("analytics: daily pnl: %w", err)
	}
	return points, nil
}

// LegStatusCounts returns the per-status leg histogram for the window.
func (s *Service) LegStatusCounts(ctx context.Context, userID string, opts domain.ListOpts) (map[domain.EventStatus]int64, error) {
	counts, err := s.events.StatusCounts(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("analytics: status counts: %w", err)
	}
	return counts, nil
}

// RunLatency returns the latency aggregate over the user's recent legs.
func (s *Service) RunLatency(ctx context.Context, userID string, opts domain.ListOpts) (domain.LatencySummary, error) {
	latencies, err := s.events.Latencies(ctx, userID, opts)
	if err != nil {
		return domain.LatencySummary{}, fmt.Errorf("analytics: load latencies: %w", err)
	}
	return domain.LatencySummary{
		Count:     len(latencies),
		AverageMs: Mean(latencies),
		MaxMs:     Max(latencies),
		P50Ms:     Percentile(latencies, 50),
		P95Ms:     Percentile(latencies, 95),
	}, nil
}
