package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mohith0505/NextGenAlgo/internal/server"
	"github.com/Mohith0505/NextGenAlgo/internal/server/handler"
)

// ServeMode starts the HTTP + WebSocket API, the event hub and the cron
// scheduler. Post-trade enforcement sweeps run in worker mode.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHub(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// WorkerMode runs the background subsystems without the API: the cron
// scheduler and the periodic RMS enforcement sweep.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startScheduler(ctx, g, deps)
	a.startEnforcementSweep(ctx, g, deps)

	return g.Wait()
}

// FullMode starts every subsystem: the API, the scheduler and the enforcement
// sweep in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHub(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	a.startEnforcementSweep(ctx, g, deps)

	return g.Wait()
}

// startHub runs the WebSocket event hub until the context is cancelled.
func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
}

// startScheduler starts the cron scheduler when it is enabled.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Scheduler == nil {
		return
	}
	g.Go(func() error {
		if err := deps.Scheduler.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		deps.Scheduler.Stop()
		return ctx.Err()
	})
}

// startEnforcementSweep runs the post-trade RMS sweep across every configured
// user on the configured cadence. Per-user failures are logged and skipped so
// one bad user cannot stall the sweep.
func (a *App) startEnforcementSweep(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Rms.SweepInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				users, err := deps.Rms.ListConfiguredUsers(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "enforcement sweep: list users failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				for _, userID := range users {
					rule, err := deps.Enforcer.Sweep(ctx, userID)
					if err != nil {
						a.logger.WarnContext(ctx, "enforcement sweep failed",
							slog.String("user_id", userID),
							slog.String("error", err.Error()),
						)
						continue
					}
					if rule != "" {
						a.logger.InfoContext(ctx, "enforcement rule fired",
							slog.String("user_id", userID),
							slog.String("rule", rule),
						)
					}
				}
			}
		}
	})
}

// startHTTPServer builds the handler set, registers all routes and runs the
// server until the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
		return
	}

	handlers := server.Handlers{
		Auth:      handler.NewAuthHandler(deps.Auth, deps.Users),
		Broker:    handler.NewBrokerHandler(deps.Registry, deps.Dispatcher, deps.Links, deps.Accounts, deps.Vault),
		Group:     handler.NewGroupHandler(deps.Groups, deps.Accounts, deps.Runs, deps.Events, deps.Orders, deps.Planner, deps.Orchestrator),
		Order:     handler.NewOrderHandler(deps.Orders, deps.Accounts, deps.Links, deps.Orchestrator),
		Strategy:  handler.NewStrategyHandler(deps.StrategySvc),
		Rms:       handler.NewRmsHandler(deps.Rms, deps.Accounts, deps.Gate, deps.Enforcer),
		Analytics: handler.NewAnalyticsHandler(deps.Analytics, deps.Archiver),
		Webhook:   handler.NewWebhookHandler(deps.Ingress),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Hub, deps.Auth, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
