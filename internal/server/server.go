// Package server exposes the HTTP + WebSocket API surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/server/handler"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
	"github.com/Mohith0505/NextGenAlgo/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Auth      *handler.AuthHandler
	Broker    *handler.BrokerHandler
	Group     *handler.GroupHandler
	Order     *handler.OrderHandler
	Strategy  *handler.StrategyHandler
	Rms       *handler.RmsHandler
	Analytics *handler.AnalyticsHandler
	Webhook   *handler.WebhookHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain. verifier
// guards every route except health, auth, webhooks and the WebSocket
// endpoint. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub,
	verifier middleware.TokenVerifier, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Public routes ---

	mux.HandleFunc("GET /api/health", handler.Health(time.Now().UTC()))

	mux.HandleFunc("POST /api/auth/register", handlers.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)
	mux.HandleFunc("POST /api/auth/refresh", handlers.Auth.Refresh)

	// Webhook ingress authenticates via the connector token in the path.
	mux.HandleFunc("POST /api/webhooks/{connector_token}", handlers.Webhook.Receive)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// --- Authenticated routes ---

	mux.HandleFunc("GET /api/users/me", handlers.Auth.Me)

	mux.HandleFunc("GET /api/brokers/supported", handlers.Broker.Supported)
	mux.HandleFunc("POST /api/brokers/connect", handlers.Broker.Connect)
	mux.HandleFunc("GET /api/brokers", handlers.Broker.List)
	mux.HandleFunc("POST /api/brokers/{id}/login", handlers.Broker.Login)
	mux.HandleFunc("POST /api/brokers/{id}/logout", handlers.Broker.Logout)
	mux.HandleFunc("DELETE /api/brokers/{id}", handlers.Broker.Delete)
	mux.HandleFunc("GET /api/brokers/{id}/positions", handlers.Broker.Positions)
	mux.HandleFunc("GET /api/brokers/{id}/holdings", handlers.Broker.Holdings)
	mux.HandleFunc("GET /api/brokers/{id}/margin", handlers.Broker.Margin)
	mux.HandleFunc("POST /api/brokers/{id}/convert", handlers.Broker.Convert)

	mux.HandleFunc("GET /api/execution-groups", handlers.Group.List)
	mux.HandleFunc("POST /api/execution-groups", handlers.Group.Create)
	mux.HandleFunc("GET /api/execution-groups/{id}", handlers.Group.Get)
	mux.HandleFunc("PATCH /api/execution-groups/{id}", handlers.Group.Update)
	mux.HandleFunc("DELETE /api/execution-groups/{id}", handlers.Group.Delete)
	mux.HandleFunc("POST /api/execution-groups/{id}/accounts", handlers.Group.AddAccount)
	mux.HandleFunc("PATCH /api/execution-groups/{id}/accounts/{mapping_id}", handlers.Group.UpdateAccount)
	mux.HandleFunc("DELETE /api/execution-groups/{id}/accounts/{mapping_id}", handlers.Group.RemoveAccount)
	mux.HandleFunc("GET /api/execution-groups/{id}/preview", handlers.Group.Preview)
	mux.HandleFunc("POST /api/execution-groups/{id}/orders", handlers.Group.PlaceOrder)
	mux.HandleFunc("GET /api/execution-groups/{id}/runs", handlers.Group.Runs)
	mux.HandleFunc("GET /api/execution-groups/{id}/runs/{run_id}/events", handlers.Group.RunEvents)

	mux.HandleFunc("POST /api/orders", handlers.Order.Place)
	mux.HandleFunc("GET /api/orders", handlers.Order.List)

	mux.HandleFunc("GET /api/strategies", handlers.Strategy.List)
	mux.HandleFunc("POST /api/strategies", handlers.Strategy.Create)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategy.Get)
	mux.HandleFunc("PATCH /api/strategies/{id}", handlers.Strategy.Update)
	mux.HandleFunc("DELETE /api/strategies/{id}", handlers.Strategy.Delete)
	mux.HandleFunc("POST /api/strategies/{id}/start", handlers.Strategy.Start)
	mux.HandleFunc("POST /api/strategies/{id}/stop", handlers.Strategy.Stop)
	mux.HandleFunc("GET /api/strategies/{id}/runs", handlers.Strategy.Runs)
	mux.HandleFunc("GET /api/strategies/{id}/logs", handlers.Strategy.Logs)
	mux.HandleFunc("GET /api/strategies/{id}/pnl", handlers.Strategy.PnL)

	mux.HandleFunc("GET /api/rms/config", handlers.Rms.GetConfig)
	mux.HandleFunc("POST /api/rms/config", handlers.Rms.SetConfig)
	mux.HandleFunc("GET /api/rms/status", handlers.Rms.Status)
	mux.HandleFunc("POST /api/rms/squareoff", handlers.Rms.SquareOff)
	mux.HandleFunc("POST /api/rms/enforce", handlers.Rms.Enforce)

	mux.HandleFunc("GET /api/analytics/dashboard", handlers.Analytics.Dashboard)
	mux.HandleFunc("GET /api/analytics/daily-pnl", handlers.Analytics.DailyPnL)
	mux.HandleFunc("GET /api/analytics/exports/daily-pnl", handlers.Analytics.ExportDailyPnL)
	mux.HandleFunc("GET /api/analytics/exports/latency-summary", handlers.Analytics.ExportLatencySummary)
	mux.HandleFunc("GET /api/analytics/exports/leg-status", handlers.Analytics.ExportLegStatus)

	// Build the middleware chain.
	var h http.Handler = mux

	h = authExceptPublic(verifier)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// publicPrefixes are the routes that do not require a bearer token.
var publicPrefixes = []string{
	"/api/health",
	"/api/auth/",
	"/api/webhooks/",
	"/ws",
}

// authExceptPublic applies the bearer-token middleware to everything outside
// the public prefixes.
func authExceptPublic(verifier middleware.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authed := middleware.Auth(verifier)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			authed.ServeHTTP(w, r)
		})
	}
}
