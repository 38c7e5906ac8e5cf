package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mohith0505/NextGenAlgo/internal/allocation"
	"github.com/Mohith0505/NextGenAlgo/internal/analytics"
	"github.com/Mohith0505/NextGenAlgo/internal/auth"
	s3blob "github.com/Mohith0505/NextGenAlgo/internal/blob/s3"
	"github.com/Mohith0505/NextGenAlgo/internal/broker"
	"github.com/Mohith0505/NextGenAlgo/internal/cache/redis"
	"github.com/Mohith0505/NextGenAlgo/internal/config"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/execution"
	"github.com/Mohith0505/NextGenAlgo/internal/notify"
	"github.com/Mohith0505/NextGenAlgo/internal/rms"
	"github.com/Mohith0505/NextGenAlgo/internal/scheduler"
	"github.com/Mohith0505/NextGenAlgo/internal/server/ws"
	"github.com/Mohith0505/NextGenAlgo/internal/store/postgres"
	"github.com/Mohith0505/NextGenAlgo/internal/strategy"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
	"github.com/Mohith0505/NextGenAlgo/internal/webhook"
)

// Dependencies bundles every service the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Users      domain.UserStore
	Links      domain.BrokerLinkStore
	Accounts   domain.AccountStore
	Groups     domain.GroupStore
	Runs       domain.RunStore
	Events     domain.EventStore
	Orders     domain.OrderStore
	Trades     domain.TradeStore
	Positions  domain.PositionStore
	Strategies domain.StrategyStore
	Jobs       domain.JobStore
	Connectors domain.ConnectorStore
	Rms        domain.RmsStore
	Audit      domain.AuditStore

	// Cache primitives
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Idempotency domain.IdempotencyStore

	// Blob storage (nil unless s3.enabled)
	BlobWriter *s3blob.Writer

	// Services
	Vault        *vault.Vault
	Registry     *broker.Registry
	Dispatcher   *broker.Dispatcher
	Gate         *rms.Gate
	Enforcer     *rms.Enforcer
	Hub          *ws.Hub
	Planner      *allocation.Planner
	Orchestrator *execution.Orchestrator
	Runner       *strategy.Runner
	StrategySvc  *strategy.Service
	Scheduler    *scheduler.Scheduler
	Ingress      *webhook.Ingress
	Analytics    *analytics.Service
	Archiver     *analytics.Archiver
	Auth         *auth.Service
	Notifier     *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Users = postgres.NewUserStore(pool)
	deps.Links = postgres.NewBrokerLinkStore(pool)
	deps.Accounts = postgres.NewAccountStore(pool)
	deps.Groups = postgres.NewGroupStore(pool)
	deps.Runs = postgres.NewRunStore(pool)
	deps.Events = postgres.NewEventStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Strategies = postgres.NewStrategyStore(pool)
	deps.Jobs = postgres.NewJobStore(pool)
	deps.Connectors = postgres.NewConnectorStore(pool)
	deps.Rms = postgres.NewRmsStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	vaultStore := postgres.NewVaultStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Idempotency = redis.NewIdempotencyStore(redisClient)

	// --- S3 blob storage (export archiving) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Credential vault ---
	deps.Vault, err = vault.New(cfg.Vault.Key, vaultStore, deps.Audit)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}

	// --- Broker adapters ---
	deps.Registry = broker.DefaultRegistry()
	deps.Dispatcher = broker.NewDispatcher(deps.Registry, deps.Vault, deps.Links, deps.Audit,
		broker.Options{
			BaseURL:         cfg.Broker.BaseURL,
			DefaultExchange: cfg.Broker.DefaultExchange,
			Timeout:         cfg.Broker.Timeout,
		}, logger)

	// --- RMS ---
	exchangeTZ, err := time.LoadLocation(cfg.Rms.ExchangeTimezone)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rms timezone: %w", err)
	}
	deps.Gate = rms.NewGate(deps.Rms, deps.Audit, exchangeTZ, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	rmsNotifier := notify.NewRmsNotifier(deps.Rms, deps.Notifier, logger)

	// --- Execution pipeline ---
	deps.Hub = ws.NewHub(logger)
	deps.Planner = allocation.NewPlanner()
	deps.Orchestrator = execution.NewOrchestrator(
		deps.Planner,
		execution.NewGateAdapter(deps.Gate),
		deps.Dispatcher,
		deps.Groups,
		deps.Accounts,
		deps.Links,
		deps.Runs,
		deps.Events,
		deps.Orders,
		deps.Trades,
		deps.Positions,
		deps.Hub,
		logger,
	)
	deps.Enforcer = rms.NewEnforcer(deps.Rms, deps.Positions, deps.Gate,
		deps.Orchestrator, rmsNotifier, deps.Audit, logger)

	// --- Strategies ---
	deps.Runner = strategy.NewRunner(deps.Strategies, deps.Runs, deps.Events,
		deps.Orders, deps.Orchestrator, logger)
	deps.StrategySvc = strategy.NewService(deps.Strategies, deps.Runner, logger)

	// --- Scheduler ---
	if cfg.Scheduler.Enabled {
		schedTZ, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: scheduler timezone: %w", err)
		}
		deps.Scheduler = scheduler.New(deps.Jobs, deps.StrategySvc, deps.LockManager, schedTZ, logger)
	}

	// --- Webhook ingress ---
	deps.Ingress = webhook.NewIngress(deps.Connectors, deps.Strategies, deps.Idempotency,
		deps.Runner, cfg.Webhook.IdempotencyWindow.Duration, logger)

	// --- Analytics ---
	deps.Analytics = analytics.NewService(deps.Runs, deps.Events, deps.Trades, deps.Positions, logger)
	if deps.BlobWriter != nil {
		deps.Archiver = analytics.NewArchiver(deps.Analytics, deps.BlobWriter, logger)
	}

	// --- Auth ---
	deps.Auth = auth.NewService(deps.Users, []byte(cfg.Auth.JWTSecret), logger)

	return deps, cleanup, nil
}
