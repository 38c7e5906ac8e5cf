package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NGA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NGA_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. DATABASE_URL and REDIS_URL are honoured as conventional aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.DSN, "NGA_DATABASE_DSN")
	setStr(&cfg.Database.Host, "NGA_DATABASE_HOST")
	setInt(&cfg.Database.Port, "NGA_DATABASE_PORT")
	setStr(&cfg.Database.Database, "NGA_DATABASE_NAME")
	setStr(&cfg.Database.User, "NGA_DATABASE_USER")
	setStr(&cfg.Database.Password, "NGA_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "NGA_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "NGA_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "NGA_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "NGA_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_URL")
	setStr(&cfg.Redis.Addr, "NGA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NGA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NGA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NGA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NGA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NGA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "NGA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "NGA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NGA_S3_REGION")
	setStr(&cfg.S3.Bucket, "NGA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NGA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NGA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NGA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NGA_S3_FORCE_PATH_STYLE")

	// ── Auth / Vault ──
	setStr(&cfg.Auth.JWTSecret, "NGA_AUTH_JWT_SECRET")
	setStr(&cfg.Vault.Key, "NGA_VAULT_KEY")

	// ── RMS ──
	setStr(&cfg.Rms.ExchangeTimezone, "NGA_RMS_EXCHANGE_TIMEZONE")
	setDuration(&cfg.Rms.SweepInterval, "NGA_RMS_SWEEP_INTERVAL")

	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "NGA_BROKER_BASE_URL")
	setStr(&cfg.Broker.DefaultExchange, "NGA_BROKER_DEFAULT_EXCHANGE")
	setStr(&cfg.Broker.Timeout, "NGA_BROKER_TIMEOUT")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "NGA_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Timezone, "NGA_SCHEDULER_TIMEZONE")

	// ── Webhook ──
	setDuration(&cfg.Webhook.IdempotencyWindow, "NGA_WEBHOOK_IDEMPOTENCY_WINDOW")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NGA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NGA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NGA_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "NGA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "NGA_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NGA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NGA_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "NGA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NGA_MODE")
	setStr(&cfg.LogLevel, "NGA_LOG_LEVEL")
	setStr(&cfg.LogFormat, "NGA_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
