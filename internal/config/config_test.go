package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Auth.JWTSecret = "test-jwt-secret"
	cfg.Vault.Key = "test-vault-key"
	return cfg
}

func TestDefaultsValidateWithSecrets(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "replay"
	cfg.Auth.JWTSecret = ""
	cfg.Rms.ExchangeTimezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "exchange_timezone")
}

func TestValidateTelegramHalvesTogether(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "bot-token"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	cfg.Notify.TelegramChatID = "12345"
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NGA_SERVER_PORT", "9100")
	t.Setenv("NGA_MODE", "worker")
	t.Setenv("NGA_RMS_SWEEP_INTERVAL", "30s")
	t.Setenv("NGA_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATABASE_URL", "postgres://app:pw@db:5432/nga")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Rms.SweepInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://app:pw@db:5432/nga", cfg.Database.DSN)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "db-pass"
	cfg.Notify.TelegramToken = "bot-token"
	cfg.Notify.TelegramChatID = "12345"

	red := RedactedConfig(&cfg)

	assert.Equal(t, redacted, red.Auth.JWTSecret)
	assert.Equal(t, redacted, red.Vault.Key)
	assert.Equal(t, redacted, red.Database.Password)
	assert.Equal(t, redacted, red.Notify.TelegramToken)

	// Originals untouched.
	assert.Equal(t, "test-jwt-secret", cfg.Auth.JWTSecret)
}
