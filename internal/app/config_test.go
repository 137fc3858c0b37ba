package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-backoffice/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://test@localhost/test")
	t.Setenv("CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 90*time.Second, cfg.CacheTTL)
	require.Equal(t, 5, cfg.TxMaxAttempts)
	require.Equal(t, "*/30 * * * *", cfg.ReconcileCron)
	require.Equal(t, 72*time.Hour, cfg.KeyRetention)
	require.False(t, cfg.IsProduction())
}

func TestRedisOptionsShareOneInstance(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	cacheOpts := cfg.CacheOptions()
	queueOpts := cfg.QueueOptions()
	require.Equal(t, "redis:6380", cacheOpts.Addr)
	require.Equal(t, cacheOpts.Addr, queueOpts.Addr)
	require.Equal(t, "secret", queueOpts.Password)
	require.Equal(t, 2, cacheOpts.DB)
	require.Equal(t, 2, queueOpts.DB)

	t.Setenv("REDIS_DB", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidAttempts(t *testing.T) {
	t.Setenv("TX_MAX_ATTEMPTS", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.Int("n", 1))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestInTestModeUnderGuard(t *testing.T) {
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
