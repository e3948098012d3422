package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/config"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.AuthTokenTTL)
	assert.Equal(t, "rocketgate", cfg.Cascade.DefaultBiller)
	assert.Equal(t, []string{"rocketgate", "netbilling", "epoch"}, cfg.Cascade.Billers)
	assert.Empty(t, cfg.Upstream.ServicesURL)
	assert.Equal(t, 30*time.Second, cfg.Upstream.SiteAdminPoll)
}

func TestLoad_Environment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("CB_RESET_TIMEOUT", "5s")
	t.Setenv("CB_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("DATABASE_URL", "sqlite:file:gateway.db")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold, "invalid values keep the default")
	assert.Equal(t, "sqlite:file:gateway.db", cfg.Database.URL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_BILLER=netbilling\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DEFAULT_BILLER")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "netbilling", cfg.Cascade.DefaultBiller)
	assert.Equal(t, "debug", cfg.LogLevel)
}
