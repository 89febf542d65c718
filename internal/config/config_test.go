package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, time.Minute, cfg.Scheduler.ClaimTTL)
	assert.NotEmpty(t, cfg.Scheduler.InstanceID)
	assert.Equal(t, 10000, cfg.Engine.PredicateMaxSteps)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "5s")
	t.Setenv("SCHEDULER_WORKERS", "8")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("ENGINE_PREDICATE_TIMEOUT", "10ms")
	t.Setenv("SCHEDULER_INSTANCE_ID", "node-a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.PredicateTimeout)
	assert.Equal(t, "node-a", cfg.Scheduler.InstanceID)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	t.Setenv("AUTH_JWT_SECRET", "s3cr3t")
	t.Setenv("SCHEDULER_BATCH_SIZE", "0")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}
