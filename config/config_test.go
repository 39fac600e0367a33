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
	assert.Equal(t, "movieparty", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.WSAddr)
	assert.Equal(t, ":8081", cfg.RESTAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.LeaderlessTimeout)
	assert.Equal(t, 5*time.Second, cfg.RecordWatchPeriod)

	tn := cfg.Sync.Tuning()
	assert.Equal(t, 1.0, tn.DriftThreshold)
	assert.Equal(t, time.Second, tn.PollInterval)
	assert.Equal(t, 3*time.Second, tn.SeekCooldown)
	assert.Equal(t, 500*time.Millisecond, tn.SeekDebounce)
	assert.Equal(t, 400*time.Millisecond, tn.SettleDelay)
	assert.False(t, tn.BufferingCatchUp)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WS_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "redis-0:6379")
	t.Setenv("SYNC_DRIFT_THRESHOLD", "2.5")
	t.Setenv("SYNC_SEEK_COOLDOWN", "10s")
	t.Setenv("SYNC_BUFFERING_CATCHUP", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.WSAddr)
	assert.Equal(t, "redis-0:6379", cfg.RedisAddr)
	tn := cfg.Sync.Tuning()
	assert.Equal(t, 2.5, tn.DriftThreshold)
	assert.Equal(t, 10*time.Second, tn.SeekCooldown)
	assert.True(t, tn.BufferingCatchUp)

	opts := cfg.RoomOptions()
	assert.Equal(t, 5*time.Minute, opts.LeaderlessTimeout)
}

func TestLoadGatewayBackendList(t *testing.T) {
	t.Setenv("BACKENDS", "backend-1:8081,backend-2:8081")
	cfg, err := LoadGateway()
	require.NoError(t, err)
	assert.Equal(t, []string{"backend-1:8081", "backend-2:8081"}, cfg.Backends)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}
