package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "CHANGE_FEED", "LOCK_BACKEND", "KAFKA_BROKERS", "KAFKA_RELAY", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	t.Run("defaults run in memory", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, FeedMemory, cfg.Engine.ChangeFeed)
		assert.Equal(t, LockRecord, cfg.Engine.LockBackend)
		assert.Equal(t, time.Minute, cfg.Engine.HealthInterval)
		assert.Equal(t, 30*time.Second, cfg.Engine.StatsTTL)
	})

	t.Run("database selects the postgres feed", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/certrepo")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, FeedPostgres, cfg.Engine.ChangeFeed)
	})

	t.Run("durations are parsed", func(t *testing.T) {
		t.Setenv("HEALTH_INTERVAL", "15s")
		t.Setenv("HEALTH_PROBE_TIMEOUT", "2s")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, cfg.Engine.HealthInterval)
		assert.Equal(t, 2*time.Second, cfg.Engine.ProbeTimeout)
	})

	t.Run("malformed values are rejected", func(t *testing.T) {
		t.Setenv("STATS_TTL", "soon")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "STATS_TTL")
	})

	t.Run("kafka feed requires brokers", func(t *testing.T) {
		t.Setenv("CHANGE_FEED", "kafka")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "KAFKA_BROKERS")
	})

	t.Run("redis lock requires a url", func(t *testing.T) {
		t.Setenv("LOCK_BACKEND", "redis")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "REDIS_URL")
	})

	t.Run("unknown feed", func(t *testing.T) {
		t.Setenv("CHANGE_FEED", "carrier-pigeon")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}
