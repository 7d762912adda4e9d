package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Mode:          "release",
		Port:          8080,
		WSPath:        "/ws",
		SendBuffer:    64,
		SweepInterval: 30 * time.Second,
		Relay:         RelayConfig{EchoAll: true, MaxDuelMembers: 2},
		Redis:         RedisConfig{TTL: time.Minute},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.True(t, cfg.Relay.EchoAll)
	assert.Equal(t, 2, cfg.Relay.MaxDuelMembers)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Settlement.Enabled())
	assert.Equal(t, "duel", cfg.Redis.KeyPrefix)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("DUEL_PORT", "9090")
	t.Setenv("DUEL_REDIS_ADDR", "localhost:6379")
	t.Setenv("DUEL_SWEEP_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.WSPath = "ws"
	cfg.Relay.MaxDuelMembers = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_path")
	assert.Contains(t, err.Error(), "max_duel_members")
}

func TestValidateRedisTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 0
	assert.Error(t, cfg.Validate())
}

func TestPropertyValidPortAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}
