package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddr)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, 30*time.Minute, cfg.IdleEviction)
	assert.Equal(t, time.Minute, cfg.EvictionInterval)
	assert.Equal(t, "s3cret", cfg.PairingSecret, "pairing falls back to the jwt secret")
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "Bolt")
	t.Setenv("SEND_BUFFER", "8")
	t.Setenv("IDLE_EVICTION", "5m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreBolt, cfg.StoreDriver)
	assert.Equal(t, 8, cfg.SendBuffer)
	assert.Equal(t, 5*time.Minute, cfg.IdleEviction)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{StoreDriver: StoreMemory, JWTSecret: "x", SendBuffer: 1, LogLevel: "info"}
	}
	cases := map[string]func(c *Config){
		"postgres without dsn": func(c *Config) { c.StoreDriver = StorePostgres },
		"unknown driver":       func(c *Config) { c.StoreDriver = "redis" },
		"zero buffer":          func(c *Config) { c.SendBuffer = 0 },
		"no secrets":           func(c *Config) { c.JWTSecret = "" },
		"bad level":            func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}

	c := base()
	c.JWTSecret = ""
	c.AuthDisabled = true
	c.PairingSecret = "p"
	assert.NoError(t, c.Validate())
}
