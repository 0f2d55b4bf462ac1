package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config holds service configuration.
type Config struct {
	ServerAddr       string        `mapstructure:"SERVER_ADDR"`
	StoreDriver      string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	BoltPath         string        `mapstructure:"BOLT_PATH"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	AuthDisabled     bool          `mapstructure:"AUTH_DISABLED"`
	PairingSecret    string        `mapstructure:"PAIRING_SECRET"`
	ApprovalPolicy   string        `mapstructure:"APPROVAL_POLICY"`
	SendBuffer       int           `mapstructure:"SEND_BUFFER"`
	IdleEviction     time.Duration `mapstructure:"IDLE_EVICTION"`
	EvictionInterval time.Duration `mapstructure:"EVICTION_INTERVAL"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present) and the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDR", "0.0.0.0:8080")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BOLT_PATH", "contractsync.db")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "contractsync")
	v.SetDefault("AUTH_DISABLED", false)
	v.SetDefault("PAIRING_SECRET", "")
	v.SetDefault("APPROVAL_POLICY", "")
	v.SetDefault("SEND_BUFFER", 64)
	v.SetDefault("IDLE_EVICTION", "30m")
	v.SetDefault("EVICTION_INTERVAL", "1m")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreMemory, StoreBolt:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: STORE_DRIVER must be memory, bolt or postgres, got %q", c.StoreDriver)
	}
	if c.StoreDriver == StoreBolt && c.BoltPath == "" {
		return errors.New("config: BOLT_PATH must be set when STORE_DRIVER=bolt")
	}
	if c.SendBuffer <= 0 {
		return errors.New("config: SEND_BUFFER must be positive")
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set unless AUTH_DISABLED=true")
	}
	if c.PairingSecret == "" {
		c.PairingSecret = c.JWTSecret
	}
	if c.PairingSecret == "" {
		return errors.New("config: PAIRING_SECRET must be set")
	}
	if c.IdleEviction < 0 || c.EvictionInterval < 0 {
		return errors.New("config: IDLE_EVICTION and EVICTION_INTERVAL must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
