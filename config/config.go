// Package config loads environment-driven configuration for the party
// server and gateway processes.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/movieparty/server/party"
	"github.com/movieparty/server/playsync"
)

// Config holds the party backend configuration.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"movieparty"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	WSAddr   string `env:"WS_ADDR" envDefault:":8080"`
	RESTAddr string `env:"REST_ADDR" envDefault:":8081"`

	// RedisAddr empty selects the in-memory stores.
	RedisAddr string `env:"REDIS_ADDR" envDefault:""`

	LeaderlessTimeout time.Duration `env:"LEADERLESS_TIMEOUT" envDefault:"5m"`
	RecordWatchPeriod time.Duration `env:"RECORD_WATCH_PERIOD" envDefault:"5s"`

	Sync SyncConfig `envPrefix:"SYNC_"`
}

// SyncConfig exposes the synchronization thresholds; the right values
// are empirical, so every one of them is tunable.
type SyncConfig struct {
	DriftThreshold    float64       `env:"DRIFT_THRESHOLD" envDefault:"1.0"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	SeekCooldown      time.Duration `env:"SEEK_COOLDOWN" envDefault:"3s"`
	SeekDebounce      time.Duration `env:"SEEK_DEBOUNCE" envDefault:"500ms"`
	SettleDelay       time.Duration `env:"SETTLE_DELAY" envDefault:"400ms"`
	SeekSettleTimeout time.Duration `env:"SEEK_SETTLE_TIMEOUT" envDefault:"2s"`
	SeekEpsilon       float64       `env:"SEEK_EPSILON" envDefault:"0.25"`
	BufferingCatchUp  bool          `env:"BUFFERING_CATCHUP" envDefault:"false"`
}

// GatewayConfig holds the gateway process configuration.
type GatewayConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"movieparty-gateway"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	WSAddr   string `env:"WS_ADDR" envDefault:":8080"`
	RESTAddr string `env:"REST_ADDR" envDefault:":8081"`

	RedisAddr string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Backends  []string `env:"BACKENDS" envSeparator:"," envDefault:"localhost:8081"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// LoadGateway parses environment variables into GatewayConfig.
func LoadGateway() (*GatewayConfig, error) {
	cfg := &GatewayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// RoomOptions maps the config onto room-level options.
func (c *Config) RoomOptions() party.Options {
	return party.Options{
		LeaderlessTimeout: c.LeaderlessTimeout,
		RecordWatchPeriod: c.RecordWatchPeriod,
	}
}

// Tuning maps the sync section onto the playsync knobs.
func (c *SyncConfig) Tuning() playsync.Tuning {
	return playsync.Tuning{
		DriftThreshold:    c.DriftThreshold,
		PollInterval:      c.PollInterval,
		SeekCooldown:      c.SeekCooldown,
		SeekDebounce:      c.SeekDebounce,
		SettleDelay:       c.SettleDelay,
		SeekSettleTimeout: c.SeekSettleTimeout,
		SeekEpsilon:       c.SeekEpsilon,
		BufferingCatchUp:  c.BufferingCatchUp,
	}
}
