/*
Package config loads service configuration from environment variables.

PURPOSE:
  One place for every tunable: server port, database path, escrow policy
  knobs, and background-sweep cadence. Defaults are sane for local
  development; production overrides everything through the environment.

USAGE:
  cfg, err := config.Load()
  store, err := sqlite.New(cfg.DatabasePath)
*/
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the escrow engine.
type Config struct {
	ServerPort   int    `mapstructure:"SERVER_PORT"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`

	// Policy knobs
	GraceCancellations     int   `mapstructure:"GRACE_CANCELLATIONS"`
	SettlementDelayHours   int   `mapstructure:"SETTLEMENT_DELAY_HOURS"`
	UnconfirmedExpiryHours int   `mapstructure:"UNCONFIRMED_EXPIRY_HOURS"`
	NoShowCompensation     int64 `mapstructure:"NO_SHOW_COMPENSATION"`
	RecurringLookaheadDays int   `mapstructure:"RECURRING_LOOKAHEAD_DAYS"`

	// Sweep cadence
	SettlementPollMinutes int `mapstructure:"SETTLEMENT_POLL_MINUTES"`
	NoShowPollMinutes     int `mapstructure:"NO_SHOW_POLL_MINUTES"`
	DailySweepHours       int `mapstructure:"DAILY_SWEEP_HOURS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("DATABASE_PATH", "./escrow.db")
	viper.SetDefault("GRACE_CANCELLATIONS", 2)
	viper.SetDefault("SETTLEMENT_DELAY_HOURS", 48)
	viper.SetDefault("UNCONFIRMED_EXPIRY_HOURS", 24)
	viper.SetDefault("NO_SHOW_COMPENSATION", 25)
	viper.SetDefault("RECURRING_LOOKAHEAD_DAYS", 14)
	viper.SetDefault("SETTLEMENT_POLL_MINUTES", 15)
	viper.SetDefault("NO_SHOW_POLL_MINUTES", 10)
	viper.SetDefault("DAILY_SWEEP_HOURS", 24)
	viper.AutomaticEnv()

	// Bind explicitly so env-only values survive Unmarshal.
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_PATH",
		"GRACE_CANCELLATIONS", "SETTLEMENT_DELAY_HOURS", "UNCONFIRMED_EXPIRY_HOURS",
		"NO_SHOW_COMPENSATION", "RECURRING_LOOKAHEAD_DAYS",
		"SETTLEMENT_POLL_MINUTES", "NO_SHOW_POLL_MINUTES", "DAILY_SWEEP_HOURS",
	} {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SettlementDelay() time.Duration {
	return time.Duration(c.SettlementDelayHours) * time.Hour
}

func (c *Config) UnconfirmedExpiry() time.Duration {
	return time.Duration(c.UnconfirmedExpiryHours) * time.Hour
}

func (c *Config) RecurringLookahead() time.Duration {
	return time.Duration(c.RecurringLookaheadDays) * 24 * time.Hour
}

func (c *Config) SettlementPoll() time.Duration {
	return time.Duration(c.SettlementPollMinutes) * time.Minute
}

func (c *Config) NoShowPoll() time.Duration {
	return time.Duration(c.NoShowPollMinutes) * time.Minute
}

func (c *Config) DailySweep() time.Duration {
	return time.Duration(c.DailySweepHours) * time.Hour
}
