package scheduler

import (
	"time"

	"github.com/flightworks/mxengine/internal/config"
)

// Config controls scheduler intervals and job bounds.
type Config struct {
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	JobTimeout        time.Duration
	LockTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:     15 * time.Minute,
		ReconcileInterval: time.Hour,
		JobTimeout:        5 * time.Minute,
		LockTTL:           10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaults.ReconcileInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		SweepInterval:     cfg.SweepInterval,
		ReconcileInterval: cfg.ReconcileInterval,
	}.withDefaults()
}
