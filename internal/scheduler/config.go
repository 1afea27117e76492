package scheduler

import (
	"time"

	"github.com/smallbiznis/vpnledger/internal/config"
)

// Config controls which tasks run and how much work each run takes.
type Config struct {
	EnabledJobs []string
	Location    *time.Location
	BatchSize   int
	LockEnabled bool
	// MinTimeout bounds derived timeouts for tasks that trigger very often.
	MinTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Location:    time.UTC,
		BatchSize:   100,
		LockEnabled: true,
		MinTimeout:  10 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		EnabledJobs: cfg.Scheduler.EnabledJobs,
		Location:    cfg.Scheduler.Location(),
		BatchSize:   cfg.Scheduler.BatchSize,
		LockEnabled: cfg.Scheduler.LockEnabled,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MinTimeout <= 0 {
		c.MinTimeout = defaults.MinTimeout
	}
	return c
}
