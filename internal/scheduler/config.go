package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
)

// Config controls the sync job cadence.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	Timeout     time.Duration
	MaxPages    int
	Status      *domain.Status
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 15 * time.Minute,
		Timeout:     10 * time.Minute,
		MaxPages:    50,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := Config{
		Enabled:     cfg.Sync.Enabled,
		RunInterval: cfg.Sync.Interval,
		Timeout:     cfg.Sync.Timeout,
		MaxPages:    cfg.Sync.MaxPages,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(cfg.Sync.Status)); err == nil {
		status := domain.Status(n)
		if status.Valid() {
			out.Status = &status
		}
	}
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaults.MaxPages
	}
	// the lock outlives a run that hits its deadline so a second replica
	// cannot start while the first is still unwinding
	if c.LockTTL <= 0 {
		c.LockTTL = c.Timeout + time.Minute
	}
	return c
}
