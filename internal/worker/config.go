// Package worker provides background refresh of the congestion snapshot.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the periodic refresh job.
type RefreshConfig struct {
	// Interval between scheduled refreshes.
	// Default: 5 minutes
	Interval time.Duration

	// Timeout bounds one pipeline run.
	// Default: 2 minutes
	Timeout time.Duration

	// RunOnStart triggers a refresh before the first tick.
	RunOnStart bool

	// MaxConsecutiveFailures marks the worker unhealthy after this many
	// failed refreshes in a row.
	// Default: 3
	MaxConsecutiveFailures int
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Interval:               5 * time.Minute,
		Timeout:                2 * time.Minute,
		RunOnStart:             true,
		MaxConsecutiveFailures: 3,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	d := DefaultRefreshConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	return c
}
