// Package scheduler drives periodic and on-demand refresh cycles.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// Interval between periodic cycles.
	Interval time.Duration `yaml:"interval"`
	// Immediate runs a full cycle as soon as the scheduler starts.
	Immediate bool `yaml:"immediate"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:  30 * time.Second,
		Immediate: true,
	}
}
