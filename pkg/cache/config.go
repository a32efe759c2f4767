package cache

import (
	"fmt"
	"time"
)

// Config bounds the cache.
type Config struct {
	// Capacity is the maximum number of idle resident entries. Zero disables passivation.
	Capacity int `mapstructure:"capacity" json:"capacity" yaml:"capacity"`
	// BulkPassivate is the number of entries passivated at once when Capacity is exceeded.
	BulkPassivate int `mapstructure:"bulk_passivate" json:"bulk_passivate" yaml:"bulk_passivate"`
	// IdleTimeout removes entries idle for longer than this. Zero disables timeouts.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout"`
	// SweepInterval is the period of the background timeout sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		BulkPassivate: 1,
		IdleTimeout:   20 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cache config: %s %s", e.Field, e.Reason)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Capacity < 0:
		return &ConfigError{Field: "capacity", Reason: "must not be negative"}
	case c.BulkPassivate < 0:
		return &ConfigError{Field: "bulk_passivate", Reason: "must not be negative"}
	case c.IdleTimeout < 0:
		return &ConfigError{Field: "idle_timeout", Reason: "must not be negative"}
	case c.SweepInterval < 0:
		return &ConfigError{Field: "sweep_interval", Reason: "must not be negative"}
	case c.IdleTimeout > 0 && c.SweepInterval == 0:
		return &ConfigError{Field: "sweep_interval", Reason: "is required when idle_timeout is set"}
	}
	return nil
}
