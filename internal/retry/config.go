package retry

import (
	"encoding/json"
	"errors"
	"time"
)

// Config defines how rate-limited requests are retried.
type Config struct {
	ResetHeader  string        `mapstructure:"reset_header"`  // Header carrying the reset delay
	ResetUnit    time.Duration `mapstructure:"reset_unit"`    // Unit of the header value
	DefaultDelay time.Duration `mapstructure:"default_delay"` // Delay when the header is missing or invalid
	MaxDelay     time.Duration `mapstructure:"max_delay"`     // Cap for a single wait, 0 means no cap
	MaxRetries   int           `mapstructure:"max_retries"`   // 0 means retry until the remote recovers
}

// DefaultPlatformConfig returns the configuration for the monitoring platform,
// which reports the reset delay in microseconds.
func DefaultPlatformConfig() *Config {
	return &Config{
		ResetHeader:  "X-RateLimit-Reset",
		ResetUnit:    time.Microsecond,
		DefaultDelay: time.Second,
	}
}

// DefaultArchiveConfig returns the configuration for the archive backend,
// which reports the delay in seconds via Retry-After.
func DefaultArchiveConfig() *Config {
	return &Config{
		ResetHeader:  "Retry-After",
		ResetUnit:    time.Second,
		DefaultDelay: time.Second,
		MaxDelay:     time.Minute,
	}
}

// Validate validates the retry configuration.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return nil
	}
	if cfg.ResetHeader == "" {
		return errors.New("reset_header cannot be empty")
	}
	if cfg.ResetUnit <= 0 {
		return errors.New("reset_unit must be positive")
	}
	if cfg.DefaultDelay < 0 || cfg.MaxDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	return nil
}

// String returns a JSON string representation of the Config.
func (cfg *Config) String() string {
	data, _ := json.Marshal(cfg)
	return string(data)
}
