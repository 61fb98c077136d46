// Package checkpoint persists the engine state between process restarts so
// a restarted agent resumes from the last covered window instead of only
// looking one interval back.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cfgkeeper/internal/agent/poller"

	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	DefaultRedisKey = "cfgkeeper:checkpoint"
)

// ErrNoCheckpoint is returned by Load when nothing was saved yet
var ErrNoCheckpoint = errors.New("no checkpoint stored")

// Store saves and restores engine state
type Store interface {
	Load(ctx context.Context) (poller.State, error)
	Save(ctx context.Context, state poller.State) error
	Close() error
}

// Config selects and configures the store
type Config struct {
	Driver string      `mapstructure:"driver" validate:"omitempty,oneof=memory redis"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis store
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Key          string        `mapstructure:"key"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverMemory:
		return nil
	case DriverRedis:
		if c.Redis.Addr == "" {
			return errors.New("checkpoint.redis.addr is required for the redis driver")
		}
		return nil
	default:
		return fmt.Errorf("unsupported checkpoint driver: %s", c.Driver)
	}
}

// New creates the store selected by cfg
func New(cfg *Config, logger *zap.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint config: %w", err)
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return NewRedis(&cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported checkpoint driver: %s", cfg.Driver)
	}
}
