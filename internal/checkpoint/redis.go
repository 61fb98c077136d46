package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cfgkeeper/internal/agent/poller"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyValue is the subset of *redis.Client the store uses
type keyValue interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis stores the state as a JSON document under a single key
type Redis struct {
	client keyValue
	key    string
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg *RedisConfig, logger *zap.Logger) (*Redis, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis configuration is nil or empty")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		DialTimeout:  dialTimeout,
		PoolSize:     2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return NewRedisWithClient(rc, cfg.Key, logger), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(rc *redis.Client, key string, logger *zap.Logger) *Redis {
	return newRedisStore(rc, key, logger)
}

func newRedisStore(rc keyValue, key string, logger *zap.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{
		client: rc,
		key:    key,
		logger: logger.Named("checkpoint"),
	}
}

func (r *Redis) Load(ctx context.Context) (poller.State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return poller.State{}, ErrNoCheckpoint
		}
		return poller.State{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var state poller.State
	if err := json.Unmarshal(data, &state); err != nil {
		return poller.State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return state, nil
}

func (r *Redis) Save(ctx context.Context, state poller.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	r.logger.Debug("Checkpoint saved",
		zap.String("key", r.key),
		zap.Int64("window_start", state.Window.Start))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
