package checkpoint

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"cfgkeeper/internal/agent/poller"
	"cfgkeeper/internal/types"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleState() poller.State {
	return poller.State{
		Window:    types.SyncWindow{Start: 5001, End: 5000},
		Cycles:    3,
		LastRun:   time.UnixMilli(5000).UTC(),
		LastRunID: "run-1",
	}
}

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, store.Save(ctx, sampleState()))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleState().Window, got.Window)
	assert.Equal(t, int64(3), got.Cycles)
	assert.Equal(t, "run-1", got.LastRunID)
	assert.True(t, sampleState().LastRun.Equal(got.LastRun))

	next := sampleState()
	next.Window = types.SyncWindow{Start: 9001, End: 9000}
	require.NoError(t, store.Save(ctx, next))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9001), got.Window.Start)

	assert.NoError(t, store.Close())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

// memoryKV answers Get/Set like a Redis server holding plain strings
type memoryKV struct {
	mu      sync.Mutex
	data    map[string]string
	failGet error
}

func (m *memoryKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return redis.NewStringResult("", m.failGet)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryKV) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value type"))
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryKV) Close() error {
	return nil
}

func TestRedisStoreEncoding(t *testing.T) {
	kv := &memoryKV{data: map[string]string{}}
	store := newRedisStore(kv, "", zaptest.NewLogger(t))

	testStore(t, store)

	raw, ok := kv.data[DefaultRedisKey]
	require.True(t, ok, "state is stored under the default key")
	assert.JSONEq(t, `{"window":{"start":9001,"end":9000},"cycles":3,"last_run":"1970-01-01T00:00:05Z","last_run_id":"run-1"}`, raw)
}

func TestRedisStoreErrors(t *testing.T) {
	kv := &memoryKV{data: map[string]string{"cp": "{not json"}}
	store := newRedisStore(kv, "cp", zaptest.NewLogger(t))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCheckpoint)

	kv.failGet = errors.New("connection refused")
	_, err = store.Load(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

// TestRedisStore needs a reachable server, e.g. CFGKEEPER_TEST_REDIS=localhost:6379
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CFGKEEPER_TEST_REDIS")
	if addr == "" {
		t.Skip("CFGKEEPER_TEST_REDIS not set")
	}

	key := "cfgkeeper:test:" + t.Name() + ":" + time.Now().Format("150405.000000")
	store, err := NewRedis(&RedisConfig{Addr: addr, Key: key}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.client.(*redis.Client).Del(context.Background(), key).Err()
	})

	testStore(t, store)
}

func TestNewSelectsDriver(t *testing.T) {
	store, err := New(&Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)

	_, err = New(&Config{Driver: "disk"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = New(&Config{Driver: DriverRedis}, zaptest.NewLogger(t))
	assert.Error(t, err, "redis driver without an address")
}
