package checkpoint

import (
	"context"
	"sync"

	"cfgkeeper/internal/agent/poller"
)

// Memory keeps the state in process; it does not survive restarts
type Memory struct {
	mu    sync.RWMutex
	state *poller.State
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (poller.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return poller.State{}, ErrNoCheckpoint
	}
	return *m.state, nil
}

func (m *Memory) Save(_ context.Context, state poller.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = &state
	return nil
}

func (m *Memory) Close() error {
	return nil
}
