package journal

import (
	"context"
	"sync"

	"github.com/voxlinehq/voxline/pkg/types"
)

// Memory is a bounded in-memory Sink and Reader for tests and single-node
// deployments. When the cap is exceeded the oldest events are evicted.
type Memory struct {
	mu     sync.RWMutex
	events []types.Event
	cap    int
}

var (
	_ Sink   = (*Memory)(nil)
	_ Reader = (*Memory)(nil)
)

// NewMemory returns a Memory holding at most capacity events; zero selects
// 65536.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 65536
	}
	return &Memory{cap: capacity}
}

// Write implements Sink.
func (m *Memory) Write(_ context.Context, events []types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	if over := len(m.events) - m.cap; over > 0 {
		m.events = append([]types.Event(nil), m.events[over:]...)
	}
	return nil
}

// Read implements Reader. Events are returned in stored order, which is
// (turnIndex, seq) order because turns are serialised per call.
func (m *Memory) Read(_ context.Context, tenantID, callID string) ([]types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Event
	for _, ev := range m.events {
		if ev.TenantID == tenantID && ev.CallID == callID {
			out = append(out, ev)
		}
	}
	return out, nil
}
