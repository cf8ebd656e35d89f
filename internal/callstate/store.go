package callstate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/voxlinehq/voxline/pkg/types"
)

// ErrStaleTurn is returned by Persist when the stored turn index is already
// at or past the one being written.
var ErrStaleTurn = errors.New("callstate: stale turn index")

// ErrBusy is returned by a Locker when another turn holds the call and the
// wait budget is spent.
var ErrBusy = errors.New("callstate: call busy")

// Store persists call state. Load on an unknown call returns a fresh initial
// state, never an error; Release is idempotent.
type Store interface {
	Load(ctx context.Context, tenantID, callID string) (State, error)
	Persist(ctx context.Context, st State) error
	Release(ctx context.Context, tenantID, callID string) error
}

// Locker serialises turns per call. Acquire blocks up to wait for the
// in-flight turn, then fails with ErrBusy. The returned release function is
// safe to call exactly once.
type Locker interface {
	Acquire(ctx context.Context, tenantID, callID string, wait time.Duration) (release func(), err error)
}

// RecentCall is one entry in a tenant's most-recent-calls listing, the
// operational view of which calls touched the store last.
type RecentCall struct {
	CallID      string     `json:"callId"`
	Lane        types.Lane `json:"lane"`
	TurnIndex   int        `json:"turnIndex"`
	UpdatedAtMs int64      `json:"updatedAtMs"`
}

// RecentLister is implemented by stores that can enumerate a tenant's most
// recently updated calls.
type RecentLister interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]RecentCall, error)
}

type stateKey struct{ tenant, call string }

// MemStore is an in-memory Store and Locker for tests and single-node
// deployments.
type MemStore struct {
	mu    sync.Mutex
	data  map[stateKey]State
	locks map[stateKey]chan struct{}
}

var (
	_ Store        = (*MemStore)(nil)
	_ Locker       = (*MemStore)(nil)
	_ RecentLister = (*MemStore)(nil)
)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data:  make(map[stateKey]State),
		locks: make(map[stateKey]chan struct{}),
	}
}

// Load implements Store.
func (m *MemStore) Load(_ context.Context, tenantID, callID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.data[stateKey{tenantID, callID}]; ok {
		return st.Clone(), nil
	}
	return New(tenantID, callID), nil
}

// Persist implements Store.
func (m *MemStore) Persist(_ context.Context, st State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey{st.TenantID, st.CallID}
	if cur, ok := m.data[key]; ok && cur.TurnIndex >= st.TurnIndex {
		return ErrStaleTurn
	}
	st.UpdatedAtMs = time.Now().UnixMilli()
	m.data[key] = st.Clone()
	return nil
}

// Recent implements RecentLister: the tenant's calls newest-first by last
// update, capped at limit.
func (m *MemStore) Recent(_ context.Context, tenantID string, limit int) ([]RecentCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecentCall
	for k, st := range m.data {
		if k.tenant != tenantID {
			continue
		}
		out = append(out, RecentCall{
			CallID:      st.CallID,
			Lane:        st.Lane,
			TurnIndex:   st.TurnIndex,
			UpdatedAtMs: st.UpdatedAtMs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAtMs != out[j].UpdatedAtMs {
			return out[i].UpdatedAtMs > out[j].UpdatedAtMs
		}
		return out[i].CallID < out[j].CallID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Release implements Store.
func (m *MemStore) Release(_ context.Context, tenantID, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, stateKey{tenantID, callID})
	return nil
}

// Acquire implements Locker with a per-call token channel.
func (m *MemStore) Acquire(ctx context.Context, tenantID, callID string, wait time.Duration) (func(), error) {
	key := stateKey{tenantID, callID}

	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	release := func() func() {
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }
	}

	// Fast path so a zero wait (reject policy) still wins a free lock.
	select {
	case ch <- struct{}{}:
		return release(), nil
	default:
	}
	if wait <= 0 {
		return nil, ErrBusy
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return release(), nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
