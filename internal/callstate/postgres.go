package callstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlinehq/voxline/pkg/types"
)

// PostgresStore persists call state as one jsonb row per call with the turn
// index lifted into a column so the monotonicity guard runs inside the
// upsert. Advisory locks serialise turns per call across instances.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[stateKey]*pgxpool.Conn // pinned connections holding advisory locks
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ Locker       = (*PostgresStore)(nil)
	_ RecentLister = (*PostgresStore)(nil)
)

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, conns: make(map[stateKey]*pgxpool.Conn)}
}

// Init creates the call_state table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS call_state (
		    tenant_id  TEXT        NOT NULL,
		    call_id    TEXT        NOT NULL,
		    turn_index INTEGER     NOT NULL,
		    state      JSONB       NOT NULL,
		    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		    PRIMARY KEY (tenant_id, call_id)
		)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("callstate store: init schema: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, tenantID, callID string) (State, error) {
	const q = `SELECT state FROM call_state WHERE tenant_id = $1 AND call_id = $2`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, tenantID, callID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return New(tenantID, callID), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("callstate store: load %s/%s: %w", tenantID, callID, err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("callstate store: decode %s/%s: %w", tenantID, callID, err)
	}
	if st.PendingSlots == nil {
		st.PendingSlots = map[string]SlotValue{}
	}
	if st.ConfirmedSlots == nil {
		st.ConfirmedSlots = map[string]SlotValue{}
	}
	return st, nil
}

// Persist implements Store. The turn index guard lives in the upsert's WHERE
// clause; a stale write matches zero rows.
func (s *PostgresStore) Persist(ctx context.Context, st State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	st.UpdatedAtMs = time.Now().UnixMilli()

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("callstate store: encode %s/%s: %w", st.TenantID, st.CallID, err)
	}

	const q = `
		INSERT INTO call_state (tenant_id, call_id, turn_index, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, call_id) DO UPDATE SET
		    turn_index = EXCLUDED.turn_index,
		    state      = EXCLUDED.state,
		    updated_at = now()
		WHERE call_state.turn_index < EXCLUDED.turn_index`

	tag, err := s.pool.Exec(ctx, q, st.TenantID, st.CallID, st.TurnIndex, raw)
	if err != nil {
		return fmt.Errorf("callstate store: persist %s/%s: %w", st.TenantID, st.CallID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTurn
	}
	return nil
}

// Recent implements RecentLister: the tenant's calls newest-first by last
// update, capped at limit.
func (s *PostgresStore) Recent(ctx context.Context, tenantID string, limit int) ([]RecentCall, error) {
	const q = `
		SELECT call_id, state->>'lane', turn_index,
		       (extract(epoch FROM updated_at) * 1000)::bigint
		FROM call_state
		WHERE tenant_id = $1
		ORDER BY updated_at DESC, call_id
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("callstate store: recent %s: %w", tenantID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecentCall, error) {
		var rc RecentCall
		var lane string
		err := row.Scan(&rc.CallID, &lane, &rc.TurnIndex, &rc.UpdatedAtMs)
		rc.Lane = types.Lane(lane)
		return rc, err
	})
	if err != nil {
		return nil, fmt.Errorf("callstate store: recent %s: %w", tenantID, err)
	}
	return out, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, tenantID, callID string) error {
	const q = `DELETE FROM call_state WHERE tenant_id = $1 AND call_id = $2`
	if _, err := s.pool.Exec(ctx, q, tenantID, callID); err != nil {
		return fmt.Errorf("callstate store: release %s/%s: %w", tenantID, callID, err)
	}
	return nil
}

// Acquire implements Locker with a session advisory lock held on a pinned
// connection. Polling keeps the wait bounded without LISTEN machinery.
func (s *PostgresStore) Acquire(ctx context.Context, tenantID, callID string, wait time.Duration) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("callstate store: acquire conn: %w", err)
	}

	const q = `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	key := tenantID + "/" + callID
	deadline := time.Now().Add(wait)

	for {
		var got bool
		if err := conn.QueryRow(ctx, q, key).Scan(&got); err != nil {
			conn.Release()
			return nil, fmt.Errorf("callstate store: advisory lock: %w", err)
		}
		if got {
			break
		}
		if time.Now().After(deadline) {
			conn.Release()
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	sk := stateKey{tenantID, callID}
	s.mu.Lock()
	s.conns[sk] = conn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.conns, sk)
			s.mu.Unlock()
			// Unlock on a background context so cancellation of the turn
			// cannot leak the advisory lock.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key)
			conn.Release()
		})
	}, nil
}
