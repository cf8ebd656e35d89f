package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlinehq/voxline/pkg/types"
)

// Postgres is the production journal: one row per event, append-only.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Sink   = (*Postgres)(nil)
	_ Reader = (*Postgres)(nil)
)

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Init creates the call_events table if it does not exist.
func (p *Postgres) Init(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS call_events (
		    tenant_id    TEXT   NOT NULL,
		    call_id      TEXT   NOT NULL,
		    turn_index   INTEGER NOT NULL,
		    seq          INTEGER NOT NULL,
		    type         TEXT   NOT NULL,
		    timestamp_ms BIGINT NOT NULL,
		    data         JSONB,
		    PRIMARY KEY (tenant_id, call_id, turn_index, seq)
		);

		CREATE INDEX IF NOT EXISTS call_events_call_idx
		    ON call_events (tenant_id, call_id, turn_index)`
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("journal: init schema: %w", err)
	}
	return nil
}

// Write implements Sink. Conflicting rows are left untouched so a retried
// batch is idempotent.
func (p *Postgres) Write(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO call_events
		    (tenant_id, call_id, turn_index, seq, type, timestamp_ms, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("journal: encode event data: %w", err)
		}
		batch.Queue(q, ev.TenantID, ev.CallID, ev.TurnIndex, ev.Seq, string(ev.Type), ev.TimestampMs, data)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("journal: write batch: %w", err)
	}
	return nil
}

// Read implements Reader.
func (p *Postgres) Read(ctx context.Context, tenantID, callID string) ([]types.Event, error) {
	const q = `
		SELECT tenant_id, call_id, turn_index, seq, type, timestamp_ms, data
		FROM   call_events
		WHERE  tenant_id = $1 AND call_id = $2
		ORDER  BY turn_index, seq`

	rows, err := p.pool.Query(ctx, q, tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("journal: read %s/%s: %w", tenantID, callID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Event, error) {
		var (
			ev  types.Event
			typ string
			raw []byte
		)
		if err := row.Scan(&ev.TenantID, &ev.CallID, &ev.TurnIndex, &ev.Seq, &typ, &ev.TimestampMs, &raw); err != nil {
			return types.Event{}, err
		}
		ev.Type = types.EventType(typ)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Data); err != nil {
				return types.Event{}, fmt.Errorf("decode event data: %w", err)
			}
		}
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	return out, nil
}
