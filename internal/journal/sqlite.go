package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/voxlinehq/voxline/pkg/types"
)

// SQLite is a single-file journal used for replay captures: an operator
// exports a call's events to a file, moves it to a workstation, and replays
// it there without a Postgres instance. The cgo-free driver keeps the replay
// tool a plain static binary.
type SQLite struct {
	db *sql.DB
}

var (
	_ Sink   = (*SQLite)(nil)
	_ Reader = (*SQLite)(nil)
)

// OpenSQLite opens (or creates) the capture file and ensures its schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open capture %s: %w", path, err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS call_events (
		    tenant_id    TEXT    NOT NULL,
		    call_id      TEXT    NOT NULL,
		    turn_index   INTEGER NOT NULL,
		    seq          INTEGER NOT NULL,
		    type         TEXT    NOT NULL,
		    timestamp_ms INTEGER NOT NULL,
		    data         TEXT,
		    PRIMARY KEY (tenant_id, call_id, turn_index, seq)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init capture schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying file handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Write implements Sink.
func (s *SQLite) Write(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin capture tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT OR IGNORE INTO call_events
		    (tenant_id, call_id, turn_index, seq, type, timestamp_ms, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("journal: prepare capture insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("journal: encode event data: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.TenantID, ev.CallID, ev.TurnIndex, ev.Seq,
			string(ev.Type), ev.TimestampMs, string(data)); err != nil {
			return fmt.Errorf("journal: capture insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit capture tx: %w", err)
	}
	return nil
}

// Read implements Reader.
func (s *SQLite) Read(ctx context.Context, tenantID, callID string) ([]types.Event, error) {
	const q = `
		SELECT tenant_id, call_id, turn_index, seq, type, timestamp_ms, data
		FROM   call_events
		WHERE  tenant_id = ? AND call_id = ?
		ORDER  BY turn_index, seq`

	rows, err := s.db.QueryContext(ctx, q, tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("journal: read capture %s/%s: %w", tenantID, callID, err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			ev  types.Event
			typ string
			raw string
		)
		if err := rows.Scan(&ev.TenantID, &ev.CallID, &ev.TurnIndex, &ev.Seq, &typ, &ev.TimestampMs, &raw); err != nil {
			return nil, fmt.Errorf("journal: scan capture row: %w", err)
		}
		ev.Type = types.EventType(typ)
		if raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
				return nil, fmt.Errorf("journal: decode event data: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate capture rows: %w", err)
	}
	return out, nil
}
