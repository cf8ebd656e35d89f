package scenario

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxlinehq/voxline/pkg/types"
)

// PostgresStore persists scenario catalogues in PostgreSQL. Trigger
// embeddings live in a pgvector column so the admin surface can run
// nearest-neighbour lookups over catalogues ("which scenario already covers
// this utterance") without a separate index.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the scenarios table and its indexes if they do not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	const q = `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS scenarios (
		    tenant_id         TEXT        NOT NULL,
		    id                TEXT        NOT NULL,
		    position          INTEGER     NOT NULL,
		    type              TEXT        NOT NULL,
		    triggers          TEXT[]      NOT NULL,
		    negative_triggers TEXT[]      NOT NULL DEFAULT '{}',
		    min_confidence    REAL        NOT NULL DEFAULT 0,
		    reply_strategy    TEXT        NOT NULL DEFAULT '',
		    quick_replies     JSONB       NOT NULL DEFAULT '[]',
		    full_replies      JSONB       NOT NULL DEFAULT '[]',
		    follow_up         JSONB       NOT NULL DEFAULT '{}',
		    priority          INTEGER     NOT NULL DEFAULT 0,
		    embedding         vector(1536),
		    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		    PRIMARY KEY (tenant_id, id)
		);

		CREATE INDEX IF NOT EXISTS scenarios_tenant_position_idx
		    ON scenarios (tenant_id, position);

		CREATE INDEX IF NOT EXISTS scenarios_embedding_idx
		    ON scenarios USING hnsw (embedding vector_cosine_ops);`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("scenario store: init schema: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]Scenario, error) {
	const q = `
		SELECT id, type, triggers, negative_triggers, min_confidence,
		       reply_strategy, quick_replies, full_replies, follow_up,
		       priority, embedding
		FROM   scenarios
		WHERE  tenant_id = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("scenario store: list tenant %s: %w", tenantID, err)
	}
	out, err := pgx.CollectRows(rows, scanScenario)
	if err != nil {
		return nil, fmt.Errorf("scenario store: scan rows: %w", err)
	}
	return out, nil
}

// Put implements Store. New IDs take the next position; existing IDs keep
// theirs.
func (s *PostgresStore) Put(ctx context.Context, tenantID string, sc Scenario) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("scenario store: put: %w", err)
	}

	quick, err := json.Marshal(sc.QuickReplies)
	if err != nil {
		return fmt.Errorf("scenario store: marshal quick replies: %w", err)
	}
	full, err := json.Marshal(sc.FullReplies)
	if err != nil {
		return fmt.Errorf("scenario store: marshal full replies: %w", err)
	}
	followUp, err := json.Marshal(sc.FollowUp)
	if err != nil {
		return fmt.Errorf("scenario store: marshal follow up: %w", err)
	}

	var embedding any
	if len(sc.Embedding) > 0 {
		embedding = pgvector.NewVector(sc.Embedding)
	}

	const q = `
		INSERT INTO scenarios
		    (tenant_id, id, position, type, triggers, negative_triggers,
		     min_confidence, reply_strategy, quick_replies, full_replies,
		     follow_up, priority, embedding, updated_at)
		VALUES
		    ($1, $2,
		     (SELECT COALESCE(MAX(position), -1) + 1 FROM scenarios WHERE tenant_id = $1),
		     $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (tenant_id, id) DO UPDATE SET
		    type              = EXCLUDED.type,
		    triggers          = EXCLUDED.triggers,
		    negative_triggers = EXCLUDED.negative_triggers,
		    min_confidence    = EXCLUDED.min_confidence,
		    reply_strategy    = EXCLUDED.reply_strategy,
		    quick_replies     = EXCLUDED.quick_replies,
		    full_replies      = EXCLUDED.full_replies,
		    follow_up         = EXCLUDED.follow_up,
		    priority          = EXCLUDED.priority,
		    embedding         = EXCLUDED.embedding,
		    updated_at        = now()`

	_, err = s.pool.Exec(ctx, q,
		tenantID, sc.ID, string(sc.Type), sc.Triggers, sc.NegativeTriggers,
		sc.MinConfidence, string(sc.ReplyStrategy), quick, full, followUp,
		sc.Priority, embedding,
	)
	if err != nil {
		return fmt.Errorf("scenario store: put %s/%s: %w", tenantID, sc.ID, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, tenantID, scenarioID string) error {
	const q = `DELETE FROM scenarios WHERE tenant_id = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, tenantID, scenarioID); err != nil {
		return fmt.Errorf("scenario store: delete %s/%s: %w", tenantID, scenarioID, err)
	}
	return nil
}

// Similar is a nearest-neighbour hit from SearchSimilar.
type Similar struct {
	Scenario Scenario
	Distance float64
}

// SearchSimilar returns the topK scenarios whose trigger embeddings are
// closest (cosine distance) to the query embedding. Scenarios without an
// embedding are never returned.
func (s *PostgresStore) SearchSimilar(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Similar, error) {
	const q = `
		SELECT id, type, triggers, negative_triggers, min_confidence,
		       reply_strategy, quick_replies, full_replies, follow_up,
		       priority, embedding,
		       embedding <=> $2 AS distance
		FROM   scenarios
		WHERE  tenant_id = $1 AND embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, tenantID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("scenario store: search similar: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Similar, error) {
		var (
			sim  Similar
			vec  *pgvector.Vector
			tmp  Scenario
			qr   []byte
			fr   []byte
			fu   []byte
			typ  string
			strt string
		)
		if err := row.Scan(&tmp.ID, &typ, &tmp.Triggers, &tmp.NegativeTriggers,
			&tmp.MinConfidence, &strt, &qr, &fr, &fu, &tmp.Priority, &vec,
			&sim.Distance); err != nil {
			return Similar{}, err
		}
		if err := finishScenario(&tmp, typ, strt, qr, fr, fu, vec); err != nil {
			return Similar{}, err
		}
		sim.Scenario = tmp
		return sim, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scenario store: scan similar rows: %w", err)
	}
	return out, nil
}

func scanScenario(row pgx.CollectableRow) (Scenario, error) {
	var (
		sc   Scenario
		vec  *pgvector.Vector
		qr   []byte
		fr   []byte
		fu   []byte
		typ  string
		strt string
	)
	if err := row.Scan(&sc.ID, &typ, &sc.Triggers, &sc.NegativeTriggers,
		&sc.MinConfidence, &strt, &qr, &fr, &fu, &sc.Priority, &vec); err != nil {
		return Scenario{}, err
	}
	if err := finishScenario(&sc, typ, strt, qr, fr, fu, vec); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func finishScenario(sc *Scenario, typ, strategy string, quick, full, followUp []byte, vec *pgvector.Vector) error {
	sc.Type = types.ScenarioType(typ)
	sc.ReplyStrategy = ReplyStrategy(strategy)
	if err := json.Unmarshal(quick, &sc.QuickReplies); err != nil {
		return fmt.Errorf("decode quick replies for %s: %w", sc.ID, err)
	}
	if err := json.Unmarshal(full, &sc.FullReplies); err != nil {
		return fmt.Errorf("decode full replies for %s: %w", sc.ID, err)
	}
	if err := json.Unmarshal(followUp, &sc.FollowUp); err != nil {
		return fmt.Errorf("decode follow up for %s: %w", sc.ID, err)
	}
	if vec != nil {
		sc.Embedding = vec.Slice()
	}
	return nil
}
