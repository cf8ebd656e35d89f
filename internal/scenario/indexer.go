package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxlinehq/voxline/pkg/provider/embeddings"
)

// duplicateDistance is the cosine distance below which two scenarios' trigger
// embeddings are considered to cover the same utterances.
const duplicateDistance = 0.08

// SimilaritySearcher is the optional nearest-neighbour surface of a Store.
// The Postgres store implements it; the in-memory store does not.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Similar, error)
}

// Overlap is a pair of scenarios whose trigger embeddings nearly coincide.
// Overlapping catalogues make tier selection order-dependent, so the indexer
// reports them for the tenant admin to resolve.
type Overlap struct {
	ScenarioID string  `json:"scenarioId"`
	OtherID    string  `json:"otherId"`
	Distance   float64 `json:"distance"`
}

// IndexReport summarises one indexing run.
type IndexReport struct {
	TenantID string    `json:"tenantId"`
	Indexed  int       `json:"indexed"`
	Overlaps []Overlap `json:"overlaps,omitempty"`
}

// Indexer computes and stores trigger embeddings for a tenant's catalogue.
// It runs from the admin CLI after catalogue edits, never during a call.
type Indexer struct {
	store    Store
	embedder embeddings.Provider
	log      *slog.Logger
}

// NewIndexer constructs an Indexer over store using embedder.
func NewIndexer(store Store, embedder embeddings.Provider, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, log: log}
}

// Index embeds every scenario's trigger text and writes the vectors back.
// When the store supports similarity search, each freshly embedded scenario
// is also checked against the index and near-duplicates are reported.
func (ix *Indexer) Index(ctx context.Context, tenantID string) (*IndexReport, error) {
	scs, err := ix.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("scenario indexer: list %s: %w", tenantID, err)
	}

	rep := &IndexReport{TenantID: tenantID}
	if len(scs) == 0 {
		return rep, nil
	}

	texts := make([]string, len(scs))
	for i, sc := range scs {
		texts[i] = triggerText(sc)
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("scenario indexer: embed %s: %w", tenantID, err)
	}
	if len(vectors) != len(scs) {
		return nil, fmt.Errorf("scenario indexer: embedder returned %d vectors for %d scenarios", len(vectors), len(scs))
	}

	searcher, _ := ix.store.(SimilaritySearcher)
	for i, sc := range scs {
		sc.Embedding = vectors[i]
		if err := ix.store.Put(ctx, tenantID, sc); err != nil {
			return nil, fmt.Errorf("scenario indexer: store %s/%s: %w", tenantID, sc.ID, err)
		}
		rep.Indexed++

		if searcher == nil {
			continue
		}
		near, err := searcher.SearchSimilar(ctx, tenantID, sc.Embedding, 2)
		if err != nil {
			ix.log.Warn("similarity check failed", "tenant_id", tenantID, "scenario_id", sc.ID, "err", err)
			continue
		}
		for _, hit := range near {
			if hit.Scenario.ID == sc.ID || hit.Distance > duplicateDistance {
				continue
			}
			rep.Overlaps = append(rep.Overlaps, Overlap{
				ScenarioID: sc.ID,
				OtherID:    hit.Scenario.ID,
				Distance:   hit.Distance,
			})
		}
	}
	return rep, nil
}

// triggerText is the canonical embedding input for a scenario: positive
// triggers only, one per line. Negative triggers steer matching, not
// semantics, so they stay out of the vector.
func triggerText(sc Scenario) string {
	return strings.Join(sc.Triggers, "\n")
}
