// Package embeddings defines the vector embedding provider interface used by
// the scenario store's semantic index.
package embeddings

import "context"

// Provider produces dense vector embeddings for text. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector width this provider produces.
	Dimensions() int
}
