// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"

	"github.com/voxlinehq/voxline/pkg/provider/embeddings"
)

// Provider is a test double for embeddings.Provider. When EmbedFunc is unset
// it returns a deterministic unit vector derived from the text bytes.
type Provider struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dim       int
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(ctx, text)
	}
	dim := p.Dimensions()
	v := make([]float32, dim)
	for i, b := range []byte(text) {
		v[i%dim] += float32(b) / 255
	}
	return v, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 8
}
