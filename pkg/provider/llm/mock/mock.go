// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlinehq/voxline/pkg/provider/llm"
)

// Provider is a test double for llm.Provider. Set CompleteFunc to script the
// behaviour; calls are recorded for assertions.
type Provider struct {
	mu           sync.Mutex
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Calls        []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.CompleteFunc
	p.mu.Unlock()
	if fn == nil {
		return &llm.CompletionResponse{}, nil
	}
	return fn(ctx, req)
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
