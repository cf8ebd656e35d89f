// Package llm defines the language model provider interface used by the
// Tier-3 scenario matcher and the discovery flow's free-form replies.
package llm

import "context"

// Message is one chat turn in a completion request.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionRequest is a single-shot chat completion.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	// JSONOnly forces the provider into JSON output mode when supported.
	JSONOnly bool
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is a synchronous chat completion backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
