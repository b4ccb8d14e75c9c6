// Package llm provides the transport client for OpenAI-compatible chat completion backends
package llm

import "context"

// Client issues a single chat completion request per call.
// Implementations must be safe for concurrent use and must report every
// failure as a *TransportError.
type Client interface {
	// Complete sends the system and user prompts and returns the raw completion
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a chat-style completion request: one system message followed by
// one user message.
type Request struct {
	System string
	User   string
	Params Params
}

// Params are generation knobs forwarded to the backend without validation.
type Params struct {
	// Temperature controls sampling randomness; nil leaves the backend default
	Temperature *float64

	// MaxTokens truncates generation; values <= 0 leave the backend limit
	MaxTokens int

	// EnableReasoning is sent as the "enable_reasoning" body field when set
	EnableReasoning *bool

	// JSONMode requests response_format {"type": "json_object"}
	JSONMode bool

	// Extra body fields, keyed by top-level JSON name
	Extra map[string]any
}

// Usage reports token accounting returned by the backend.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Response is the unparsed completion returned by the backend.
type Response struct {
	// Content is the generated message text (possibly empty)
	Content string

	// Reasoning holds the hidden reasoning text some servers (vLLM, llama.cpp)
	// return next to the message; empty when absent
	Reasoning string

	Usage Usage

	// Model is the model name reported by the backend
	Model string

	// FinishReason is why generation stopped ("stop", "length", ...), or
	// "unknown" when the backend did not say
	FinishReason string
}

// Float returns a pointer to v, for Params.Temperature.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v, for Params.EnableReasoning.
func Bool(v bool) *bool {
	return &v
}
