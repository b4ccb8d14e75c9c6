// Package metrics records call counts, durations, errors and token usage.
package metrics

import "context"

// Collector receives call metrics from the loom client.
// Implementations must be safe for concurrent use.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordTokens(ctx context.Context, model string, tokenType string, count int64)
}

// Token types passed to RecordTokens.
const (
	TokensPrompt     = "prompt"
	TokensCompletion = "completion"
)
