// Package trace exports sanitised per-call records for offline analysis.
package trace

import (
	"context"
	"time"
)

// Exporter writes call records somewhere durable.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes one record.
	Export(ctx context.Context, record *Record) error

	// Close flushes buffered records and releases resources.
	Close() error
}

// Record describes one finished Generate or GenerateStructured call.
// It never contains prompts, model output or credentials.
type Record struct {
	// Timestamp is the call start time
	Timestamp time.Time `json:"timestamp"`

	// OperationID correlates the record with log lines and spans
	OperationID string `json:"operationId"`

	// Operation is "generate" or "generate_structured"
	Operation string `json:"operation"`

	Model string `json:"model,omitempty"`

	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	// Reason is the extraction failure code (transport_error, parse_error,
	// validation_error) when a structured call fails
	Reason string `json:"reason,omitempty"`

	// ErrorType is the coarse classification (timeout, network, status, ...)
	ErrorType string `json:"errorType,omitempty"`

	// Field names the offending field of a validation failure
	Field string `json:"field,omitempty"`

	// Attempts counts extract calls made by the retrying variant
	Attempts int `json:"attempts,omitempty"`

	PromptTokens     int64 `json:"promptTokens,omitempty"`
	CompletionTokens int64 `json:"completionTokens,omitempty"`

	Spans []SpanRecord `json:"spans"`
}

// SpanRecord is one timed stage: transport, parse or validate.
type SpanRecord struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`

	// Counters holds stage figures such as token or field counts
	Counters map[string]int64 `json:"counters,omitempty"`
}

// NewExporter returns a FileExporter for path, or a NoopExporter when path is empty.
func NewExporter(path string, opts ...FileExporterOption) (Exporter, error) {
	if path == "" {
		return NoopExporter{}, nil
	}
	fe, err := NewFileExporter(path, opts...)
	if err != nil {
		return nil, err
	}
	return fe, nil
}

// NoopExporter discards records.
type NoopExporter struct{}

// Export does nothing.
func (NoopExporter) Export(ctx context.Context, record *Record) error {
	return nil
}

// Close does nothing.
func (NoopExporter) Close() error {
	return nil
}
