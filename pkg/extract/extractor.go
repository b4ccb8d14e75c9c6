// Package extract turns a free-text completion into a schema-validated object.
//
// One Extract call performs exactly one transport call, then a strict parse and
// an all-or-nothing validation. There is no internal retry and no lenient
// recovery of JSON from surrounding prose.
package extract

import (
	"context"
	"errors"

	"github.com/dan-solli/loom/pkg/llm"
	"github.com/dan-solli/loom/pkg/schema"
	"go.uber.org/zap"
)

// DefaultTemperature is the sampling temperature used for structured calls
// unless overridden with WithParams.
const DefaultTemperature = 0.1

// ErrNilSchema is returned when Extract is called without a schema.
var ErrNilSchema = errors.New("extract: schema is nil")

// Result is a successful extraction.
type Result struct {
	// Object holds the validated fields; unknown fields are dropped
	Object schema.Object

	// Raw is the model output exactly as received
	Raw string

	Response *llm.Response
	Trace    *Trace
}

// Extractor runs structured extraction against an llm.Client.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	client     llm.Client
	stripFence bool
	params     llm.Params
	logger     *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCodeFenceStripping toggles removal of a single markdown fence that
// wraps the entire output. Enabled by default.
func WithCodeFenceStripping(enabled bool) Option {
	return func(e *Extractor) {
		e.stripFence = enabled
	}
}

// WithParams sets the default generation parameters for Extract.
// JSONMode is always forced on.
func WithParams(p llm.Params) Option {
	return func(e *Extractor) {
		e.params = p
	}
}

// WithLogger sets the logger. Raw output is only logged at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor on top of client.
func New(client llm.Client, opts ...Option) *Extractor {
	e := &Extractor{
		client:     client,
		stripFence: true,
		params:     llm.Params{Temperature: llm.Float(DefaultTemperature)},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "extract"))
	return e
}

// Extract asks the model for an object matching s and validates the answer.
func (e *Extractor) Extract(ctx context.Context, system, user string, s *schema.Schema) (*Result, error) {
	return e.ExtractWithParams(ctx, system, user, s, e.params)
}

// ExtractWithParams is Extract with per-call generation parameters.
//
// On failure the error is a *Failure whose cause is a *llm.TransportError,
// *ParseError or *schema.ValidationError. A transport failure never reaches
// the parse stage.
func (e *Extractor) ExtractWithParams(ctx context.Context, system, user string, s *schema.Schema, params llm.Params) (*Result, error) {
	if s == nil {
		return nil, ErrNilSchema
	}

	trace := newTrace()
	params.JSONMode = true
	req := llm.Request{
		System: GuidedSystemPrompt(system, s),
		User:   user,
		Params: params,
	}

	timer := startSpan(StageTransport, trace)
	resp, err := e.client.Complete(ctx, req)
	if err == nil && resp == nil {
		err = &llm.TransportError{Op: "chat completion", Err: llm.ErrNoChoices}
	}
	if err != nil {
		var te *llm.TransportError
		if !errors.As(err, &te) {
			err = &llm.TransportError{Op: "chat completion", Err: err}
		}
		timer.finish(err, nil)
		e.logger.Warn("transport failed", zap.String("reason", ReasonTransport), zap.Error(err))
		return nil, &Failure{Reason: ReasonTransport, Err: err, Trace: trace}
	}
	timer.finish(nil, map[string]int64{
		"promptTokens":     resp.Usage.PromptTokens,
		"completionTokens": resp.Usage.CompletionTokens,
	})

	raw := resp.Content
	body := raw
	if e.stripFence {
		body = stripCodeFence(raw)
	}

	timer = startSpan(StageParse, trace)
	doc, err := ParseStrict(body)
	timer.finish(err, nil)
	if err != nil {
		e.logger.Warn("model output is not valid JSON",
			zap.String("reason", ReasonParse),
			zap.String("finish_reason", resp.FinishReason),
			zap.Error(err))
		e.logger.Debug("raw output", zap.String("raw", raw))
		return nil, &Failure{Reason: ReasonParse, Raw: raw, Err: err, Response: resp, Trace: trace}
	}

	timer = startSpan(StageValidate, trace)
	obj, err := s.Validate(doc)
	if err != nil {
		timer.finish(err, nil)
		e.logger.Warn("model output does not match schema",
			zap.String("reason", ReasonValidation),
			zap.String("finish_reason", resp.FinishReason),
			zap.Error(err))
		e.logger.Debug("raw output", zap.String("raw", raw))
		return nil, &Failure{Reason: ReasonValidation, Raw: raw, Err: err, Response: resp, Trace: trace}
	}
	timer.finish(nil, map[string]int64{"fields": int64(len(obj))})

	return &Result{
		Object:   obj,
		Raw:      raw,
		Response: resp,
		Trace:    trace,
	}, nil
}

// GuidedSystemPrompt appends the schema instruction block to system.
func GuidedSystemPrompt(system string, s *schema.Schema) string {
	if system == "" {
		return s.Instruction()
	}
	return system + "\n\n" + s.Instruction()
}
