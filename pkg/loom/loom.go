// Package loom is the caller-facing client: free-text generation and
// schema-validated structured generation against an OpenAI-compatible server.
package loom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dan-solli/loom/pkg/extract"
	"github.com/dan-solli/loom/pkg/llm"
	"github.com/dan-solli/loom/pkg/metrics"
	"github.com/dan-solli/loom/pkg/schema"
	calltrace "github.com/dan-solli/loom/pkg/trace"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/dan-solli/loom"

// Client is safe for concurrent use. Calls share no mutable state.
type Client struct {
	cfg       Config
	llm       llm.Client
	extractor *extract.Extractor

	logger       *zap.Logger
	metrics      metrics.Collector
	tracer       oteltrace.Tracer
	exporter     calltrace.Exporter
	ownsExporter bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector (default: no-op).
func WithMetrics(collector metrics.Collector) Option {
	return func(c *Client) {
		if collector != nil {
			c.metrics = collector
		}
	}
}

// WithTracer sets the OpenTelemetry tracer (default: the global provider).
func WithTracer(tracer oteltrace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithExporter sets the call record exporter. It overrides Config.TraceFile
// and is not closed by Client.Close.
func WithExporter(exporter calltrace.Exporter) Option {
	return func(c *Client) {
		if exporter != nil {
			c.exporter = exporter
		}
	}
}

// New creates a Client talking to cfg.Host through the openai-go transport.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:    cfg.Host,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	return NewWithLLM(cfg, transport, opts...)
}

// NewWithLLM creates a Client on top of an existing transport.
func NewWithLLM(cfg Config, transport llm.Client, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidInput)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		llm:     transport,
		logger:  zap.NewNop(),
		metrics: metrics.NewNoopCollector(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.exporter == nil {
		exporter, err := calltrace.NewExporter(cfg.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		c.exporter = exporter
		c.ownsExporter = true
	}

	c.logger = c.logger.With(zap.String("component", "loom"))
	c.extractor = extract.New(transport, extract.WithLogger(c.logger))

	return c, nil
}

// Config returns the effective configuration, defaults included.
func (c *Client) Config() Config {
	return c.cfg
}

// Close releases the trace exporter created from Config.TraceFile.
func (c *Client) Close() error {
	if c.ownsExporter {
		return c.exporter.Close()
	}
	return nil
}

// Generate sends a free-text request and returns the raw completion.
//
// The system and user prompts must not be blank and the temperature must be
// within [0, 2]; otherwise ErrInvalidInput is returned without a backend call.
func (c *Client) Generate(ctx context.Context, system, user string, opts ...GenerateOption) (*llm.Response, error) {
	o := c.newGenerateOptions(c.cfg.Temperature, opts)
	if err := checkPrompts(system, user, o.temperature); err != nil {
		return nil, err
	}

	ctx, op := c.startOperation(ctx, OpGenerate)
	resp, err := c.llm.Complete(ctx, llm.Request{
		System: system,
		User:   user,
		Params: o.params(),
	})
	op.finish(ctx, outcome{err: err, resp: resp})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GenerateStructured asks for a JSON object conforming to s and returns it
// validated. Failures are *extract.Failure values carrying a reason code;
// see extract.Extractor for the exact semantics. There is no retry.
func (c *Client) GenerateStructured(ctx context.Context, system, user string, s *schema.Schema, opts ...GenerateOption) (*extract.Result, error) {
	o := c.newGenerateOptions(c.cfg.StructuredTemperature, opts)
	if err := checkStructured(system, user, s, o.temperature); err != nil {
		return nil, err
	}

	ctx, op := c.startOperation(ctx, OpGenerateStructured)
	result, err := c.extractor.ExtractWithParams(ctx, system, user, s, o.params())
	op.finish(ctx, structuredOutcome(result, err, 0))
	return result, err
}

// GenerateStructuredWithRetry repeats GenerateStructured up to maxAttempts
// times with exponential backoff. Parse and validation failures and
// retryable transport failures (timeouts, network errors, 429, 5xx) are
// retried; any other failure returns immediately. The last failure is
// returned when every attempt failed.
func (c *Client) GenerateStructuredWithRetry(ctx context.Context, system, user string, s *schema.Schema, maxAttempts int, opts ...GenerateOption) (*extract.Result, error) {
	o := c.newGenerateOptions(c.cfg.StructuredTemperature, opts)
	if err := checkStructured(system, user, s, o.temperature); err != nil {
		return nil, err
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: maxAttempts must be at least 1, got %d", ErrInvalidInput, maxAttempts)
	}

	ctx, op := c.startOperation(ctx, OpGenerateStructured)
	params := o.params()

	attempts := 0
	var lastErr error
	var usage llm.Usage
	result, err := backoff.Retry(ctx, func() (*extract.Result, error) {
		attempts++
		res, err := c.extractor.ExtractWithParams(ctx, system, user, s, params)
		if resp := structuredOutcome(res, err, 0).resp; resp != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
			usage.TotalTokens += resp.Usage.TotalTokens
		}
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			op.logger.Info("retrying structured generation",
				zap.Int("attempt", attempts),
				zap.String("error_type", ClassifyError(err)),
				zap.Duration("backoff", next))
		}),
	)
	if err != nil && lastErr != nil && !errors.Is(err, lastErr) {
		// context expired between attempts; keep the model failure visible
		err = fmt.Errorf("%w (last attempt: %w)", err, lastErr)
	}

	out := structuredOutcome(result, err, attempts)
	if out.resp != nil {
		// the record accounts for every attempt, not only the last one
		summed := *out.resp
		summed.Usage = usage
		out.resp = &summed
	}
	op.finish(ctx, out)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	b.MaxInterval = 20 * c.cfg.RetryInterval
	return b
}

func structuredOutcome(result *extract.Result, err error, attempts int) outcome {
	out := outcome{err: err, attempts: attempts}
	if result != nil {
		out.resp = result.Response
		out.trace = result.Trace
		return out
	}
	var failure *extract.Failure
	if errors.As(err, &failure) {
		out.resp = failure.Response
		out.trace = failure.Trace
	}
	return out
}

func checkPrompts(system, user string, temperature float64) error {
	if strings.TrimSpace(system) == "" {
		return fmt.Errorf("%w: system prompt cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("%w: user prompt cannot be empty", ErrInvalidInput)
	}
	if !validTemperature(temperature) {
		return fmt.Errorf("%w: temperature must be within [0, %.1f], got %g", ErrInvalidInput, MaxTemperature, temperature)
	}
	return nil
}

func checkStructured(system, user string, s *schema.Schema, temperature float64) error {
	if err := checkPrompts(system, user, temperature); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: schema is nil", ErrInvalidInput)
	}
	return nil
}
