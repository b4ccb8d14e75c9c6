package loom

import (
	"context"
	"errors"
	"time"

	"github.com/dan-solli/loom/pkg/extract"
	"github.com/dan-solli/loom/pkg/llm"
	"github.com/dan-solli/loom/pkg/metrics"
	"github.com/dan-solli/loom/pkg/schema"
	calltrace "github.com/dan-solli/loom/pkg/trace"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Operation names used in metrics, spans, records and logs.
const (
	OpGenerate           = "generate"
	OpGenerateStructured = "generate_structured"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// operation tracks one caller-facing call from start to finish.
type operation struct {
	client *Client
	name   string
	id     string
	start  time.Time
	span   oteltrace.Span
	logger *zap.Logger
}

// outcome is what a finished call hands to its operation.
type outcome struct {
	err      error
	resp     *llm.Response
	trace    *extract.Trace
	attempts int
}

func (c *Client) startOperation(ctx context.Context, name string) (context.Context, *operation) {
	id := uuid.New().String()
	ctx, span := c.tracer.Start(ctx, "loom."+name,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("loom.operation_id", id),
			attribute.String("llm.model", c.cfg.Model),
		))

	return ctx, &operation{
		client: c,
		name:   name,
		id:     id,
		start:  time.Now(),
		span:   span,
		logger: c.logger.With(zap.String("operation", name), zap.String("operation_id", id)),
	}
}

func (op *operation) finish(ctx context.Context, out outcome) {
	defer op.span.End()

	c := op.client
	duration := time.Since(op.start)
	durationMs := duration.Milliseconds()

	record := &calltrace.Record{
		Timestamp:   op.start.UTC(),
		OperationID: op.id,
		Operation:   op.name,
		Model:       c.cfg.Model,
		DurationMs:  durationMs,
		Status:      statusSuccess,
		Attempts:    out.attempts,
		Spans:       spanRecords(out, durationMs),
	}

	if out.resp != nil {
		if out.resp.Model != "" {
			record.Model = out.resp.Model
		}
		record.PromptTokens = out.resp.Usage.PromptTokens
		record.CompletionTokens = out.resp.Usage.CompletionTokens
		c.metrics.RecordTokens(ctx, record.Model, metrics.TokensPrompt, record.PromptTokens)
		c.metrics.RecordTokens(ctx, record.Model, metrics.TokensCompletion, record.CompletionTokens)
		op.span.SetAttributes(
			attribute.String("llm.response.model", record.Model),
			attribute.String("llm.finish_reason", out.resp.FinishReason),
			attribute.Int64("llm.usage.prompt_tokens", record.PromptTokens),
			attribute.Int64("llm.usage.completion_tokens", record.CompletionTokens),
		)
	}
	if out.attempts > 0 {
		op.span.SetAttributes(attribute.Int("loom.attempts", out.attempts))
	}

	for _, s := range record.Spans {
		c.metrics.RecordStage(ctx, op.name, s.Name, s.DurationMs)
	}

	fields := []zap.Field{
		zap.String("model", record.Model),
		zap.Duration("duration", duration),
	}
	if out.attempts > 0 {
		fields = append(fields, zap.Int("attempts", out.attempts))
	}

	if out.err != nil {
		errType := ClassifyError(out.err)
		record.Status = statusError
		record.ErrorType = errType

		var failure *extract.Failure
		if errors.As(out.err, &failure) {
			record.Reason = failure.Reason
			fields = append(fields, zap.String("reason", failure.Reason))
		}
		var verr *schema.ValidationError
		if errors.As(out.err, &verr) {
			record.Field = verr.Field
			fields = append(fields, zap.String("field", verr.Field))
		}

		c.metrics.RecordOperation(ctx, op.name, statusError, durationMs)
		c.metrics.RecordError(ctx, op.name, errType)

		op.span.RecordError(out.err)
		op.span.SetStatus(codes.Error, errType)
		op.span.SetAttributes(attribute.String("loom.error_type", errType))

		fields = append(fields, zap.String("error_type", errType), zap.Error(out.err))
		op.logger.Warn("operation failed", fields...)
	} else {
		c.metrics.RecordOperation(ctx, op.name, statusSuccess, durationMs)
		op.span.SetStatus(codes.Ok, "")

		fields = append(fields,
			zap.Int64("prompt_tokens", record.PromptTokens),
			zap.Int64("completion_tokens", record.CompletionTokens))
		op.logger.Info("operation completed", fields...)
	}

	if err := c.exporter.Export(ctx, record); err != nil {
		op.logger.Warn("trace export failed", zap.Error(err))
	}
}

// spanRecords converts extraction stages to exported spans. A plain
// generate call has a single transport stage spanning the whole call.
func spanRecords(out outcome, durationMs int64) []calltrace.SpanRecord {
	if out.trace == nil {
		return []calltrace.SpanRecord{{
			Name:       extract.StageTransport,
			DurationMs: durationMs,
			OK:         out.err == nil,
		}}
	}
	spans := make([]calltrace.SpanRecord, 0, len(out.trace.Spans))
	for _, s := range out.trace.Spans {
		spans = append(spans, calltrace.SpanRecord{
			Name:       s.Name,
			DurationMs: s.DurationMs,
			OK:         s.OK,
			Counters:   s.Counters,
		})
	}
	return spans
}
