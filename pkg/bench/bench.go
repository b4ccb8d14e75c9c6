// Package bench fires concurrent generate calls and reports throughput.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dan-solli/loom/pkg/llm"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Workload defaults.
const (
	DefaultRequests = 20
	DefaultSystem   = "System"
	DefaultPrompt   = "Explain the difference between Latency and Throughput in 50 words."
)

// GenerateFunc performs one free-text call, e.g. (*loom.Client).Generate
// with its options bound.
type GenerateFunc func(ctx context.Context, system, user string) (*llm.Response, error)

// Options describes the workload.
type Options struct {
	// Requests is the number of calls to make (default 20)
	Requests int

	// Concurrency caps calls in flight; zero means all at once
	Concurrency int

	// RPS paces call starts; zero means no pacing
	RPS float64

	System string
	Prompt string
}

// Result is the outcome of one call.
type Result struct {
	Latency          time.Duration
	CompletionTokens int64
	Err              error
}

// Report summarises a run.
type Report struct {
	Requests         int
	Failures         int
	Wall             time.Duration
	CompletionTokens int64

	// Throughput is completion tokens per second of wall time
	Throughput float64

	MeanLatency time.Duration
	P95Latency  time.Duration
	MaxLatency  time.Duration

	Results []Result
}

func (o Options) withDefaults() Options {
	if o.Requests <= 0 {
		o.Requests = DefaultRequests
	}
	if o.Concurrency <= 0 || o.Concurrency > o.Requests {
		o.Concurrency = o.Requests
	}
	if o.System == "" {
		o.System = DefaultSystem
	}
	if o.Prompt == "" {
		o.Prompt = DefaultPrompt
	}
	return o
}

// Run executes the workload. Individual call failures are counted in the
// report; Run itself fails only on bad options or when ctx ends.
func Run(ctx context.Context, generate GenerateFunc, opts Options) (*Report, error) {
	if generate == nil {
		return nil, errors.New("bench: generate func is nil")
	}
	if opts.RPS < 0 {
		return nil, fmt.Errorf("bench: rps must not be negative, got %g", opts.RPS)
	}
	opts = opts.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	results := make([]Result, opts.Requests)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	start := time.Now()
	for i := range results {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			callStart := time.Now()
			resp, err := generate(gctx, opts.System, opts.Prompt)
			results[i] = Result{Latency: time.Since(callStart), Err: err}
			if err == nil && resp != nil {
				results[i].CompletionTokens = resp.Usage.CompletionTokens
			}
			return nil
		})
	}
	_ = g.Wait()
	wall := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bench interrupted: %w", err)
	}

	return summarise(results, wall), nil
}

func summarise(results []Result, wall time.Duration) *Report {
	report := &Report{
		Requests:         len(results),
		Wall:             wall,
		Failures:         lo.CountBy(results, func(r Result) bool { return r.Err != nil }),
		CompletionTokens: lo.SumBy(results, func(r Result) int64 { return r.CompletionTokens }),
		Results:          results,
	}
	if wall > 0 {
		report.Throughput = float64(report.CompletionTokens) / wall.Seconds()
	}

	latencies := lo.Map(results, func(r Result, _ int) time.Duration { return r.Latency })
	if len(latencies) == 0 {
		return report
	}
	slices.Sort(latencies)
	report.MeanLatency = lo.Sum(latencies) / time.Duration(len(latencies))
	report.MaxLatency = latencies[len(latencies)-1]
	report.P95Latency = latencies[percentileIndex(len(latencies), 0.95)]
	return report
}

// percentileIndex uses the nearest-rank method.
func percentileIndex(n int, p float64) int {
	rank := int(math.Ceil(float64(n)*p)) - 1
	return max(0, min(rank, n-1))
}
