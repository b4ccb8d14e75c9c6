package loom

import "github.com/dan-solli/loom/pkg/llm"

// GenerateOption overrides generation parameters for one call.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	temperature float64
	maxTokens   int
	reasoning   bool
	extra       map[string]any
}

// WithTemperature overrides the sampling temperature, 0.0 to 2.0.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) {
		o.temperature = t
	}
}

// WithMaxTokens caps the generated tokens; zero or less leaves the backend limit.
func WithMaxTokens(n int) GenerateOption {
	return func(o *generateOptions) {
		o.maxTokens = n
	}
}

// WithReasoning toggles the enable_reasoning body field.
func WithReasoning(enabled bool) GenerateOption {
	return func(o *generateOptions) {
		o.reasoning = enabled
	}
}

// WithExtra adds a top-level request body field, forwarded unvalidated.
func WithExtra(key string, value any) GenerateOption {
	return func(o *generateOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[key] = value
	}
}

func (c *Client) newGenerateOptions(temperature float64, opts []GenerateOption) generateOptions {
	o := generateOptions{
		temperature: temperature,
		maxTokens:   c.cfg.MaxTokens,
		reasoning:   !c.cfg.DisableReasoning,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o generateOptions) params() llm.Params {
	p := llm.Params{
		Temperature:     llm.Float(o.temperature),
		EnableReasoning: llm.Bool(o.reasoning),
		Extra:           o.extra,
	}
	if o.maxTokens > 0 {
		p.MaxTokens = o.maxTokens
	}
	return p
}
