package extract

import "time"

// Stage names recorded in a Trace.
const (
	StageTransport = "transport"
	StageParse     = "parse"
	StageValidate  = "validate"
)

// Trace captures per-stage timing for one Extract call.
type Trace struct {
	Spans []Span `json:"spans"`

	// TotalDurationMs is the sum of all span durations in milliseconds
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span is one timed stage: "transport", "parse" or "validate".
type Span struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`

	// Error is the failure message when OK is false
	Error string `json:"error,omitempty"`

	// Counters carries stage figures such as "promptTokens" or "fields"
	Counters map[string]int64 `json:"counters,omitempty"`
}

func newTrace() *Trace {
	return &Trace{Spans: make([]Span, 0, 3)}
}

func (t *Trace) addSpan(span Span) {
	t.Spans = append(t.Spans, span)
	t.TotalDurationMs += span.DurationMs
}

// Span returns the span for stage, if it ran.
func (t *Trace) Span(stage string) (Span, bool) {
	if t == nil {
		return Span{}, false
	}
	for _, s := range t.Spans {
		if s.Name == stage {
			return s, true
		}
	}
	return Span{}, false
}

type spanTimer struct {
	name  string
	start time.Time
	trace *Trace
}

func startSpan(name string, trace *Trace) *spanTimer {
	return &spanTimer{name: name, start: time.Now(), trace: trace}
}

func (st *spanTimer) finish(err error, counters map[string]int64) {
	span := Span{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.Error = err.Error()
	}
	st.trace.addSpan(span)
}
