package loom

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dan-solli/loom/pkg/extract"
	"github.com/dan-solli/loom/pkg/llm"
	"github.com/dan-solli/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobSchema = schema.MustNew(
	schema.String("title"),
	schema.Boolean("is_remote"),
	schema.Integer("salary_max"),
)

// scriptedLLM replays one reply per call; the last reply repeats.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.Request
}

type reply struct {
	content string
	err     error
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	r := s.replies[min(len(s.requests), len(s.replies))-1]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{
		Content:      r.content,
		Model:        "fake-model",
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40},
	}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newScripted(t *testing.T, cfg Config, replies ...reply) (*Client, *scriptedLLM) {
	t.Helper()
	fake := &scriptedLLM{replies: replies}
	cfg.RetryInterval = time.Millisecond
	client, err := NewWithLLM(cfg, fake)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, fake
}

// newBackend starts an OpenAI-compatible fake that answers every request with content.
func newBackend(t *testing.T, content string, hits *atomic.Int32, bodies chan<- map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if bodies != nil {
			data, _ := io.ReadAll(r.Body)
			var body map[string]any
			json.Unmarshal(data, &body)
			bodies <- body
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-oss-120b",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content, "reasoning_content": "thinking"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 20, "total_tokens": 70},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGenerate_EndToEnd(t *testing.T) {
	var hits atomic.Int32
	bodies := make(chan map[string]any, 1)
	server := newBackend(t, "Zen 5 is AMD's newest core.", &hits, bodies)

	client, err := New(Config{Host: server.URL + "/v1", MaxRetries: -1})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Generate(context.Background(), "You are a hardware expert.", "What is Zen 5?")
	require.NoError(t, err)

	assert.Equal(t, "Zen 5 is AMD's newest core.", resp.Content)
	assert.Equal(t, "thinking", resp.Reasoning)
	assert.Equal(t, int64(20), resp.Usage.CompletionTokens)
	assert.Equal(t, int32(1), hits.Load())

	body := <-bodies
	assert.Equal(t, DefaultModel, body["model"])
	assert.Equal(t, DefaultTemperature, body["temperature"])
	assert.Equal(t, true, body["enable_reasoning"])
	assert.NotContains(t, body, "response_format")
	assert.NotContains(t, body, "max_tokens")
}

func TestGenerateStructured_EndToEnd(t *testing.T) {
	var hits atomic.Int32
	bodies := make(chan map[string]any, 1)
	server := newBackend(t, `{"title": "Dev", "is_remote": true, "salary_max": 120000}`, &hits, bodies)

	client, err := New(Config{Host: server.URL + "/v1", MaxRetries: -1})
	require.NoError(t, err)
	defer client.Close()

	result, err := client.GenerateStructured(context.Background(),
		"You extract job postings.", "Remote dev role, up to 120k", jobSchema,
		WithMaxTokens(256), WithReasoning(false))
	require.NoError(t, err)

	assert.Equal(t, schema.Object{"title": "Dev", "is_remote": true, "salary_max": int64(120000)}, result.Object)

	var posting struct {
		Title     string `json:"title"`
		IsRemote  bool   `json:"is_remote"`
		SalaryMax int    `json:"salary_max"`
	}
	require.NoError(t, result.Object.Decode(&posting))
	assert.Equal(t, 120000, posting.SalaryMax)

	body := <-bodies
	assert.Equal(t, DefaultStructuredTemperature, body["temperature"])
	assert.Equal(t, float64(256), body["max_tokens"])
	assert.Equal(t, false, body["enable_reasoning"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	messages := body["messages"].([]any)
	system := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, system, "You extract job postings.")
	assert.Contains(t, system, "You must respond with valid JSON strictly following this schema:")
}

func TestGenerate_Preconditions(t *testing.T) {
	client, fake := newScripted(t, Config{}, reply{content: "ok"})
	ctx := context.Background()

	tests := []struct {
		name   string
		system string
		user   string
		opts   []GenerateOption
	}{
		{"empty system", "", "U", nil},
		{"blank system", "  \n\t", "U", nil},
		{"empty user", "S", "", nil},
		{"blank user", "S", "   ", nil},
		{"negative temperature", "S", "U", []GenerateOption{WithTemperature(-0.1)}},
		{"temperature too high", "S", "U", []GenerateOption{WithTemperature(2.01)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Generate(ctx, tt.system, tt.user, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, ErrTypeInvalidInput, ClassifyError(err))

			_, err = client.GenerateStructured(ctx, tt.system, tt.user, jobSchema, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := client.GenerateStructured(ctx, "S", "U", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 0, fake.calls(), "preconditions must fail before any backend call")
}

func TestGenerate_TemperatureBoundsAccepted(t *testing.T) {
	client, fake := newScripted(t, Config{}, reply{content: "ok"})

	for _, temp := range []float64{0, 1.0, 2.0} {
		_, err := client.Generate(context.Background(), "S", "U", WithTemperature(temp))
		require.NoError(t, err)
	}
	require.Equal(t, 3, fake.calls())
	assert.Equal(t, 0.0, *fake.requests[0].Params.Temperature)
	assert.Equal(t, 2.0, *fake.requests[2].Params.Temperature)
}

func TestGenerate_ParamsFromConfigAndOptions(t *testing.T) {
	client, fake := newScripted(t, Config{Temperature: 0.3, MaxTokens: 99, DisableReasoning: true}, reply{content: "ok"})

	_, err := client.Generate(context.Background(), "S", "U")
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "S", "U",
		WithTemperature(1.2), WithMaxTokens(5), WithReasoning(true), WithExtra("top_k", 40))
	require.NoError(t, err)

	first := fake.requests[0].Params
	assert.Equal(t, 0.3, *first.Temperature)
	assert.Equal(t, 99, first.MaxTokens)
	assert.False(t, *first.EnableReasoning)
	assert.False(t, first.JSONMode)
	assert.Nil(t, first.Extra)

	second := fake.requests[1].Params
	assert.Equal(t, 1.2, *second.Temperature)
	assert.Equal(t, 5, second.MaxTokens)
	assert.True(t, *second.EnableReasoning)
	assert.Equal(t, map[string]any{"top_k": 40}, second.Extra)
}

func TestGenerate_TransportErrorPropagates(t *testing.T) {
	cause := &llm.TransportError{Op: "chat completion", StatusCode: 502, Err: errors.New("bad gateway")}
	client, _ := newScripted(t, Config{}, reply{err: cause})

	_, err := client.Generate(context.Background(), "S", "U")
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 502, te.StatusCode)
	assert.Equal(t, ErrTypeStatus, ClassifyError(err))
}

func TestGenerateStructured_NoRetry(t *testing.T) {
	client, fake := newScripted(t, Config{},
		reply{content: `{"title": "Dev"}`},
		reply{content: `{"title": "Dev", "is_remote": true, "salary_max": 1}`})

	_, err := client.GenerateStructured(context.Background(), "S", "U", jobSchema)
	assert.ErrorIs(t, err, extract.ErrValidation)
	assert.Equal(t, ErrTypeValidation, ClassifyError(err))
	assert.Equal(t, 1, fake.calls())
}

func TestGenerateStructuredWithRetry_RecoversFromInvalidOutput(t *testing.T) {
	client, fake := newScripted(t, Config{},
		reply{content: "Sure! Here it is."},
		reply{content: `{"title": "Dev", "is_remote": "yes", "salary_max": 1}`},
		reply{content: `{"title": "Dev", "is_remote": true, "salary_max": 1}`})

	result, err := client.GenerateStructuredWithRetry(context.Background(), "S", "U", jobSchema, 5)
	require.NoError(t, err)
	assert.Equal(t, "Dev", result.Object["title"])
	assert.Equal(t, 3, fake.calls())
}

func TestGenerateStructuredWithRetry_ExhaustsAttempts(t *testing.T) {
	client, fake := newScripted(t, Config{}, reply{content: `{"title": "Dev"}`})

	_, err := client.GenerateStructuredWithRetry(context.Background(), "S", "U", jobSchema, 3)

	var failure *extract.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extract.ReasonValidation, failure.Reason)
	assert.Equal(t, 3, fake.calls())
}

func TestGenerateStructuredWithRetry_RetryableTransport(t *testing.T) {
	client, fake := newScripted(t, Config{},
		reply{err: &llm.TransportError{Op: "chat completion", StatusCode: 503, Err: errors.New("unavailable")}},
		reply{content: `{"title": "Dev", "is_remote": false, "salary_max": 2}`})

	result, err := client.GenerateStructuredWithRetry(context.Background(), "S", "U", jobSchema, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Object["salary_max"])
	assert.Equal(t, 2, fake.calls())
}

func TestGenerateStructuredWithRetry_PermanentTransportFailure(t *testing.T) {
	cause := &llm.TransportError{Op: "chat completion", StatusCode: 400, Err: errors.New("bad request")}
	client, fake := newScripted(t, Config{}, reply{err: cause})

	_, err := client.GenerateStructuredWithRetry(context.Background(), "S", "U", jobSchema, 5)

	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Same(t, cause, te)
	assert.ErrorIs(t, err, extract.ErrTransport)
	assert.Equal(t, 1, fake.calls(), "4xx is not retried")
}

func TestGenerateStructuredWithRetry_InvalidAttempts(t *testing.T) {
	client, fake := newScripted(t, Config{}, reply{content: "{}"})

	_, err := client.GenerateStructuredWithRetry(context.Background(), "S", "U", jobSchema, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, fake.calls())
}

func TestGenerateStructuredWithRetry_ContextCancelled(t *testing.T) {
	fake := &scriptedLLM{replies: []reply{{content: "not json"}}}
	client, err := NewWithLLM(Config{RetryInterval: time.Minute}, fake)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.GenerateStructuredWithRetry(ctx, "S", "U", jobSchema, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, extract.ErrParse, "last model failure stays visible")
	assert.Equal(t, 1, fake.calls())
}

func TestClient_ConcurrentCalls(t *testing.T) {
	client, fake := newScripted(t, Config{}, reply{content: `{"title": "Dev", "is_remote": true, "salary_max": 1}`})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GenerateStructured(context.Background(), "S", "U", jobSchema)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, fake.calls())
}

func TestNewWithLLM_NilTransport(t *testing.T) {
	_, err := NewWithLLM(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
