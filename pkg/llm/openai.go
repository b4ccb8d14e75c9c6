package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL    = "http://localhost:8000/v1"
	defaultAPIKey     = "EMPTY"
	defaultTimeout    = 120 * time.Second
	unknownFinish     = "unknown"
	enableReasoningKV = "enable_reasoning"
)

// reasoningFields are the non-standard message fields servers use for hidden
// reasoning text, in lookup order.
var reasoningFields = []string{"reasoning_content", "reasoning"}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// BaseURL is the full API root, e.g. "http://192.168.1.42:8000/v1"
	BaseURL string

	// APIKey is sent as a bearer token; local servers accept any value
	APIKey string

	// Model is the model alias served by the backend (required)
	Model string

	// Timeout bounds one Complete call, transport retries and their backoff
	// included. Each attempt is also capped by it.
	Timeout time.Duration

	// MaxRetries is the number of transport-level retries on connection
	// errors, 408, 409, 429 and 5xx. Zero disables them.
	MaxRetries int

	// HTTPClient overrides the default http.Client
	HTTPClient *http.Client
}

// OpenAIClient implements Client on top of the official openai-go SDK,
// pointed at any OpenAI-compatible server (llama.cpp, vLLM, OpenAI).
type OpenAIClient struct {
	model   string
	baseURL string
	timeout time.Duration
	client  openai.Client
}

// NewOpenAIClient creates a transport client for cfg.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = defaultAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/") + "/"
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIClient{
		model:   cfg.Model,
		baseURL: baseURL,
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
	}, nil
}

// Model returns the configured model alias.
func (c *OpenAIClient) Model() string {
	return c.model
}

// BaseURL returns the normalised API root.
func (c *OpenAIClient) BaseURL() string {
	return c.baseURL
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Params.Temperature != nil {
		params.Temperature = openai.Float(*req.Params.Temperature)
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Params.MaxTokens))
	}
	if req.Params.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var reqOpts []option.RequestOption
	if req.Params.EnableReasoning != nil {
		reqOpts = append(reqOpts, option.WithJSONSet(enableReasoningKV, *req.Params.EnableReasoning))
	}
	for key, value := range req.Params.Extra {
		reqOpts = append(reqOpts, option.WithJSONSet(key, value))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, newTransportError("chat completion", err)
	}

	if len(completion.Choices) == 0 {
		return nil, &TransportError{Op: "chat completion", Err: ErrNoChoices}
	}

	choice := completion.Choices[0]
	finish := string(choice.FinishReason)
	if finish == "" {
		finish = unknownFinish
	}

	return &Response{
		Content:   choice.Message.Content,
		Reasoning: reasoningText(choice.Message.RawJSON()),
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Model:        completion.Model,
		FinishReason: finish,
	}, nil
}

// reasoningText pulls the hidden reasoning field out of the raw message JSON.
// The SDK keeps unknown fields only in the raw payload.
func reasoningText(rawMessage string) string {
	if rawMessage == "" {
		return ""
	}
	for _, field := range reasoningFields {
		if v := gjson.Get(rawMessage, field); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func newTransportError(op string, err error) *TransportError {
	te := &TransportError{Op: op, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.StatusCode
	}
	return te
}

// String describes the client for logs.
func (c *OpenAIClient) String() string {
	return fmt.Sprintf("openai(%s, model=%s)", c.baseURL, c.model)
}
