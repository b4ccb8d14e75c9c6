package loom

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/codingconcepts/env"
	"gopkg.in/yaml.v3"
)

// Defaults for a Config field left at its zero value.
const (
	DefaultHost                  = "http://192.168.1.42:8000/v1"
	DefaultModel                 = "gpt-oss-120b"
	DefaultAPIKey                = "EMPTY"
	DefaultTimeout               = 120 * time.Second
	DefaultMaxRetries            = 2
	DefaultTemperature           = 0.7
	DefaultStructuredTemperature = 0.1
	DefaultRetryInterval         = 500 * time.Millisecond

	// MaxTemperature is the upper bound accepted for any temperature.
	MaxTemperature = 2.0
)

// Config configures a Client. It is read once by New and never mutated.
type Config struct {
	// Host is the API root of the OpenAI-compatible server, including /v1
	Host string `yaml:"host" env:"LOOM_HOST"`

	// Model is the model alias served by the backend
	Model string `yaml:"model" env:"LOOM_MODEL"`

	// APIKey is sent as bearer token; local servers accept "EMPTY"
	APIKey string `yaml:"api_key" env:"LOOM_API_KEY"`

	// Timeout bounds one backend call, transport retries included (default 120s)
	Timeout time.Duration `yaml:"timeout" env:"LOOM_TIMEOUT"`

	// MaxRetries is the number of transport retries on connection errors,
	// 429 and 5xx (default 2). Negative disables them.
	MaxRetries int `yaml:"max_retries" env:"LOOM_MAX_RETRIES"`

	// Temperature for Generate (default 0.7). Zero selects the default; use
	// WithTemperature(0) for greedy decoding.
	Temperature float64 `yaml:"temperature" env:"LOOM_TEMPERATURE"`

	// StructuredTemperature for GenerateStructured (default 0.1)
	StructuredTemperature float64 `yaml:"structured_temperature" env:"LOOM_STRUCTURED_TEMPERATURE"`

	// MaxTokens caps generation; zero leaves the backend limit
	MaxTokens int `yaml:"max_tokens" env:"LOOM_MAX_TOKENS"`

	// DisableReasoning sends enable_reasoning=false by default
	DisableReasoning bool `yaml:"disable_reasoning" env:"LOOM_DISABLE_REASONING"`

	// RetryInterval is the initial backoff of GenerateStructuredWithRetry
	RetryInterval time.Duration `yaml:"retry_interval" env:"LOOM_RETRY_INTERVAL"`

	// TraceFile enables JSON Lines call records when set
	TraceFile string `yaml:"trace_file" env:"LOOM_TRACE_FILE"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is not empty), then LOOM_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("config from environment: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.APIKey == "" {
		c.APIKey = DefaultAPIKey
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.StructuredTemperature == 0 {
		c.StructuredTemperature = DefaultStructuredTemperature
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Validate reports settings no call could succeed with.
func (c Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if !validTemperature(c.Temperature) {
		errs = append(errs, fmt.Errorf("temperature must be within [0, %.1f], got %g", MaxTemperature, c.Temperature))
	}
	if !validTemperature(c.StructuredTemperature) {
		errs = append(errs, fmt.Errorf("structured temperature must be within [0, %.1f], got %g", MaxTemperature, c.StructuredTemperature))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("retry interval must not be negative, got %s", c.RetryInterval))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: invalid config: %w", ErrInvalidInput, errors.Join(errs...))
}

func validTemperature(t float64) bool {
	return t >= 0 && t <= MaxTemperature
}
