// Command loom talks to an OpenAI-compatible inference server.
//
// Usage:
//
//	loom generate -system "You are terse." -user "What is Zen 5?"
//	loom extract  -schema job.yaml -system "Extract the posting." -user "Remote dev, 120k"
//	loom bench    -n 20 -c 20
//
// Connection settings come from -config (YAML) and LOOM_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dan-solli/loom/pkg/bench"
	"github.com/dan-solli/loom/pkg/extract"
	"github.com/dan-solli/loom/pkg/llm"
	"github.com/dan-solli/loom/pkg/loom"
	"github.com/dan-solli/loom/pkg/schema"
	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK = iota
	exitError
	exitUsage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "generate":
		err = runGenerate(ctx, args[1:], stdout, stderr)
	case "extract":
		err = runExtract(ctx, args[1:], stdout, stderr)
	case "bench":
		err = runBench(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

var errUsage = errors.New("usage")

func printUsage(w io.Writer) {
	fmt.Fprint(w, `loom - OpenAI-compatible inference client

Commands:
  generate   free-text generation
  extract    structured generation validated against a YAML schema
  bench      concurrent throughput test

Run "loom <command> -h" for flags. Connection settings: -config file.yaml
and LOOM_HOST, LOOM_MODEL, LOOM_API_KEY, LOOM_TIMEOUT, ... environment variables.
`)
}

// common holds flags shared by every subcommand.
type common struct {
	configPath     string
	verbose        bool
	temperature    float64
	temperatureSet bool
	maxTokens      int
	noReasoning    bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&c.verbose, "v", false, "Verbose logging to stderr")
	fs.Float64Var(&c.temperature, "temperature", 0, "Sampling temperature 0.0-2.0 (default from config)")
	fs.IntVar(&c.maxTokens, "max-tokens", 0, "Maximum tokens to generate (default from config)")
	fs.BoolVar(&c.noReasoning, "no-reasoning", false, "Send enable_reasoning=false")
}

// parse parses args and checks the shared flags. Prompt flags named in
// required must be non-blank.
func (c *common) parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "temperature" {
			c.temperatureSet = true
		}
	})
	if c.temperatureSet && (c.temperature < 0 || c.temperature > loom.MaxTemperature) {
		return fmt.Errorf("%w: -temperature must be within [0, %.1f], got %g", errUsage, loom.MaxTemperature, c.temperature)
	}
	for _, name := range required {
		if strings.TrimSpace(fs.Lookup(name).Value.String()) == "" {
			return fmt.Errorf("%w: -%s is required", errUsage, name)
		}
	}
	return nil
}

func (c *common) client(stderr io.Writer) (*loom.Client, error) {
	cfg, err := loom.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	return loom.New(cfg, loom.WithLogger(newLogger(stderr, c.verbose)))
}

func (c *common) options() []loom.GenerateOption {
	var opts []loom.GenerateOption
	if c.temperatureSet {
		opts = append(opts, loom.WithTemperature(c.temperature))
	}
	if c.maxTokens > 0 {
		opts = append(opts, loom.WithMaxTokens(c.maxTokens))
	}
	if c.noReasoning {
		opts = append(opts, loom.WithReasoning(false))
	}
	return opts
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runGenerate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("generate", stderr)
	var c common
	c.register(fs)
	system := fs.String("system", "", "System prompt (required)")
	user := fs.String("user", "", "User prompt (required)")
	showReasoning := fs.Bool("reasoning", false, "Print the model's reasoning before the answer")
	if err := c.parse(fs, args, "system", "user"); err != nil {
		return err
	}

	client, err := c.client(stderr)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Generate(ctx, *system, *user, c.options()...)
	if err != nil {
		return err
	}

	if *showReasoning && resp.Reasoning != "" {
		color.New(color.Faint).Fprintln(stdout, resp.Reasoning)
		fmt.Fprintln(stdout)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

func runExtract(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("extract", stderr)
	var c common
	c.register(fs)
	schemaPath := fs.String("schema", "", "Path to YAML schema file (required)")
	system := fs.String("system", "", "System prompt (required)")
	user := fs.String("user", "", "User prompt (required)")
	attempts := fs.Int("attempts", 1, "Maximum attempts; more than 1 retries invalid output")
	if err := c.parse(fs, args, "schema", "system", "user"); err != nil {
		return err
	}
	if *attempts < 1 {
		return fmt.Errorf("%w: -attempts must be at least 1, got %d", errUsage, *attempts)
	}

	s, err := schema.LoadFile(*schemaPath)
	if err != nil {
		return err
	}

	client, err := c.client(stderr)
	if err != nil {
		return err
	}
	defer client.Close()

	var result *extract.Result
	if *attempts > 1 {
		result, err = client.GenerateStructuredWithRetry(ctx, *system, *user, s, *attempts, c.options()...)
	} else {
		result, err = client.GenerateStructured(ctx, *system, *user, s, c.options()...)
	}
	if err != nil {
		var failure *extract.Failure
		if errors.As(err, &failure) && failure.Raw != "" {
			fmt.Fprintf(stderr, "Raw output:\n%s\n", failure.Raw)
		}
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Object)
}

func runBench(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("bench", stderr)
	var c common
	c.register(fs)
	requests := fs.Int("n", bench.DefaultRequests, "Number of requests")
	concurrency := fs.Int("c", 0, "Concurrent requests (default: all at once)")
	rps := fs.Float64("rps", 0, "Request start rate per second (default: unpaced)")
	system := fs.String("system", bench.DefaultSystem, "System prompt")
	prompt := fs.String("prompt", bench.DefaultPrompt, "User prompt")
	if err := c.parse(fs, args, "system", "prompt"); err != nil {
		return err
	}

	client, err := c.client(stderr)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := c.options()
	generate := func(ctx context.Context, system, user string) (*llm.Response, error) {
		return client.Generate(ctx, system, user, opts...)
	}

	bold := color.New(color.Bold)
	bold.Fprintf(stdout, "Starting stress test: %d requests, concurrency %d...\n", *requests, max(*concurrency, 0))

	report, err := bench.Run(ctx, generate, bench.Options{
		Requests:    *requests,
		Concurrency: *concurrency,
		RPS:         *rps,
		System:      *system,
		Prompt:      *prompt,
	})
	if err != nil {
		return err
	}

	printReport(stdout, report)
	if report.Failures == report.Requests {
		return errors.New("every request failed")
	}
	return nil
}

func printReport(w io.Writer, r *bench.Report) {
	fmt.Fprintln(w)
	if r.Failures == 0 {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "Test complete")
	} else {
		color.New(color.FgYellow, color.Bold).Fprintf(w, "Test complete with %d/%d failures\n", r.Failures, r.Requests)
	}
	fmt.Fprintf(w, "Time taken:      %.2fs\n", r.Wall.Seconds())
	fmt.Fprintf(w, "Total tokens:    %d\n", r.CompletionTokens)
	fmt.Fprintf(w, "Mean latency:    %.2fs\n", r.MeanLatency.Seconds())
	fmt.Fprintf(w, "P95 latency:     %.2fs\n", r.P95Latency.Seconds())
	fmt.Fprintf(w, "Max latency:     %.2fs\n", r.MaxLatency.Seconds())
	fmt.Fprint(w, "Throughput:      ")
	color.New(color.FgCyan, color.Bold).Fprintf(w, "%.2f tokens/sec\n", r.Throughput)

	for i, res := range r.Results {
		if res.Err != nil {
			color.New(color.FgRed).Fprintf(w, "  request %d: %s: %v\n", i+1, loom.ClassifyError(res.Err), res.Err)
		}
	}
}
