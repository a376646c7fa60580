// Command rover is an autonomous CLI coding agent: it takes a task
// prompt, loops tool calls against an OpenAI-compatible chat API, and
// prints the final answer while logging a JSONL event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/aymenbz/rover/internal/run"
	"github.com/aymenbz/rover/internal/session"
)

const (
	defaultModel   = "openai/gpt-4.1-mini"
	defaultBaseURL = "https://openrouter.ai/api/v1"
)

func main() {
	// Load .env if present, ignore if missing.
	_ = godotenv.Load()

	if err := runCLI(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCLI(argv []string) error {
	flags := pflag.NewFlagSet("rover", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rover [flags] [PROMPT]\n\nFlags:\n%s", flags.FlagUsages())
	}

	model := flags.String("model", envOr("ROVER_DEFAULT_MODEL", defaultModel), "Model identifier to use")
	promptFile := flags.String("prompt-file", "", "Read the task prompt from a file (enables agent mode)")
	cwdFlag := flags.String("cwd", ".", "Working directory for the run")
	apiKey := flags.String("api-key", "", "API key (defaults to OPENROUTER_API_KEY)")
	baseURL := flags.String("base-url", defaultBaseURL, "OpenAI-compatible API base URL")
	temperature := flags.Float64("temperature", 0, "Sampling temperature")
	maxSteps := flags.Int("max-steps", 0, "Maximum number of request/response steps")
	timeLimitSec := flags.Int64("time-limit-sec", 0, "Wall-clock limit for the run in seconds")
	logDir := flags.String("log-dir", "", "Directory for the JSONL event log (default: cwd)")
	logPath := flags.String("log-path", "", "Exact path for the JSONL event log")
	jsonMode := flags.Bool("json", false, "Print the full event stream to stdout when the run ends")
	streamJSON := flags.Bool("stream-json", false, "Stream events to stdout as they happen")
	maxToolOutputChars := flags.Int("max-tool-output-chars", run.DefaultMaxToolOutputChars, "Cap on each tool output stream")
	exec := flags.Bool("exec", false, "Force agent mode (run until submit)")
	noSubmit := flags.Bool("no-submit", false, "Force plain mode (answer on first reply)")
	retry429 := flags.Bool("retry-429", envBool("ROVER_RETRY_429"), "Retry 429 responses without a Retry-After header")
	enableSearch := flags.Bool("enable-search", envBool("ROVER_WEB_SEARCH"), "Enable web tools: web_search (Tavily), web_open, web_find")
	search := flags.Bool("search", false, "Alias for --enable-search")

	if len(argv) == 0 {
		flags.Usage()
		return nil
	}
	if err := flags.Parse(argv); err != nil {
		return err
	}

	if *jsonMode && *streamJSON {
		return fmt.Errorf("--json and --stream-json cannot both be set")
	}

	cwd, err := run.ResolveCwd(*cwdFlag)
	if err != nil {
		return fmt.Errorf("failed to resolve cwd %s: %w", *cwdFlag, err)
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("OPENROUTER_API_KEY")
	}
	if key == "" {
		return fmt.Errorf("missing API key: set --api-key or OPENROUTER_API_KEY")
	}

	opts := run.Options{
		Model:              *model,
		Prompt:             strings.Join(flags.Args(), " "),
		PromptFile:         *promptFile,
		APIKey:             key,
		BaseURL:            *baseURL,
		LogDir:             *logDir,
		LogPath:            *logPath,
		JSON:               *jsonMode,
		StreamJSON:         *streamJSON,
		MaxToolOutputChars: *maxToolOutputChars,
		Exec:               *exec,
		NoSubmit:           *noSubmit,
		Retry429:           *retry429,
		WebSearch:          *enableSearch || *search,
	}
	if flags.Changed("temperature") {
		opts.Temperature = temperature
	}
	if flags.Changed("max-steps") {
		opts.MaxSteps = maxSteps
	}
	if *timeLimitSec > 0 {
		opts.TimeLimit = time.Duration(*timeLimitSec) * time.Second
	}
	if dir, err := session.DefaultBasePath(); err == nil {
		opts.SessionDir = dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	answer, err := run.RunPrompt(ctx, opts, cwd)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
