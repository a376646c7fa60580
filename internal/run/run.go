// Package run wires one agent run together: logging, submit-mode
// resolution, HTTP client construction, tool registry, and the session
// record written afterwards.
package run

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aymenbz/rover/internal/engine"
	"github.com/aymenbz/rover/internal/logger"
	"github.com/aymenbz/rover/internal/protocol"
	"github.com/aymenbz/rover/internal/session"
	"github.com/aymenbz/rover/internal/tools"
)

// DefaultMaxToolOutputChars caps tool output streams unless overridden.
const DefaultMaxToolOutputChars = 8000

// Options are the resolved CLI options for one run.
type Options struct {
	Model       string
	Prompt      string
	PromptFile  string
	APIKey      string
	BaseURL     string
	Temperature *float64
	MaxSteps    *int
	TimeLimit   time.Duration
	LogDir      string
	LogPath     string
	JSON        bool
	StreamJSON  bool

	// MaxToolOutputChars zero means DefaultMaxToolOutputChars.
	MaxToolOutputChars int

	Exec      bool
	NoSubmit  bool
	Retry429  bool
	WebSearch bool

	// SessionDir is where the run record is stored afterwards. Empty
	// disables record keeping.
	SessionDir string
}

// RunPrompt executes one task end to end and returns the final answer.
func RunPrompt(ctx context.Context, opts Options, cwd string) (string, error) {
	start := time.Now().UTC()
	sessionID := protocol.NewSessionID()

	submitEnabled, err := resolveSubmitMode(opts.Exec, opts.NoSubmit, opts.PromptFile)
	if err != nil {
		return "", err
	}

	var webConfig *tools.WebConfig
	if opts.WebSearch {
		apiKey := firstNonEmptyEnv("ROVER_TAVILY_API_KEY", "TAVILY_API_KEY")
		if apiKey == "" {
			return "", fmt.Errorf("--enable-search is enabled but no Tavily API key was found. Set TAVILY_API_KEY (or ROVER_TAVILY_API_KEY).")
		}
		webConfig = &tools.WebConfig{
			TavilyBaseURL: strings.TrimSpace(os.Getenv("ROVER_TAVILY_BASE_URL")),
			TavilyAPIKey:  apiKey,
		}
	}

	log, err := logger.New(logger.Options{
		Path:     logFilePath(opts, cwd, sessionID, start),
		Stream:   streamSink(opts),
		Buffered: opts.JSON,
	})
	if err != nil {
		return "", err
	}
	defer log.Close()

	maxToolOutput := opts.MaxToolOutputChars
	if maxToolOutput <= 0 {
		maxToolOutput = DefaultMaxToolOutputChars
	}

	registry := tools.NewRegistry(tools.Options{
		SubmitEnabled: submitEnabled,
		Web:           webConfig,
	})

	// Explicit connect timeout so network issues fail fast, generous
	// overall timeout so slow generations don't hang forever.
	client := &http.Client{
		Timeout: 10 * time.Minute,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 20 * time.Second,
			}).DialContext,
		},
	}

	agent := engine.New(engine.Config{
		Model:              opts.Model,
		BaseURL:            opts.BaseURL,
		APIKey:             opts.APIKey,
		SessionID:          sessionID,
		Cwd:                cwd,
		Temperature:        opts.Temperature,
		MaxSteps:           opts.MaxSteps,
		TimeLimit:          opts.TimeLimit,
		MaxToolOutputChars: maxToolOutput,
		SubmitEnabled:      submitEnabled,
		Retry429:           opts.Retry429,
	}, client, registry, log)

	task, err := LoadTask(opts)
	if err != nil {
		return "", err
	}

	answer, runErr := agent.Run(ctx, task)
	if opts.JSON {
		// Best-effort: emit buffered events even when the run failed.
		_ = log.EmitBuffer(os.Stdout)
	}
	if runErr != nil {
		return "", runErr
	}

	if opts.SessionDir != "" {
		record := &session.Record{
			ID:          sessionID,
			Task:        task,
			Answer:      answer,
			Model:       opts.Model,
			Cwd:         cwd,
			Steps:       agent.Steps(),
			Usage:       agent.Usage(),
			CreatedAt:   start,
			CompletedAt: time.Now().UTC(),
		}
		// Record keeping never fails the run.
		_ = session.NewStore(opts.SessionDir).Save(record)
	}

	return answer, nil
}

// LoadTask returns the task text from exactly one source: the
// positional prompt or the prompt file, never both.
func LoadTask(opts Options) (string, error) {
	if opts.PromptFile != "" && opts.Prompt != "" {
		return "", fmt.Errorf("a positional prompt and --prompt-file cannot both be given")
	}
	if opts.PromptFile != "" {
		content, err := os.ReadFile(opts.PromptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", opts.PromptFile, err)
		}
		return string(content), nil
	}
	if opts.Prompt != "" {
		return opts.Prompt, nil
	}
	return "", fmt.Errorf("prompt or prompt file is required")
}

// ResolveCwd canonicalizes and validates the working directory.
func ResolveCwd(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// resolveSubmitMode picks the run mode. Bare prompts behave like a
// normal CLI (answer on first reply); prompt files run in agent mode
// (submit-enabled) unless overridden.
func resolveSubmitMode(exec, noSubmit bool, promptFile string) (bool, error) {
	if exec && noSubmit {
		return false, fmt.Errorf("--exec and --no-submit cannot both be set")
	}
	if exec {
		return true, nil
	}
	if noSubmit {
		return false, nil
	}
	return promptFile != "", nil
}

// logFilePath picks the JSONL destination: an explicit --log-path, or
// a per-run unique filename under --log-dir (default: the cwd).
func logFilePath(opts Options, cwd, sessionID string, now time.Time) string {
	if opts.LogPath != "" {
		return resolvePath(cwd, opts.LogPath)
	}
	logDir := cwd
	if opts.LogDir != "" {
		logDir = resolvePath(cwd, opts.LogDir)
	}
	safeTS := strings.ReplaceAll(now.Format(time.RFC3339), ":", "-")
	return filepath.Join(logDir, fmt.Sprintf("rover-%s-%s.jsonl", safeTS, sessionID))
}

func streamSink(opts Options) io.Writer {
	if opts.StreamJSON {
		return os.Stdout
	}
	return nil
}

func resolvePath(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(cwd, p))
}

func firstNonEmptyEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
