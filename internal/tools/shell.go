package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const defaultShellTimeout = 60 * time.Second

// ShellArgs are the arguments of the shell_command tool. Exported so
// the engine can recover the command line for event logging.
type ShellArgs struct {
	Command        string  `json:"command"`
	Workdir        *string `json:"workdir"`
	TimeoutMs      *int64  `json:"timeout_ms"`
	MaxOutputChars *int    `json:"max_output_chars"`
}

func shellCommandTool() Tool {
	return Tool{
		Name:        "shell_command",
		Description: "Run a shell command with `bash -lc` and return its exit code and output.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"command": { "type": "string", "description": "Shell command to run." },
				"workdir": { "type": ["string", "null"], "description": "Working directory for the command." },
				"timeout_ms": { "type": ["number", "null"], "description": "Timeout in milliseconds before the command is killed." },
				"max_output_chars": { "type": ["number", "null"], "description": "Maximum output characters to return." }
			},
			"required": ["command", "workdir", "timeout_ms", "max_output_chars"],
			"additionalProperties": false
		}`,
		Fn: runShellCommand,
	}
}

func runShellCommand(ctx context.Context, raw json.RawMessage, ec ExecutionContext) (string, error) {
	var args ShellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse shell_command arguments: %w", err)
	}

	workdir := ec.Cwd
	if args.Workdir != nil && *args.Workdir != "" {
		workdir = resolvePath(ec.Cwd, *args.Workdir)
	}

	timeout := defaultShellTimeout
	if args.TimeoutMs != nil {
		timeout = time.Duration(*args.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "bash", "-lc", args.Command)
	cmd.Dir = workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) && !timedOut {
		return "", fmt.Errorf("failed to run shell command in %s: %w", workdir, runErr)
	}

	limit := ec.MaxOutputChars
	if args.MaxOutputChars != nil {
		limit = *args.MaxOutputChars
	}
	outStr, outTrunc := Truncate(stdout.String(), limit)
	errStr, errTrunc := Truncate(stderr.String(), limit)

	return marshalResult(map[string]any{
		"exit_code": exitCode,
		"stdout":    outStr,
		"stderr":    errStr,
		"timed_out": timedOut,
		"truncated": outTrunc || errTrunc,
	})
}
