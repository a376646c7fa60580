package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aymenbz/rover/internal/logger"
	"github.com/aymenbz/rover/internal/tools"
)

// commandItem tracks the id and display command of an in-progress
// command_execution item between its started and completed events.
type commandItem struct {
	id      string
	command string
}

func (a *Agent) logThreadStarted() error {
	return a.logger.LogEvent(logger.Event{
		"type":      "thread.started",
		"thread_id": a.cfg.SessionID,
	})
}

func (a *Agent) logTurnStarted(prompt, systemPrompt, agentsText string) error {
	event := logger.Event{
		"type":          "turn.started",
		"prompt":        prompt,
		"system_prompt": systemPrompt,
	}
	if agentsText != "" {
		event["agents_instructions"] = agentsText
	}
	return a.logger.LogEvent(event)
}

func (a *Agent) logTurnCompleted() error {
	return a.logger.LogEvent(logger.Event{
		"type": "turn.completed",
		"usage": map[string]any{
			"input_tokens":        a.usage.InputTokens,
			"cached_input_tokens": a.usage.CachedInputTokens,
			"output_tokens":       a.usage.OutputTokens,
		},
	})
}

func (a *Agent) logTurnFailed(message string) error {
	return a.logger.LogEvent(logger.Event{
		"type":  "turn.failed",
		"error": map[string]any{"message": message},
	})
}

func (a *Agent) logErrorEvent(message string) error {
	return a.logger.LogEvent(logger.Event{
		"type":    "error",
		"message": message,
	})
}

func (a *Agent) logWarningItem(message string) error {
	return a.logItemCompleted(map[string]any{
		"id":      a.newItemID(),
		"type":    "error",
		"message": message,
	})
}

func (a *Agent) logAgentMessage(text string) error {
	return a.logItemCompleted(map[string]any{
		"id":   a.newItemID(),
		"type": "agent_message",
		"text": text,
	})
}

func (a *Agent) logCommandExecutionStarted(itemID, command string) error {
	return a.logItemStarted(map[string]any{
		"id":                itemID,
		"type":              "command_execution",
		"command":           command,
		"aggregated_output": "",
		"exit_code":         nil,
		"status":            "in_progress",
	})
}

func (a *Agent) logCommandExecutionCompleted(itemID, command, aggregatedOutput string, exitCode *int, success bool) error {
	status := "failed"
	if success {
		status = "completed"
	}
	var code any
	if exitCode != nil {
		code = *exitCode
	}
	return a.logItemCompleted(map[string]any{
		"id":                itemID,
		"type":              "command_execution",
		"command":           command,
		"aggregated_output": aggregatedOutput,
		"exit_code":         code,
		"status":            status,
	})
}

// prepareToolLogging allocates the logging shape for a tool call
// before it runs. apply_patch becomes a file_change item built from
// the patch text; everything else is a command_execution item that is
// logged as started right away.
func (a *Agent) prepareToolLogging(toolName, arguments string) (*commandItem, []tools.PatchChange) {
	if toolName == "apply_patch" {
		var args tools.ApplyPatchArgs
		_ = json.Unmarshal([]byte(arguments), &args)
		return nil, tools.ParsePatchChanges(args.Patch)
	}
	return &commandItem{
		id:      a.newItemID(),
		command: toolCommandString(toolName, arguments),
	}, nil
}

// logToolResult classifies a tool result and emits the matching
// item.completed event.
func (a *Agent) logToolResult(toolName string, item *commandItem, fileChanges []tools.PatchChange, content string) error {
	if toolName == "apply_patch" {
		success := false
		if code, _, ok := parseCommandOutput(content); ok {
			success = code == 0
		} else {
			success = !outputIsErrorJSON(content)
		}
		status := "failed"
		if success {
			status = "completed"
		}
		changes := make([]map[string]any, 0, len(fileChanges))
		for _, c := range fileChanges {
			changes = append(changes, map[string]any{"path": c.Path, "kind": c.Kind})
		}
		return a.logItemCompleted(map[string]any{
			"id":      a.newItemID(),
			"type":    "file_change",
			"changes": changes,
			"status":  status,
		})
	}

	if item == nil {
		item = &commandItem{id: a.newItemID(), command: toolCommandString(toolName, "")}
	}

	var exitCode *int
	var aggregated string
	var success bool
	if toolName == "shell_command" {
		if code, output, ok := parseCommandOutput(content); ok {
			exitCode, aggregated, success = &code, output, code == 0
		} else {
			// No exit_code means the dispatch itself failed (bad
			// arguments, spawn failure) and returned the error envelope.
			aggregated, success = content, !outputIsErrorJSON(content)
		}
	} else {
		success = !outputIsErrorJSON(content)
		code := 1
		if success {
			code = 0
		}
		exitCode, aggregated = &code, content
	}

	return a.logCommandExecutionCompleted(item.id, item.command, aggregated, exitCode, success)
}

func (a *Agent) logItemStarted(item map[string]any) error {
	return a.logger.LogEvent(logger.Event{"type": "item.started", "item": item})
}

func (a *Agent) logItemCompleted(item map[string]any) error {
	return a.logger.LogEvent(logger.Event{"type": "item.completed", "item": item})
}

func (a *Agent) newItemID() string {
	id := fmt.Sprintf("item_%d", a.nextItemID)
	a.nextItemID++
	return id
}

// toolCommandString renders the display command for an item:
// shell_command shows the underlying bash invocation, other tools a
// tool:<name> prefix with their raw arguments.
func toolCommandString(toolName, arguments string) string {
	if toolName == "shell_command" {
		var args tools.ShellArgs
		if err := json.Unmarshal([]byte(arguments), &args); err == nil && args.Command != "" {
			return "bash -lc " + args.Command
		}
		return "bash -lc " + arguments
	}
	if strings.TrimSpace(arguments) == "" {
		return "tool:" + toolName
	}
	return "tool:" + toolName + " " + arguments
}

// parseCommandOutput extracts exit code and aggregated stdout+stderr
// from a shell-style tool result.
func parseCommandOutput(output string) (int, string, bool) {
	var parsed struct {
		ExitCode *int   `json:"exit_code"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil || parsed.ExitCode == nil {
		return 0, "", false
	}
	aggregated := parsed.Stdout
	if strings.TrimSpace(parsed.Stderr) != "" {
		if aggregated != "" {
			aggregated += "\n"
		}
		aggregated += parsed.Stderr
	}
	return *parsed.ExitCode, aggregated, true
}

// outputIsErrorJSON reports whether a tool result is the {"error":...}
// envelope.
func outputIsErrorJSON(output string) bool {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return false
	}
	_, ok := parsed["error"]
	return ok
}
