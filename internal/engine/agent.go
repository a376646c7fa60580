// Package engine implements the agent's turn/step state machine: it
// drives chat-completion requests, dispatches tool calls, prunes the
// conversation on context overflow, and emits the run's event stream.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aymenbz/rover/internal/logger"
	"github.com/aymenbz/rover/internal/prompts"
	"github.com/aymenbz/rover/internal/protocol"
	"github.com/aymenbz/rover/internal/tools"
)

// continueMessage nudges the model onward when submission is enabled
// and it answered without calling a tool.
const continueMessage = "Please proceed to the next step using your best judgement. If you believe you are finished, double check your work to continue to refine and improve your submission."

// Agent runs one task to completion against the chat API.
type Agent struct {
	cfg        Config
	transport  *transport
	registry   *tools.Registry
	logger     *logger.Logger
	messages   []protocol.Message
	usage      protocol.TokenUsage
	steps      int
	nextItemID int
}

// New builds an agent. The HTTP client is shared with the caller so
// tests can point it at stub servers.
func New(cfg Config, client *http.Client, registry *tools.Registry, log *logger.Logger) *Agent {
	return &Agent{
		cfg: cfg,
		transport: &transport{
			client:   client,
			baseURL:  cfg.BaseURL,
			apiKey:   cfg.APIKey,
			retry429: cfg.Retry429,
		},
		registry: registry,
		logger:   log,
	}
}

// Usage returns the tokens consumed so far.
func (a *Agent) Usage() protocol.TokenUsage {
	return a.usage
}

// Steps returns the number of completed request/response cycles.
func (a *Agent) Steps() int {
	return a.steps
}

// Run executes the task until the model submits, answers, or a budget
// expires. Budget terminations return a descriptive answer, not an
// error; only transport failures and malformed submissions fail the
// run.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	start := time.Now()

	systemPrompt, agentsText, err := prompts.BuildSystemPrompt(prompts.Params{
		Cwd:           a.cfg.Cwd,
		MaxSteps:      a.cfg.MaxSteps,
		TimeLimit:     a.cfg.TimeLimit,
		SubmitEnabled: a.cfg.SubmitEnabled,
		WebEnabled:    a.registry.HasWebTools(),
	})
	if err != nil {
		return "", err
	}
	if err := a.logThreadStarted(); err != nil {
		return "", err
	}
	if err := a.logTurnStarted(task, systemPrompt, agentsText); err != nil {
		return "", err
	}

	a.messages = append(a.messages,
		protocol.SystemMessage(systemPrompt),
		protocol.UserMessage(task),
	)

	for {
		if a.cfg.MaxSteps != nil && a.steps >= *a.cfg.MaxSteps {
			return a.terminate(fmt.Sprintf("Terminated: max_steps (%d) reached.", *a.cfg.MaxSteps))
		}
		if a.cfg.TimeLimit > 0 && time.Since(start) >= a.cfg.TimeLimit {
			return a.terminate("Terminated: time_limit reached.")
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		a.steps++
		completion, err := a.transport.send(ctx, a.buildRequest())
		if err != nil {
			if !isContextError(err.Error()) {
				return "", a.fail(err)
			}
			completion, err = a.recoverFromOverflow(ctx)
			if err != nil {
				return "", err
			}
			if completion == nil {
				return a.terminate("Terminated: context length exceeded.")
			}
		}

		message := completion.Message
		a.usage.Add(completion.Usage)

		assistant := protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   message.Content,
			ToolCalls: message.ToolCalls,
		}
		if text := message.Text(); strings.TrimSpace(text) != "" {
			if err := a.logAgentMessage(text); err != nil {
				return "", err
			}
		}
		a.messages = append(a.messages, assistant)

		if len(message.ToolCalls) > 0 {
			answer, done, err := a.handleToolCalls(ctx, message.ToolCalls)
			if err != nil {
				return "", err
			}
			if done {
				return answer, nil
			}
			continue
		}

		if a.cfg.SubmitEnabled {
			a.messages = append(a.messages, protocol.UserMessage(continueMessage))
			continue
		}

		finalText := message.Text()
		if err := a.logTurnCompleted(); err != nil {
			return "", err
		}
		return finalText, nil
	}
}

// handleToolCalls executes the first tool call and rejects the rest.
// It returns done=true when the submit tool ended the run.
func (a *Agent) handleToolCalls(ctx context.Context, toolCalls []protocol.ToolCall) (string, bool, error) {
	for i, toolCall := range toolCalls {
		if i > 0 {
			content := tools.ErrorResult("Multiple tool calls in one step are not supported.")
			a.messages = append(a.messages, protocol.ToolMessage(toolCall.ID, content))
			if err := a.logWarningItem("Multiple tool calls in one step are not supported."); err != nil {
				return "", false, err
			}
			continue
		}

		name := toolCall.Function.Name
		arguments := toolCall.Function.Arguments

		if name == "submit" && a.cfg.SubmitEnabled {
			answer, err := parseSubmitAnswer(arguments)
			if err != nil {
				return "", false, a.fail(err)
			}
			if strings.TrimSpace(answer) != "" {
				if err := a.logAgentMessage(answer); err != nil {
					return "", false, err
				}
			}
			if err := a.logTurnCompleted(); err != nil {
				return "", false, err
			}
			return answer, true, nil
		}

		commandItem, fileChanges := a.prepareToolLogging(name, arguments)
		if commandItem != nil {
			if err := a.logCommandExecutionStarted(commandItem.id, commandItem.command); err != nil {
				return "", false, err
			}
		}

		content := a.registry.Execute(ctx, name, arguments, tools.ExecutionContext{
			Cwd:            a.cfg.Cwd,
			MaxOutputChars: a.cfg.MaxToolOutputChars,
		})
		a.messages = append(a.messages, protocol.ToolMessage(toolCall.ID, content))
		if err := a.logToolResult(name, commandItem, fileChanges, content); err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

// recoverFromOverflow prunes the conversation and retries the request
// while pruning keeps shrinking it. A nil result with nil error means
// pruning is exhausted and the run should terminate.
func (a *Agent) recoverFromOverflow(ctx context.Context) (*completionResult, error) {
	lastLen := len(a.messages)
	for {
		a.messages = pruneMessages(a.messages)
		newLen := len(a.messages)
		if newLen >= lastLen {
			return nil, nil
		}
		lastLen = newLen

		completion, err := a.transport.send(ctx, a.buildRequest())
		if err != nil {
			if isContextError(err.Error()) {
				continue
			}
			return nil, a.fail(err)
		}
		return completion, nil
	}
}

func (a *Agent) buildRequest() *protocol.ChatCompletionRequest {
	return &protocol.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Messages:    a.messages,
		Tools:       a.registry.Definitions(),
		ToolChoice:  "auto",
		Temperature: a.cfg.Temperature,
	}
}

// terminate ends the turn on a budget boundary: the message becomes
// both a warning item and the returned answer.
func (a *Agent) terminate(message string) (string, error) {
	if err := a.logWarningItem(message); err != nil {
		return "", err
	}
	if err := a.logTurnCompleted(); err != nil {
		return "", err
	}
	return message, nil
}

// fail records a fatal error in the event stream and returns it.
func (a *Agent) fail(err error) error {
	msg := err.Error()
	if logErr := a.logErrorEvent(msg); logErr != nil {
		return logErr
	}
	if logErr := a.logTurnFailed(msg); logErr != nil {
		return logErr
	}
	return err
}

func parseSubmitAnswer(arguments string) (string, error) {
	var args struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("parse submit arguments: %w", err)
	}
	return args.Answer, nil
}
