// Package protocol defines the wire types for the OpenAI-compatible
// chat-completions contract and the token accounting that rides on it.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation entry, shaped exactly as the
// chat-completions API expects it. Content is a pointer because
// assistant messages that carry only tool calls have a null content.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system message with the given text.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: &text}
}

// UserMessage builds a user message with the given text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: &text}
}

// ToolMessage builds a tool-result message bound to a tool call id.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// Text returns the message content, or "" when it is null.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its raw JSON arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionRequest is the request body for POST /chat/completions.
// Tool definitions are prebuilt JSON objects so the registry owns the
// schema text verbatim.
type ChatCompletionRequest struct {
	Model             string            `json:"model"`
	Messages          []Message         `json:"messages"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	ToolChoice        string            `json:"tool_choice,omitempty"`
	ParallelToolCalls bool              `json:"parallel_tool_calls"`
	Temperature       *float64          `json:"temperature,omitempty"`
}

// ChatCompletionResponse is the decoded response body.
type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice wraps a single completion alternative.
type Choice struct {
	Message Message `json:"message"`
}

// Usage is the provider-reported token usage for one completion.
type Usage struct {
	PromptTokens            int64                    `json:"prompt_tokens"`
	CompletionTokens        int64                    `json:"completion_tokens"`
	TotalTokens             int64                    `json:"total_tokens"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// PromptTokensDetails breaks down the prompt-side token count.
type PromptTokensDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

// CompletionTokensDetails breaks down the completion-side token count.
type CompletionTokensDetails struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// TokenUsage accumulates usage across every request in a run.
type TokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

// Add merges one response's usage block into the running totals.
// Total falls back to prompt+completion when the provider omits it.
func (t *TokenUsage) Add(u *Usage) {
	if u == nil {
		return
	}
	t.InputTokens += u.PromptTokens
	t.OutputTokens += u.CompletionTokens
	if u.PromptTokensDetails != nil {
		t.CachedInputTokens += u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		t.ReasoningOutputTokens += u.CompletionTokensDetails.ReasoningTokens
	}
	if u.TotalTokens > 0 {
		t.TotalTokens += u.TotalTokens
	} else {
		t.TotalTokens += u.PromptTokens + u.CompletionTokens
	}
}

// APIErrorBody is the flexible provider error envelope. The error field
// is either an object with a message or a bare string.
type APIErrorBody struct {
	Error json.RawMessage `json:"error"`
}

// ProviderErrorMessage extracts a human-readable message from a raw
// provider error body, returning "" when none can be found.
func ProviderErrorMessage(body []byte) string {
	var envelope APIErrorBody
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(envelope.Error, &s); err == nil {
		return s
	}
	return ""
}

// NewSessionID returns a fresh identifier for a run.
func NewSessionID() string {
	return uuid.NewString()
}
