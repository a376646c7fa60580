package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenUsageAdd(t *testing.T) {
	tests := []struct {
		name  string
		usage *Usage
		want  TokenUsage
	}{
		{
			name:  "nil usage is a no-op",
			usage: nil,
			want:  TokenUsage{},
		},
		{
			name:  "total reported by provider",
			usage: &Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 150},
			want:  TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 150},
		},
		{
			name:  "total falls back to prompt plus completion",
			usage: &Usage{PromptTokens: 100, CompletionTokens: 40},
			want:  TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140},
		},
		{
			name: "cached and reasoning details",
			usage: &Usage{
				PromptTokens:            100,
				CompletionTokens:        40,
				TotalTokens:             140,
				PromptTokensDetails:     &PromptTokensDetails{CachedTokens: 25},
				CompletionTokensDetails: &CompletionTokensDetails{ReasoningTokens: 10},
			},
			want: TokenUsage{
				InputTokens:           100,
				CachedInputTokens:     25,
				OutputTokens:          40,
				ReasoningOutputTokens: 10,
				TotalTokens:           140,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var total TokenUsage
			total.Add(tt.usage)
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestTokenUsageAddAccumulates(t *testing.T) {
	var total TokenUsage
	total.Add(&Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(&Usage{PromptTokens: 20, CompletionTokens: 7})
	assert.Equal(t, int64(30), total.InputTokens)
	assert.Equal(t, int64(12), total.OutputTokens)
	assert.Equal(t, int64(42), total.TotalTokens)
}

func TestProviderErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"object form", `{"error":{"message":"model not found"}}`, "model not found"},
		{"string form", `{"error":"rate limited"}`, "rate limited"},
		{"missing error", `{"ok":true}`, ""},
		{"not json", `<html>bad gateway</html>`, ""},
		{"empty message", `{"error":{"code":500}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProviderErrorMessage([]byte(tt.body)))
		})
	}
}

func TestMessageNullContent(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Type: "function", Function: ToolFunction{Name: "shell_command", Arguments: `{"command":"ls"}`}},
		},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":null`)

	var back Message
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "", back.Text())
	require.Len(t, back.ToolCalls, 1)
	assert.Equal(t, "shell_command", back.ToolCalls[0].Function.Name)
}

func TestRequestShape(t *testing.T) {
	temp := 0.2
	req := ChatCompletionRequest{
		Model:       "openai/gpt-4.1-mini",
		Messages:    []Message{UserMessage("hi")},
		Tools:       []json.RawMessage{json.RawMessage(`{"type":"function"}`)},
		ToolChoice:  "auto",
		Temperature: &temp,
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "auto", decoded["tool_choice"])
	assert.Equal(t, false, decoded["parallel_tool_calls"])
	assert.Equal(t, 0.2, decoded["temperature"])
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
