package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aymenbz/rover/internal/protocol"
)

func assistantWithCall(callID string) protocol.Message {
	return protocol.Message{
		Role: protocol.RoleAssistant,
		ToolCalls: []protocol.ToolCall{
			{ID: callID, Type: "function", Function: protocol.ToolFunction{Name: "shell_command", Arguments: "{}"}},
		},
	}
}

// buildConversation makes system + task + n tool exchanges separated
// by user messages every interval exchanges.
func buildConversation(exchanges, userEvery int) []protocol.Message {
	msgs := []protocol.Message{
		protocol.SystemMessage("system prompt"),
		protocol.UserMessage("task"),
	}
	for i := 0; i < exchanges; i++ {
		callID := fmt.Sprintf("call_%d", i)
		msgs = append(msgs, assistantWithCall(callID), protocol.ToolMessage(callID, `{"exit_code":0}`))
		if userEvery > 0 && (i+1)%userEvery == 0 {
			msgs = append(msgs, protocol.UserMessage(fmt.Sprintf("user_%d", i)))
		}
	}
	return msgs
}

func TestPruneKeepsSystemAndTask(t *testing.T) {
	msgs := buildConversation(12, 3)
	pruned := pruneMessages(msgs)

	require.NotEmpty(t, pruned)
	assert.Equal(t, protocol.RoleSystem, pruned[0].Role)
	assert.Equal(t, "system prompt", pruned[0].Text())
	assert.Equal(t, protocol.RoleUser, pruned[1].Role)
	assert.Equal(t, "task", pruned[1].Text())
	assert.Less(t, len(pruned), len(msgs))
}

func TestPruneCutsAtUserBoundary(t *testing.T) {
	msgs := buildConversation(12, 3)
	pruned := pruneMessages(msgs)

	// The first non-system message after the task must be a user
	// boundary, never an orphaned tool exchange tail.
	require.Greater(t, len(pruned), 2)
	assert.Equal(t, protocol.RoleUser, pruned[2].Role)
}

func TestPruneToolPairingStaysValid(t *testing.T) {
	msgs := buildConversation(15, 4)
	pruned := pruneMessages(msgs)

	open := map[string]bool{}
	for _, msg := range pruned {
		switch msg.Role {
		case protocol.RoleAssistant:
			open = map[string]bool{}
			for _, tc := range msg.ToolCalls {
				open[tc.ID] = true
			}
		case protocol.RoleUser:
			open = map[string]bool{}
		case protocol.RoleTool:
			assert.True(t, open[msg.ToolCallID], "tool message %q has no matching open call", msg.ToolCallID)
		}
	}
}

func TestPruneDropsOrphanToolMessages(t *testing.T) {
	msgs := []protocol.Message{
		protocol.SystemMessage("sys"),
		protocol.UserMessage("task"),
		protocol.ToolMessage("ghost", `{"exit_code":0}`),
		assistantWithCall("call_a"),
		protocol.ToolMessage("call_a", `{"exit_code":0}`),
	}
	pruned := pruneMessages(msgs)

	for _, msg := range pruned {
		if msg.Role == protocol.RoleTool {
			assert.NotEqual(t, "ghost", msg.ToolCallID)
		}
	}
}

func TestPruneNoUserAnchorIsNoop(t *testing.T) {
	msgs := []protocol.Message{
		protocol.SystemMessage("sys"),
		assistantWithCall("call_a"),
		protocol.ToolMessage("call_a", `{"exit_code":0}`),
	}
	pruned := pruneMessages(msgs)
	assert.Len(t, pruned, len(msgs))
}

func TestPruneConverges(t *testing.T) {
	msgs := buildConversation(30, 2)
	lastLen := len(msgs)
	for i := 0; i < 100; i++ {
		msgs = pruneMessages(msgs)
		if len(msgs) >= lastLen {
			break
		}
		lastLen = len(msgs)
	}
	// The fixpoint keeps the systems and the task.
	final := pruneMessages(msgs)
	assert.GreaterOrEqual(t, len(final), 2)
	assert.Equal(t, len(msgs), len(final))
}

func TestPruneOnlySystemAndTask(t *testing.T) {
	msgs := []protocol.Message{
		protocol.SystemMessage("sys"),
		protocol.UserMessage("task"),
	}
	pruned := pruneMessages(msgs)
	require.Len(t, pruned, 2)
	assert.Equal(t, "sys", pruned[0].Text())
	assert.Equal(t, "task", pruned[1].Text())
}
