package engine

import "github.com/aymenbz/rover/internal/protocol"

// pruneMessages shrinks a conversation that no longer fits the model's
// context window:
//
//   - keep all system messages
//   - keep the initial user task message
//   - drop the oldest third of what follows, extending the cut to the
//     next user boundary so a tool exchange is never split
//   - re-validate assistant<->tool pairing over what remains
//
// When there is no user message to anchor on, the input is returned
// as-is; the caller detects the unchanged length and stops pruning.
func pruneMessages(messages []protocol.Message) []protocol.Message {
	var system, nonSystem []protocol.Message
	for _, msg := range messages {
		if msg.Role == protocol.RoleSystem {
			system = append(system, msg)
		} else {
			nonSystem = append(nonSystem, msg)
		}
	}

	taskIdx := -1
	for i, msg := range nonSystem {
		if msg.Role == protocol.RoleUser {
			taskIdx = i
			break
		}
	}
	if taskIdx < 0 {
		return append(system, nonSystem...)
	}

	taskMsg := nonSystem[taskIdx]
	rest := nonSystem[taskIdx+1:]

	cutIdx := len(rest) / 3
	for i := cutIdx; i < len(rest); i++ {
		if rest[i].Role == protocol.RoleUser {
			cutIdx = i
			break
		}
	}

	preserved := append([]protocol.Message{taskMsg}, rest[cutIdx:]...)

	// A tool message may only survive while its call id is open: set by
	// the preceding assistant message, cleared by the next user turn.
	valid := make([]protocol.Message, 0, len(preserved))
	activeToolIDs := map[string]bool{}
	for _, msg := range preserved {
		switch msg.Role {
		case protocol.RoleAssistant:
			activeToolIDs = extractToolCallIDs(msg)
			valid = append(valid, msg)
		case protocol.RoleTool:
			if activeToolIDs[msg.ToolCallID] {
				valid = append(valid, msg)
			}
		case protocol.RoleUser:
			activeToolIDs = map[string]bool{}
			valid = append(valid, msg)
		default:
			valid = append(valid, msg)
		}
	}

	return append(system, valid...)
}

func extractToolCallIDs(msg protocol.Message) map[string]bool {
	ids := make(map[string]bool, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		ids[tc.ID] = true
	}
	return ids
}
