package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"

	"redline/internal/models"
)

// buildMessages translates the persisted timeline into the role-tagged
// message list the model consumes. Thinking messages and non-terminal tool
// invocations are dropped, so rebuilding from the same persisted state is
// idempotent. When a compaction exists, every entry at or before its
// boundary is replaced by the summary as one synthetic message; the memory
// snapshot is always injected fresh and never summarized.
func buildMessages(systemPrompt string, entries []*models.Entry, compaction *models.Compaction, memory *models.Memory) []map[string]interface{} {
	var messages []map[string]interface{}

	system := systemPrompt
	if memory != nil && !memory.IsEmpty() {
		system += "\n\n" + memory.Snapshot()
	}
	if system != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": system})
	}

	boundary := 0
	if compaction != nil {
		boundary = compaction.UpToPosition
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": "Summary of the conversation so far:\n" + compaction.Summary,
		})
	}

	for _, e := range entries {
		if e.Position <= boundary {
			continue
		}
		switch e.Type {
		case models.EntryTypeMessage:
			msg := e.Message
			switch msg.MessageType {
			case models.MessageTypePrompt:
				messages = append(messages, map[string]interface{}{"role": "user", "content": msg.Content})
			case models.MessageTypeResponse:
				messages = append(messages, map[string]interface{}{"role": "assistant", "content": msg.Content})
			}
			// Thinking is model-internal and never echoed back.
		case models.EntryTypeToolInvocation:
			inv := e.ToolInvocation
			if !inv.Status.IsTerminal() {
				continue
			}
			callID := inv.ToolCallID
			if callID == "" {
				callID = fmt.Sprintf("call_pos_%d", e.Position)
			}
			messages = append(messages,
				map[string]interface{}{
					"role": "assistant",
					"tool_calls": []interface{}{
						map[string]interface{}{
							"id":   callID,
							"type": "function",
							"function": map[string]interface{}{
								"name":      inv.ToolName,
								"arguments": inv.Arguments,
							},
						},
					},
				},
				toolResultMessage(callID, inv),
			)
		case models.EntryTypeConsoleContext:
			cc := e.ConsoleContext
			label := "Console startup output"
			if cc.Kind == "command" {
				label = fmt.Sprintf("Console output of `%s`", cc.Command)
			}
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": fmt.Sprintf("%s:\n%s", label, cc.Output),
			})
		}
	}
	return messages
}

// toolResultMessage renders the outcome half of a terminal invocation. Failed
// outcomes carry is_error and a synthesized explanation instead of output.
func toolResultMessage(callID string, inv *models.ToolInvocation) map[string]interface{} {
	msg := map[string]interface{}{
		"role":         "tool",
		"tool_call_id": callID,
	}
	switch inv.Status {
	case models.ToolStatusSuccess:
		msg["content"] = inv.Result
	case models.ToolStatusDenied:
		msg["content"] = "Tool call denied by user: " + inv.DenialReason
		msg["is_error"] = true
	case models.ToolStatusError:
		msg["content"] = "Tool execution failed: " + inv.ErrorReason
		msg["is_error"] = true
	case models.ToolStatusTimeout:
		msg["content"] = "Tool execution timed out: " + inv.ErrorReason
		msg["is_error"] = true
	case models.ToolStatusCancelled:
		msg["content"] = "Tool call cancelled"
		msg["is_error"] = true
	}
	return msg
}

func parseArguments(raw string) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func sortedInvocations(m map[int]*invocationState) []*invocationState {
	out := make([]*invocationState, 0, len(m))
	for _, inv := range m {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].position < out[j].position })
	return out
}
