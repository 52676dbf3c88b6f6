package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"redline/internal/models"
)

// MemoryStore persists the per-session scratchpad. Implemented by the
// database layer.
type MemoryStore interface {
	GetMemory(sessionID string) (*models.Memory, error)
	PutMemory(memory *models.Memory) error
}

// NewMemoryTool creates the update_memory tool. All memory updates share one
// mutex group so concurrent read-modify-write cycles cannot interleave.
func NewMemoryTool(store MemoryStore) *Tool {
	return &Tool{
		Name:        "update_memory",
		DisplayName: "Update Memory",
		Description: "Update the working memory scratchpad: objective, current focus, task list and free-form notes. Only the fields you pass change; omitted fields keep their value. Memory survives compaction.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"objective": map[string]interface{}{
					"type":        "string",
					"description": "The engagement objective",
				},
				"focus": map[string]interface{}{
					"type":        "string",
					"description": "What is being worked on right now",
				},
				"tasks": map[string]interface{}{
					"type":        "array",
					"description": "Replacement task list",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"description": map[string]interface{}{"type": "string"},
							"done":        map[string]interface{}{"type": "boolean"},
						},
						"required": []string{"description"},
					},
				},
				"notes": map[string]interface{}{
					"type":        "string",
					"description": "Free-form notes",
				},
			},
		},
		MutexKey: "memory",
		Execute: func(ctx context.Context, req Request) (string, error) {
			return executeMemoryUpdate(store, req)
		},
	}
}

func executeMemoryUpdate(store MemoryStore, req Request) (string, error) {
	memory, err := store.GetMemory(req.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load memory: %w", err)
	}

	var changed []string
	if objective, ok := req.Args["objective"].(string); ok {
		memory.Objective = strings.TrimSpace(objective)
		changed = append(changed, "objective")
	}
	if focus, ok := req.Args["focus"].(string); ok {
		memory.Focus = strings.TrimSpace(focus)
		changed = append(changed, "focus")
	}
	if rawTasks, ok := req.Args["tasks"].([]interface{}); ok {
		tasks, err := parseMemoryTasks(rawTasks)
		if err != nil {
			return "", err
		}
		memory.Tasks = tasks
		changed = append(changed, "tasks")
	}
	if notes, ok := req.Args["notes"].(string); ok {
		memory.Notes = strings.TrimSpace(notes)
		changed = append(changed, "notes")
	}
	if len(changed) == 0 {
		return "", fmt.Errorf("no memory fields provided")
	}

	memory.UpdatedAt = time.Now().UTC()
	if err := store.PutMemory(memory); err != nil {
		return "", fmt.Errorf("failed to save memory: %w", err)
	}
	return fmt.Sprintf("Memory updated (%s)", strings.Join(changed, ", ")), nil
}

func parseMemoryTasks(raw []interface{}) ([]models.MemoryTask, error) {
	tasks := make([]models.MemoryTask, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("task %d is not an object", i)
		}
		desc, _ := obj["description"].(string)
		desc = strings.TrimSpace(desc)
		if desc == "" {
			return nil, fmt.Errorf("task %d is missing a description", i)
		}
		done, _ := obj["done"].(bool)
		tasks = append(tasks, models.MemoryTask{Description: desc, Done: done})
	}
	return tasks, nil
}
