package tools

import (
	"context"
	"strings"
	"testing"

	"redline/internal/models"
)

type fakeMemoryStore struct {
	memory *models.Memory
	puts   int
}

func (s *fakeMemoryStore) GetMemory(sessionID string) (*models.Memory, error) {
	if s.memory == nil {
		return &models.Memory{SessionID: sessionID}, nil
	}
	return s.memory, nil
}

func (s *fakeMemoryStore) PutMemory(m *models.Memory) error {
	s.memory = m
	s.puts++
	return nil
}

func TestMemoryToolPartialUpdate(t *testing.T) {
	store := &fakeMemoryStore{memory: &models.Memory{
		SessionID: "sess-1",
		Objective: "compromise the target host",
		Notes:     "creds found in backup",
	}}
	tool := NewMemoryTool(store)

	result, err := tool.Execute(context.Background(), Request{
		SessionID: "sess-1",
		Args:      map[string]interface{}{"focus": "lateral movement"},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !strings.Contains(result, "focus") {
		t.Errorf("result should name changed fields, got: %s", result)
	}
	if store.memory.Focus != "lateral movement" {
		t.Errorf("focus not updated: %q", store.memory.Focus)
	}
	if store.memory.Objective != "compromise the target host" {
		t.Error("omitted objective must keep its value")
	}
	if store.memory.Notes != "creds found in backup" {
		t.Error("omitted notes must keep their value")
	}
}

func TestMemoryToolTaskList(t *testing.T) {
	store := &fakeMemoryStore{}
	tool := NewMemoryTool(store)

	_, err := tool.Execute(context.Background(), Request{
		SessionID: "sess-1",
		Args: map[string]interface{}{
			"tasks": []interface{}{
				map[string]interface{}{"description": "enumerate services", "done": true},
				map[string]interface{}{"description": "check smb shares"},
			},
		},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(store.memory.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(store.memory.Tasks))
	}
	if !store.memory.Tasks[0].Done || store.memory.Tasks[1].Done {
		t.Errorf("task done flags wrong: %+v", store.memory.Tasks)
	}
}

func TestMemoryToolRejectsEmptyUpdate(t *testing.T) {
	store := &fakeMemoryStore{}
	tool := NewMemoryTool(store)

	if _, err := tool.Execute(context.Background(), Request{SessionID: "s", Args: map[string]interface{}{}}); err == nil {
		t.Error("expected error for update with no fields")
	}
	if store.puts != 0 {
		t.Error("empty update must not write")
	}

	badTask := map[string]interface{}{
		"tasks": []interface{}{map[string]interface{}{"done": true}},
	}
	if _, err := tool.Execute(context.Background(), Request{SessionID: "s", Args: badTask}); err == nil {
		t.Error("expected error for task without description")
	}
}

func TestMemoryToolSharesMutexGroup(t *testing.T) {
	tool := NewMemoryTool(&fakeMemoryStore{})
	if tool.MutexKey != "memory" {
		t.Errorf("expected mutex key memory, got %q", tool.MutexKey)
	}
	if tool.RequiresApproval {
		t.Error("memory updates should not need approval")
	}
}
