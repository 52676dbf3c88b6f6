package database

import (
	"errors"
	"path/filepath"
	"testing"

	"redline/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func seedSession(t *testing.T, db *DB, id string) *models.Session {
	t.Helper()
	s, err := models.NewSession(id, "acme external", "gpt-4o")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := db.CreateSession(s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestEntryPositionsStrictlyIncreasing(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	// Mixed entry types must share one position sequence starting at 1.
	var positions []int
	e1, err := db.CreateEntryWithMessage("s1", nil, &models.Message{Role: models.RoleUser, MessageType: models.MessageTypePrompt, Content: "scan 10.0.0.1"})
	if err != nil {
		t.Fatalf("CreateEntryWithMessage: %v", err)
	}
	positions = append(positions, e1.Position)

	e2, err := db.CreateEntryWithToolInvocation("s1", nil, &models.ToolInvocation{ToolCallID: "call_1", ToolName: "port_scan", Arguments: "{}", Status: models.ToolStatusPending})
	if err != nil {
		t.Fatalf("CreateEntryWithToolInvocation: %v", err)
	}
	positions = append(positions, e2.Position)

	e3, err := db.CreateEntryWithConsoleContext("s1", &models.ConsoleContext{Kind: "startup", Output: "msf6 >"})
	if err != nil {
		t.Fatalf("CreateEntryWithConsoleContext: %v", err)
	}
	positions = append(positions, e3.Position)

	for i, p := range positions {
		if p != i+1 {
			t.Fatalf("expected position %d, got %d (all: %v)", i+1, p, positions)
		}
	}

	// Positions are scoped per session.
	seedSession(t, db, "s2")
	other, err := db.CreateEntryWithMessage("s2", nil, &models.Message{Role: models.RoleUser, MessageType: models.MessageTypePrompt, Content: "hi"})
	if err != nil {
		t.Fatalf("CreateEntryWithMessage: %v", err)
	}
	if other.Position != 1 {
		t.Errorf("expected position 1 in fresh session, got %d", other.Position)
	}
}

func TestLoadEntriesAttachesPayloads(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	db.CreateEntryWithMessage("s1", nil, &models.Message{Role: models.RoleUser, MessageType: models.MessageTypePrompt, Content: "enumerate smb"})
	db.CreateEntryWithToolInvocation("s1", nil, &models.ToolInvocation{ToolCallID: "call_1", ToolName: "run_console_command", Arguments: `{"command":"nmap"}`, Status: models.ToolStatusPending})

	entries, err := db.LoadEntries("s1")
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message == nil || entries[0].Message.Content != "enumerate smb" {
		t.Errorf("message payload not attached: %+v", entries[0])
	}
	if entries[1].ToolInvocation == nil || entries[1].ToolInvocation.ToolName != "run_console_command" {
		t.Errorf("tool payload not attached: %+v", entries[1])
	}
}

func TestUpdateMessageContentOnlyWhileStreaming(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	e, _ := db.CreateEntryWithMessage("s1", nil, &models.Message{Role: models.RoleAssistant, MessageType: models.MessageTypeResponse, Streaming: true})

	if err := db.UpdateMessageContent(e.ID, "partial", false); err != nil {
		t.Fatalf("update while streaming: %v", err)
	}
	if err := db.UpdateMessageContent(e.ID, "final", true); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Once frozen, further mutation is a stale error.
	if err := db.UpdateMessageContent(e.ID, "late", false); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale after freeze, got %v", err)
	}
}

func TestUpdateToolInvocationGuards(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	e, _ := db.CreateEntryWithToolInvocation("s1", nil, &models.ToolInvocation{ToolCallID: "call_1", ToolName: "dns_lookup", Arguments: "{}", Status: models.ToolStatusPending})

	// Wrong expected status is a stale conflict, state untouched.
	err := db.UpdateToolInvocation("s1", e.Position, models.ToolStatusExecuting, ToolInvocationUpdate{Status: models.ToolStatusSuccess})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	// Missing position is not found.
	err = db.UpdateToolInvocation("s1", 99, models.ToolStatusPending, ToolInvocationUpdate{Status: models.ToolStatusApproved})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The valid path works and persists fields.
	if err := db.UpdateToolInvocation("s1", e.Position, models.ToolStatusPending, ToolInvocationUpdate{Status: models.ToolStatusDenied, DenialReason: "not authorized"}); err != nil {
		t.Fatalf("deny: %v", err)
	}
	entries, _ := db.LoadEntries("s1")
	inv := entries[0].ToolInvocation
	if inv.Status != models.ToolStatusDenied || inv.DenialReason != "not authorized" {
		t.Errorf("denial not persisted: %+v", inv)
	}
}

func TestTurnPositionsAndTerminalImmutability(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	t1, err := db.CreateTurn(&models.Turn{SessionID: "s1", Trigger: "user", Status: models.TurnStatusPending, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	t2, _ := db.CreateTurn(&models.Turn{SessionID: "s1", Trigger: "user", Status: models.TurnStatusPending, Model: "gpt-4o"})
	if t1.Position != 1 || t2.Position != 2 {
		t.Fatalf("expected turn positions 1,2 got %d,%d", t1.Position, t2.Position)
	}

	if err := db.UpdateTurnStatus(t1.ID, models.TurnStatusFinished); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// Terminal turns are immutable.
	if err := db.UpdateTurnStatus(t1.ID, models.TurnStatusStreaming); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on terminal turn, got %v", err)
	}

	latest, err := db.LatestTurn("s1")
	if err != nil {
		t.Fatalf("LatestTurn: %v", err)
	}
	if latest.ID != t2.ID {
		t.Errorf("expected latest turn %d, got %d", t2.ID, latest.ID)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	empty, err := db.GetMemory("s1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if !empty.IsEmpty() {
		t.Fatalf("expected empty memory, got %+v", empty)
	}

	mem := &models.Memory{
		SessionID: "s1",
		Objective: "gain foothold on 10.0.0.1",
		Tasks:     []models.MemoryTask{{Description: "enumerate services"}, {Description: "check smb signing", Done: true}},
	}
	if err := db.PutMemory(mem); err != nil {
		t.Fatalf("PutMemory: %v", err)
	}
	got, _ := db.GetMemory("s1")
	if got.Objective != mem.Objective || len(got.Tasks) != 2 || !got.Tasks[1].Done {
		t.Errorf("memory round trip mismatch: %+v", got)
	}
}

func TestCompactionChain(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "s1")

	none, err := db.LatestCompaction("s1")
	if err != nil || none != nil {
		t.Fatalf("expected no compaction, got %+v err %v", none, err)
	}

	first := &models.Compaction{SessionID: "s1", UpToPosition: 10, Summary: "initial recon summary", EntryCount: 10}
	if err := db.CreateCompaction(first); err != nil {
		t.Fatalf("CreateCompaction: %v", err)
	}
	second := &models.Compaction{SessionID: "s1", PreviousCompactionID: &first.ID, UpToPosition: 25, Summary: "through exploitation", EntryCount: 15}
	if err := db.CreateCompaction(second); err != nil {
		t.Fatalf("CreateCompaction: %v", err)
	}

	latest, _ := db.LatestCompaction("s1")
	if latest.ID != second.ID || latest.PreviousCompactionID == nil || *latest.PreviousCompactionID != first.ID {
		t.Errorf("compaction chain broken: %+v", latest)
	}
}
