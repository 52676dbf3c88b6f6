package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func noopExecute(ctx context.Context, req Request) (string, error) {
	return "ok", nil
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&Tool{Name: "", Execute: noopExecute}); err == nil {
		t.Error("expected error for empty tool name")
	}
	if err := r.Register(&Tool{Name: "no_fn"}); err == nil {
		t.Error("expected error for tool without Execute or StartAsync")
	}
	if err := r.Register(&Tool{Name: "dup", Execute: noopExecute}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(&Tool{Name: "dup", Execute: noopExecute}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 registered tool, got %d", r.Count())
	}
}

func TestUnknownToolRequiresApproval(t *testing.T) {
	r := NewRegistry()
	if !r.RequiresApproval("never_registered") {
		t.Error("unknown tools must require approval")
	}
	if r.MutexKey("never_registered") != "" {
		t.Error("unknown tools must have no mutex key")
	}
}

func TestApplyPolicyOverrides(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "gated", RequiresApproval: true, Execute: noopExecute}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Tool{Name: "open", RequiresApproval: false, Execute: noopExecute}); err != nil {
		t.Fatal(err)
	}

	off, on := false, true
	r.ApplyPolicy(&Policy{Tools: map[string]PolicyEntry{
		"gated":   {RequiresApproval: &off},
		"open":    {RequiresApproval: &on},
		"unknown": {RequiresApproval: &on},
	}})

	if r.RequiresApproval("gated") {
		t.Error("policy should have lifted approval on gated")
	}
	if !r.RequiresApproval("open") {
		t.Error("policy should have gated open")
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		p, err := LoadPolicy(filepath.Join(dir, "nope.yaml"))
		if err != nil {
			t.Fatalf("missing policy file should not error: %v", err)
		}
		if _, ok := p.ApprovalOverride("anything"); ok {
			t.Error("empty policy should have no overrides")
		}
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "policy.yaml")
		content := "tools:\n  port_scan:\n    requires_approval: true\n  dns_lookup: {}\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		p, err := LoadPolicy(path)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := p.ApprovalOverride("port_scan")
		if !ok || !got {
			t.Errorf("expected port_scan override true, got %v ok=%v", got, ok)
		}
		if _, ok := p.ApprovalOverride("dns_lookup"); ok {
			t.Error("entry without requires_approval should not override")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte("tools: [not a map"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPolicy(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestListUsesOpenAIFormat(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewPortScanTool()); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(list))
	}
	if list[0]["type"] != "function" {
		t.Errorf("expected type function, got %v", list[0]["type"])
	}
	fn, ok := list[0]["function"].(map[string]interface{})
	if !ok {
		t.Fatal("function block missing")
	}
	if fn["name"] != "port_scan" {
		t.Errorf("expected port_scan, got %v", fn["name"])
	}
}
