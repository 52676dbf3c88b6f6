package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func collectEvents(t *testing.T, server *httptest.Server, req Request) []StreamEvent {
	t.Helper()
	client := NewClient(server.URL, "test-key", "test-model", 0)
	var events []StreamEvent
	client.Stream(context.Background(), "req-1", req, func(ev StreamEvent) {
		events = append(events, ev)
	})
	return events
}

func TestStreamTextBlocks(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"let me think"}}]}`,
		`{"choices":[{"delta":{"reasoning_content":" about this"}}]}`,
		`{"choices":[{"delta":{"content":"Here is "}}]}`,
		`{"choices":[{"delta":{"content":"the answer."},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":120,"completion_tokens":8}}`,
	}))
	defer server.Close()

	events := collectEvents(t, server, Request{Messages: []map[string]interface{}{{"role": "user", "content": "hi"}}})

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.RequestID != "req-1" {
			t.Errorf("event missing correlation token: %+v", ev)
		}
	}

	want := []EventType{
		EventStarted,
		EventBlockStart, EventDelta, EventDelta, EventBlockStop,
		EventBlockStart, EventDelta, EventDelta, EventBlockStop,
		EventComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("got event types %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}

	if events[1].Kind != BlockThinking {
		t.Errorf("first block should be thinking, got %s", events[1].Kind)
	}
	if events[5].Kind != BlockText {
		t.Errorf("second block should be text, got %s", events[5].Kind)
	}
	if events[5].Index != events[1].Index+1 {
		t.Errorf("block indexes should increase: %d then %d", events[1].Index, events[5].Index)
	}

	last := events[len(events)-1]
	if last.StopReason != StopEndTurn {
		t.Errorf("expected end_turn, got %s", last.StopReason)
	}
	if last.Usage == nil || last.Usage.InputTokens != 120 || last.Usage.OutputTokens != 8 {
		t.Errorf("usage not captured: %+v", last.Usage)
	}
}

func TestStreamAccumulatesToolCalls(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"port_scan","arguments":"{\"host\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"10.0.0.1\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"dns_lookup","arguments":"{\"name\":\"target.lan\"}"}}]},"finish_reason":"tool_calls"}]}`,
	}))
	defer server.Close()

	events := collectEvents(t, server, Request{})

	var calls []*ToolCall
	for _, ev := range events {
		if ev.Type == EventToolCall {
			calls = append(calls, ev.Call)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "port_scan" {
		t.Errorf("first call wrong: %+v", calls[0])
	}
	args, err := calls[0].ParseArguments()
	if err != nil {
		t.Fatalf("fragmented arguments did not reassemble: %v", err)
	}
	if args["host"] != "10.0.0.1" {
		t.Errorf("host argument lost: %v", args)
	}
	if calls[1].Name != "dns_lookup" {
		t.Errorf("second call wrong: %+v", calls[1])
	}

	last := events[len(events)-1]
	if last.Type != EventComplete || last.StopReason != StopToolUse {
		t.Errorf("expected tool_use completion, got %+v", last)
	}
}

func TestStreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	events := collectEvents(t, server, Request{})
	if len(events) != 1 {
		t.Fatalf("expected single error event, got %d", len(events))
	}
	if events[0].Type != EventError {
		t.Fatalf("expected error event, got %s", events[0].Type)
	}
	if !events[0].Recoverable {
		t.Error("5xx errors should be marked recoverable")
	}
}

func TestStreamClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	events := collectEvents(t, server, Request{})
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if events[0].Recoverable {
		t.Error("4xx errors should not be marked recoverable")
	}
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Summary: scanned two hosts."}}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "model", 0)
	text, err := client.Complete(context.Background(), Request{
		Messages: []map[string]interface{}{{"role": "user", "content": "summarize"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "Summary: scanned two hosts." {
		t.Errorf("unexpected completion: %q", text)
	}
}
