package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"redline/internal/models"
	"redline/internal/tools"
)

// reportCollector gathers reports safely across worker goroutines.
type reportCollector struct {
	mu      sync.Mutex
	reports []Report
}

func (c *reportCollector) collect(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *reportCollector) snapshot() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func terminalCount(reports []Report) int {
	n := 0
	for _, r := range reports {
		if r.Status.IsTerminal() || r.Async {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, register ...*tools.Tool) *Engine {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range register {
		if err := r.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(r)
	e.backoffBase = 5 * time.Millisecond
	e.backoffMaxWait = 100 * time.Millisecond
	return e
}

func TestMutexGroupOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	inFlight := map[string]string{}

	slowTool := func(name, mutexKey string) *tools.Tool {
		return &tools.Tool{
			Name:     name,
			MutexKey: mutexKey,
			Execute: func(ctx context.Context, req tools.Request) (string, error) {
				mu.Lock()
				if mutexKey != "" {
					for other, otherKey := range inFlight {
						if otherKey == mutexKey {
							t.Errorf("%s started while %s still executing in same group", name, other)
						}
					}
				}
				inFlight[name] = mutexKey
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				delete(inFlight, name)
				order = append(order, name)
				mu.Unlock()
				return "done", nil
			},
		}
	}

	engine := newTestEngine(t,
		slowTool("tool_a", "console"),
		slowTool("tool_b", ""),
		slowTool("tool_c", "console"),
	)

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "tool_a"},
		{Position: 2, Name: "tool_b"},
		{Position: 3, Name: "tool_c"},
	}, collector.collect)

	waitFor(t, 2*time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	posA, posC := -1, -1
	for i, name := range order {
		switch name {
		case "tool_a":
			posA = i
		case "tool_c":
			posC = i
		}
	}
	if posA == -1 || posC == -1 {
		t.Fatalf("missing completions in order %v", order)
	}
	if posA > posC {
		t.Errorf("tool_a must complete before tool_c, got order %v", order)
	}
}

func TestExecutingReportedPromptly(t *testing.T) {
	block := make(chan struct{})
	blocked := func(name, key string) *tools.Tool {
		return &tools.Tool{
			Name:     name,
			MutexKey: key,
			Execute: func(ctx context.Context, req tools.Request) (string, error) {
				<-block
				return "ok", nil
			},
		}
	}

	engine := newTestEngine(t,
		blocked("free_one", ""),
		blocked("free_two", ""),
		blocked("console_cmd", "console"),
	)

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "free_one"},
		{Position: 2, Name: "free_two"},
		{Position: 3, Name: "console_cmd"},
	}, collector.collect)

	waitFor(t, 2*time.Second, func() bool {
		executing := 0
		for _, r := range collector.snapshot() {
			if r.Status == models.ToolStatusExecuting && !r.Async {
				executing++
			}
		}
		return executing == 3
	})

	close(block)
	waitFor(t, 2*time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 3
	})
}

func TestPanicIsolatedFromSiblings(t *testing.T) {
	engine := newTestEngine(t,
		&tools.Tool{
			Name: "boom",
			Execute: func(ctx context.Context, req tools.Request) (string, error) {
				panic("exploit module crashed")
			},
		},
		&tools.Tool{
			Name: "steady",
			Execute: func(ctx context.Context, req tools.Request) (string, error) {
				return "fine", nil
			},
		},
	)

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "boom"},
		{Position: 2, Name: "steady"},
	}, collector.collect)

	waitFor(t, 2*time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 2
	})

	var boomStatus, steadyStatus models.ToolStatus
	for _, r := range collector.snapshot() {
		if !r.Status.IsTerminal() {
			continue
		}
		switch r.Position {
		case 1:
			boomStatus = r.Status
		case 2:
			steadyStatus = r.Status
		}
	}
	if boomStatus != models.ToolStatusError {
		t.Errorf("panicking tool should report error, got %s", boomStatus)
	}
	if steadyStatus != models.ToolStatusSuccess {
		t.Errorf("sibling must still succeed, got %s", steadyStatus)
	}
}

func TestUnknownToolReportsError(t *testing.T) {
	engine := newTestEngine(t)
	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 7, Name: "no_such_tool"},
	}, collector.collect)

	waitFor(t, time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 1
	})
	reports := collector.snapshot()
	if len(reports) != 1 || reports[0].Status != models.ToolStatusError {
		t.Fatalf("expected a single immediate error report, got %+v", reports)
	}
}

func TestBusyRetriedThenTimeout(t *testing.T) {
	engine := newTestEngine(t, &tools.Tool{
		Name: "always_busy",
		Execute: func(ctx context.Context, req tools.Request) (string, error) {
			return "", tools.ErrBusy
		},
	})

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "always_busy"},
	}, collector.collect)

	waitFor(t, 2*time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 1
	})
	for _, r := range collector.snapshot() {
		if r.Status.IsTerminal() && r.Status != models.ToolStatusTimeout {
			t.Errorf("exhausted backoff must yield timeout, got %s", r.Status)
		}
	}
}

func TestBusyRecoversWithinBudget(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	engine := newTestEngine(t, &tools.Tool{
		Name: "briefly_busy",
		Execute: func(ctx context.Context, req tools.Request) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return "", tools.ErrBusy
			}
			return "recovered", nil
		},
	})

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "briefly_busy"},
	}, collector.collect)

	waitFor(t, 2*time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 1
	})
	found := false
	for _, r := range collector.snapshot() {
		if r.Status == models.ToolStatusSuccess && r.Result == "recovered" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected success after transient busy, got %+v", collector.snapshot())
	}
}

func TestAsyncToolReportsCorrelationID(t *testing.T) {
	engine := newTestEngine(t, &tools.Tool{
		Name:     "console_async",
		MutexKey: "console",
		StartAsync: func(ctx context.Context, req tools.Request) (string, error) {
			return "corr-42", nil
		},
	})

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "console_async"},
	}, collector.collect)

	waitFor(t, time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 1
	})
	found := false
	for _, r := range collector.snapshot() {
		if r.Async {
			found = true
			if r.CorrelationID != "corr-42" {
				t.Errorf("expected correlation id corr-42, got %q", r.CorrelationID)
			}
			if r.Status != models.ToolStatusExecuting {
				t.Errorf("async report keeps executing status, got %s", r.Status)
			}
		}
		if r.Status.IsTerminal() {
			t.Errorf("async dispatch must not report terminal status, got %s", r.Status)
		}
	}
	if !found {
		t.Fatal("no async report observed")
	}
}

// Reports key back into the timeline by entry position, so a mixed batch of
// sync and async tools must settle each position independently.
func TestReportsKeyedByTimelinePosition(t *testing.T) {
	engine := newTestEngine(t,
		&tools.Tool{
			Name: "quick_scan",
			Execute: func(ctx context.Context, req tools.Request) (string, error) {
				return "open: 22", nil
			},
		},
		&tools.Tool{
			Name:     "console_async",
			MutexKey: "console",
			StartAsync: func(ctx context.Context, req tools.Request) (string, error) {
				return "corr-7", nil
			},
		},
	)

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 3, Name: "quick_scan"},
		{Position: 9, Name: "console_async"},
	}, collector.collect)

	waitFor(t, time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 2
	})

	byPosition := make(map[int][]Report)
	for _, r := range collector.snapshot() {
		byPosition[r.Position] = append(byPosition[r.Position], r)
	}
	if len(byPosition) != 2 {
		t.Fatalf("reports for %d positions, want 2: %+v", len(byPosition), byPosition)
	}

	last := byPosition[3][len(byPosition[3])-1]
	if last.Status != models.ToolStatusSuccess || last.Result != "open: 22" {
		t.Errorf("position 3 settled as %+v", last)
	}
	last = byPosition[9][len(byPosition[9])-1]
	if !last.Async || last.CorrelationID != "corr-7" {
		t.Errorf("position 9 settled as %+v", last)
	}
}

func TestNotRunningIsTerminalError(t *testing.T) {
	engine := newTestEngine(t, &tools.Tool{
		Name:     "dead_console",
		MutexKey: "console",
		StartAsync: func(ctx context.Context, req tools.Request) (string, error) {
			return "", tools.ErrNotRunning
		},
	})

	collector := &reportCollector{}
	engine.Dispatch(context.Background(), "sess", []ToolRequest{
		{Position: 1, Name: "dead_console"},
	}, collector.collect)

	waitFor(t, time.Second, func() bool {
		return terminalCount(collector.snapshot()) == 1
	})
	for _, r := range collector.snapshot() {
		if r.Status.IsTerminal() && r.Status != models.ToolStatusError {
			t.Errorf("not-running must be a terminal error, got %s", r.Status)
		}
		if r.Async {
			t.Error("failed async start must not report a correlation id")
		}
	}
}

func TestTransitionTable(t *testing.T) {
	valid := [][2]models.ToolStatus{
		{models.ToolStatusPending, models.ToolStatusApproved},
		{models.ToolStatusPending, models.ToolStatusDenied},
		{models.ToolStatusApproved, models.ToolStatusExecuting},
		{models.ToolStatusExecuting, models.ToolStatusSuccess},
		{models.ToolStatusExecuting, models.ToolStatusError},
		{models.ToolStatusExecuting, models.ToolStatusTimeout},
	}
	for _, pair := range valid {
		if got := TransitionToolStatus(pair[0], pair[1]); got != pair[1] {
			t.Errorf("transition %s → %s should be allowed, got %s", pair[0], pair[1], got)
		}
	}

	invalid := [][2]models.ToolStatus{
		{models.ToolStatusPending, models.ToolStatusExecuting},
		{models.ToolStatusPending, models.ToolStatusSuccess},
		{models.ToolStatusApproved, models.ToolStatusDenied},
		{models.ToolStatusDenied, models.ToolStatusApproved},
		{models.ToolStatusSuccess, models.ToolStatusExecuting},
		{models.ToolStatusExecuting, models.ToolStatusCancelled},
		{models.ToolStatusPending, models.ToolStatusCancelled},
		{models.ToolStatusCancelled, models.ToolStatusPending},
	}
	for _, pair := range invalid {
		if got := TransitionToolStatus(pair[0], pair[1]); got != pair[0] {
			t.Errorf("transition %s → %s should be rejected, got %s", pair[0], pair[1], got)
		}
		if CanTransition(pair[0], pair[1]) {
			t.Errorf("CanTransition(%s, %s) should be false", pair[0], pair[1])
		}
	}
}
