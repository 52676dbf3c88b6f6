package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"redline/internal/models"
	"redline/internal/tools"
)

const (
	backoffBase    = 250 * time.Millisecond
	backoffMaxWait = 30 * time.Second
)

// ToolRequest is one item of a dispatch batch, in model-requested order.
// Position is the invocation's timeline position and the key every status
// report carries back.
type ToolRequest struct {
	Position int
	Name     string
	Args     map[string]interface{}
}

// Report is one asynchronous status message from a tool worker back to the
// orchestrator. Status is executing, success, error or timeout; async
// dispatches instead carry a correlation id and complete via a later
// external event.
type Report struct {
	Position      int
	Status        models.ToolStatus
	Result        string
	Reason        string
	Async         bool
	CorrelationID string
	DurationMs    int64
}

// ReportFunc receives status reports. It is called from worker goroutines
// and must be safe for concurrent use; the orchestrator funnels reports into
// its event channel.
type ReportFunc func(Report)

// Engine executes tool batches with mutex-group partitioning: requests
// sharing a mutex key run strictly sequentially in batch order, requests
// without a key run freely in parallel, and distinct groups never wait on
// each other. A failure in one unit never aborts its siblings.
type Engine struct {
	registry *tools.Registry

	// Overridable in tests to keep retry loops fast.
	backoffBase    time.Duration
	backoffMaxWait time.Duration
}

// NewEngine creates a tool execution engine over a registry.
func NewEngine(registry *tools.Registry) *Engine {
	return &Engine{
		registry:       registry,
		backoffBase:    backoffBase,
		backoffMaxWait: backoffMaxWait,
	}
}

// Dispatch partitions the batch into concurrent units and returns
// immediately. Every request eventually produces reports via report: an
// executing report when its run begins, then a terminal or async report.
func (e *Engine) Dispatch(ctx context.Context, sessionID string, batch []ToolRequest, report ReportFunc) {
	var units [][]ToolRequest
	groups := make(map[string]int)

	for _, req := range batch {
		key := e.registry.MutexKey(req.Name)
		if key == "" {
			units = append(units, []ToolRequest{req})
			continue
		}
		idx, ok := groups[key]
		if !ok {
			groups[key] = len(units)
			units = append(units, []ToolRequest{req})
			continue
		}
		units[idx] = append(units[idx], req)
	}

	log.Printf("🚀 [ENGINE] Dispatching %d tool(s) in %d unit(s) for session %s", len(batch), len(units), sessionID)
	for _, unit := range units {
		go e.runUnit(ctx, sessionID, unit, report)
	}
}

// runUnit executes one sequential unit. An async tool does not block its
// successors here: the shared resource itself reports busy until the async
// completion arrives, and the successor's bounded retry provides the wait.
func (e *Engine) runUnit(ctx context.Context, sessionID string, unit []ToolRequest, report ReportFunc) {
	for _, req := range unit {
		e.runOne(ctx, sessionID, req, report)
	}
}

func (e *Engine) runOne(ctx context.Context, sessionID string, req ToolRequest, report ReportFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 [ENGINE] Tool %s (position %d) panicked: %v", req.Name, req.Position, r)
			report(Report{
				Position: req.Position,
				Status:   models.ToolStatusError,
				Reason:   fmt.Sprintf("tool panicked: %v", r),
			})
		}
	}()

	tool, exists := e.registry.Get(req.Name)
	if !exists {
		report(Report{
			Position: req.Position,
			Status:   models.ToolStatusError,
			Reason:   fmt.Sprintf("unknown tool: %s", req.Name),
		})
		return
	}

	report(Report{Position: req.Position, Status: models.ToolStatusExecuting})
	started := time.Now()

	run := tool.Execute
	if tool.Async() {
		run = tools.ExecuteFunc(tool.StartAsync)
	}

	result, err := e.runWithBackoff(ctx, run, tools.Request{SessionID: sessionID, Args: req.Args})
	elapsed := time.Since(started).Milliseconds()

	switch {
	case errors.Is(err, errBackoffExhausted):
		report(Report{
			Position:   req.Position,
			Status:     models.ToolStatusTimeout,
			Reason:     fmt.Sprintf("resource still busy after %s", e.backoffMaxWait),
			DurationMs: elapsed,
		})
	case err != nil:
		report(Report{
			Position:   req.Position,
			Status:     models.ToolStatusError,
			Reason:     err.Error(),
			DurationMs: elapsed,
		})
	case tool.Async():
		report(Report{
			Position:      req.Position,
			Status:        models.ToolStatusExecuting,
			Async:         true,
			CorrelationID: result,
			DurationMs:    elapsed,
		})
	default:
		report(Report{
			Position:   req.Position,
			Status:     models.ToolStatusSuccess,
			Result:     result,
			DurationMs: elapsed,
		})
	}
}

var errBackoffExhausted = errors.New("backoff budget exhausted")

// runWithBackoff retries busy responses with exponential backoff until the
// total wait budget runs out. Any other error is terminal.
func (e *Engine) runWithBackoff(ctx context.Context, run tools.ExecuteFunc, req tools.Request) (string, error) {
	wait := e.backoffBase
	var waited time.Duration

	for {
		result, err := run(ctx, req)
		if !errors.Is(err, tools.ErrBusy) {
			return result, err
		}
		if waited+wait > e.backoffMaxWait {
			return "", errBackoffExhausted
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		waited += wait
		wait *= 2
	}
}
