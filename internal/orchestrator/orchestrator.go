package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"redline/internal/console"
	"redline/internal/database"
	"redline/internal/execution"
	"redline/internal/llm"
	"redline/internal/logging"
	"redline/internal/models"
	"redline/internal/tools"
)

const (
	eventQueueSize  = 512
	maxReasonLength = 2000
)

// LLMStreamer is the model collaborator: streaming for turns, one-shot
// completion for compaction summaries.
type LLMStreamer interface {
	Stream(ctx context.Context, requestID string, req llm.Request, emit func(llm.StreamEvent))
	Complete(ctx context.Context, req llm.Request) (string, error)
	DefaultModel() string
}

// Deps bundles the collaborators shared by all session orchestrators.
type Deps struct {
	DB            *database.DB
	LLM           LLMStreamer
	Engine        *execution.Engine
	Tools         *tools.Registry
	Console       console.Client
	Broadcaster   Broadcaster
	ContextTokens int
	SystemPrompt  string
}

// invocationState mirrors one tool invocation while its turn is live. The
// persisted row is authoritative; this is the actor's working copy.
type invocationState struct {
	position   int
	toolCallID string
	toolName   string
	arguments  string
	status     models.ToolStatus
	dispatched bool
}

// Orchestrator owns all state for one session and processes every mutation
// on a single goroutine, one event at a time. Collaborators feed it through
// the event channel and never touch its state directly; tool execution is
// the only true parallelism and it lives outside, in the engine's workers.
type Orchestrator struct {
	sessionID string
	deps      Deps
	logger    *slog.Logger

	events chan any
	ctx    context.Context
	cancel context.CancelFunc

	// Actor-owned state. Only the run loop reads or writes these.
	session            *models.Session
	autonomous         bool
	turn               *models.Turn
	requestID          string
	staleEvents        int
	invocations        map[int]*invocationState
	asyncByCorrelation map[string]int
	assembler          *streamAssembler
	block              *consoleBlock
	consoleStatus      console.Status
	compacting         bool
}

// New builds a session orchestrator, reconciles persisted state, and starts
// the event loop. Reconciliation runs before the loop so the first snapshot
// a client sees already reflects recovered invocations.
func New(session *models.Session, deps Deps) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessionID:          session.ID,
		deps:               deps,
		logger:             logging.WithSession(session.ID),
		events:             make(chan any, eventQueueSize),
		ctx:                ctx,
		cancel:             cancel,
		session:            session,
		autonomous:         session.Autonomous,
		invocations:        make(map[int]*invocationState),
		asyncByCorrelation: make(map[string]int),
		consoleStatus:      console.StatusOffline,
	}
	if err := o.reconcile(); err != nil {
		cancel()
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}
	go o.run()
	return o, nil
}

// Close stops the event loop. In-flight tool workers keep running until
// their context cancellation propagates.
func (o *Orchestrator) Close() {
	o.cancel()
}

// SessionID returns the owning session id.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

func (o *Orchestrator) run() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case e := <-o.events:
			o.handle(e)
		}
	}
}

func (o *Orchestrator) handle(e any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handler panicked", "panic", r)
		}
	}()

	switch ev := e.(type) {
	case command:
		o.handleCommand(ev)
	case llmEvent:
		o.handleLLMEvent(ev.ev)
	case execEvent:
		o.handleExecReport(ev.report)
	case consoleEvent:
		o.handleConsoleEvent(ev.ev)
	case compactionResult:
		o.handleCompactionResult(ev)
	default:
		o.logger.Warn("dropping unknown event", "type", fmt.Sprintf("%T", e))
	}
}

// enqueue posts an event from a collaborator goroutine.
func (o *Orchestrator) enqueue(e any) {
	select {
	case o.events <- e:
	case <-o.ctx.Done():
	}
}

// --- client-facing surface ---------------------------------------------

// StartTurn begins a new agentic turn from a user prompt. Valid only while
// no turn is in flight.
func (o *Orchestrator) StartTurn(prompt, model string) (int64, error) {
	r := o.send(command{kind: cmdStartTurn, prompt: prompt, model: model})
	return r.turnID, r.err
}

// ApproveTool approves the pending invocation at a timeline position.
func (o *Orchestrator) ApproveTool(position int) error {
	return o.send(command{kind: cmdApproveTool, position: position}).err
}

// DenyTool denies the pending invocation at a timeline position.
func (o *Orchestrator) DenyTool(position int, reason string) error {
	return o.send(command{kind: cmdDenyTool, position: position, reason: reason}).err
}

// SetAutonomous flips autonomous mode for future turns.
func (o *Orchestrator) SetAutonomous(v bool) error {
	return o.send(command{kind: cmdSetAutonomous, value: v}).err
}

// State returns the full session snapshot.
func (o *Orchestrator) State() (*ChatState, error) {
	r := o.send(command{kind: cmdGetState})
	return r.state, r.err
}

// RequestCompaction forces a compaction pass regardless of the size trigger.
func (o *Orchestrator) RequestCompaction() error {
	return o.send(command{kind: cmdCompact, value: true}).err
}

// CheckCompaction runs the normal size-triggered compaction check. The
// background sweep calls this for sessions that went idle below the
// threshold and later crossed it through console output.
func (o *Orchestrator) CheckCompaction() error {
	return o.send(command{kind: cmdCompact}).err
}

func (o *Orchestrator) send(cmd command) commandReply {
	cmd.reply = make(chan commandReply, 1)
	select {
	case o.events <- cmd:
	case <-o.ctx.Done():
		return commandReply{err: fmt.Errorf("session %s is closed", o.sessionID)}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-o.ctx.Done():
		return commandReply{err: fmt.Errorf("session %s is closed", o.sessionID)}
	}
}

func (o *Orchestrator) handleCommand(cmd command) {
	var r commandReply
	switch cmd.kind {
	case cmdStartTurn:
		r.turnID, r.err = o.startTurn(cmd.prompt, cmd.model)
	case cmdApproveTool:
		r.err = o.approveTool(cmd.position)
	case cmdDenyTool:
		r.err = o.denyTool(cmd.position, cmd.reason)
	case cmdSetAutonomous:
		r.err = o.setAutonomous(cmd.value)
	case cmdGetState:
		r.state, r.err = o.snapshot()
	case cmdCompact:
		r.err = o.startCompaction(cmd.value)
	}
	cmd.reply <- r
}

// --- turn lifecycle ----------------------------------------------------

func (o *Orchestrator) startTurn(prompt, model string) (int64, error) {
	if prompt == "" {
		return 0, fmt.Errorf("prompt cannot be empty")
	}
	if o.turn != nil && !o.turn.Status.IsTerminal() {
		return 0, fmt.Errorf("turn %d is still %s", o.turn.ID, o.turn.Status)
	}
	if model == "" {
		model = o.deps.LLM.DefaultModel()
	}

	turn, err := o.deps.DB.CreateTurn(&models.Turn{
		SessionID:  o.sessionID,
		Trigger:    "user",
		Status:     models.TurnStatusPending,
		Model:      model,
		Autonomous: o.autonomous,
	})
	if err != nil {
		return 0, err
	}

	entry, err := o.deps.DB.CreateEntryWithMessage(o.sessionID, &turn.ID, &models.Message{
		Role:        models.RoleUser,
		MessageType: models.MessageTypePrompt,
		Content:     prompt,
	})
	if err != nil {
		return 0, err
	}

	o.turn = turn
	o.logger = logging.WithTurn(logging.WithSession(o.sessionID), turn.ID, turn.Position)
	o.invocations = make(map[int]*invocationState)
	o.asyncByCorrelation = make(map[string]int)
	o.staleEvents = 0

	o.logger.Info("turn started", "model", model)
	o.publish(models.ServerMessage{Type: "turn_started", TurnID: turn.ID, TurnStatus: string(turn.Status)})
	o.publishEntry(entry)

	o.startStream()
	return turn.ID, nil
}

// startStream builds LLM context from the persisted timeline and launches a
// streaming request. The fresh request id makes every event from any older
// stream detectably stale.
func (o *Orchestrator) startStream() {
	requestID := uuid.NewString()
	o.requestID = requestID
	o.assembler = newStreamAssembler(o)

	entries, err := o.deps.DB.LoadEntries(o.sessionID)
	if err != nil {
		o.streamFailed(fmt.Sprintf("failed to load timeline: %v", err))
		return
	}
	compaction, err := o.deps.DB.LatestCompaction(o.sessionID)
	if err != nil {
		o.streamFailed(fmt.Sprintf("failed to load compaction: %v", err))
		return
	}
	memory, err := o.deps.DB.GetMemory(o.sessionID)
	if err != nil {
		o.streamFailed(fmt.Sprintf("failed to load memory: %v", err))
		return
	}

	req := llm.Request{
		Model:    o.turn.Model,
		Messages: buildMessages(o.deps.SystemPrompt, entries, compaction, memory),
		Tools:    o.deps.Tools.List(),
	}
	go o.deps.LLM.Stream(o.ctx, requestID, req, func(ev llm.StreamEvent) {
		o.enqueue(llmEvent{ev: ev})
	})
}

func (o *Orchestrator) handleLLMEvent(ev llm.StreamEvent) {
	if ev.RequestID != o.requestID {
		o.staleEvents++
		o.logger.Debug("dropping stale stream event", "type", string(ev.Type), "request_id", ev.RequestID)
		return
	}
	if o.turn == nil || o.turn.Status.IsTerminal() {
		o.staleEvents++
		return
	}

	switch ev.Type {
	case llm.EventStarted:
		o.setTurnStatus(models.TurnStatusStreaming)
	case llm.EventBlockStart:
		o.assembler.startBlock(ev.Index, ev.Kind)
	case llm.EventDelta:
		o.assembler.delta(ev.Index, ev.Text)
	case llm.EventBlockStop:
		o.assembler.stopBlock(ev.Index)
	case llm.EventToolCall:
		o.handleToolCall(ev.Call)
	case llm.EventComplete:
		o.handleStreamComplete(ev.StopReason, ev.Usage)
	case llm.EventError:
		o.handleStreamError(ev)
	}
}

// handleToolCall appends a tool invocation entry. Approval-free tools and
// tools under an autonomous turn start approved; everything else waits for a
// human. Unknown tools always wait.
func (o *Orchestrator) handleToolCall(call *llm.ToolCall) {
	if call == nil {
		return
	}
	status := models.ToolStatusPending
	_, known := o.deps.Tools.Get(call.Name)
	if known && (!o.deps.Tools.RequiresApproval(call.Name) || o.turn.Autonomous) {
		status = models.ToolStatusApproved
	}

	inv := &models.ToolInvocation{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
		Status:     status,
	}
	entry, err := o.deps.DB.CreateEntryWithToolInvocation(o.sessionID, &o.turn.ID, inv)
	if err != nil {
		o.logger.Error("failed to persist tool invocation", "tool", call.Name, "error", err)
		return
	}

	o.invocations[entry.Position] = &invocationState{
		position:   entry.Position,
		toolCallID: call.ID,
		toolName:   call.Name,
		arguments:  call.Arguments,
		status:     status,
	}
	o.logger.Info("tool call requested", "tool", call.Name, "position", entry.Position, "status", string(status))
	o.publishEntry(entry)
}

func (o *Orchestrator) handleStreamComplete(stopReason string, usage *llm.Usage) {
	o.assembler.finalize()

	resp := &models.LLMResponse{TurnID: o.turn.ID, RequestID: o.requestID, StopReason: stopReason}
	if usage != nil {
		resp.InputTokens = usage.InputTokens
		resp.OutputTokens = usage.OutputTokens
	}
	if err := o.deps.DB.RecordLLMResponse(resp); err != nil {
		o.logger.Error("failed to record llm response", "error", err)
	}
	o.requestID = ""

	pending, approved := o.openInvocationCounts()
	if stopReason == llm.StopToolUse && pending+approved > 0 {
		if pending > 0 {
			o.setTurnStatus(models.TurnStatusPendingApproval)
			return
		}
		o.setTurnStatus(models.TurnStatusExecutingTools)
		o.dispatchApproved()
		return
	}
	o.finishTurn(models.TurnStatusFinished)
}

func (o *Orchestrator) handleStreamError(ev llm.StreamEvent) {
	o.assembler.finalize()
	o.requestID = ""
	o.logger.Error("stream failed", "reason", ev.ErrorReason, "recoverable", ev.Recoverable)
	o.publish(models.ServerMessage{Type: "error", ErrorCode: "stream_error", ErrorMessage: ev.ErrorReason})
	o.finishTurn(models.TurnStatusError)
}

func (o *Orchestrator) streamFailed(reason string) {
	o.requestID = ""
	o.logger.Error("could not start stream", "reason", reason)
	o.publish(models.ServerMessage{Type: "error", ErrorCode: "stream_error", ErrorMessage: reason})
	o.finishTurn(models.TurnStatusError)
}

// --- approval ----------------------------------------------------------

func (o *Orchestrator) approveTool(position int) error {
	inv, ok := o.invocations[position]
	if !ok {
		return database.ErrNotFound
	}
	if inv.status != models.ToolStatusPending {
		return database.ErrInvalidState
	}
	if err := o.transitionInvocation(inv, database.ToolInvocationUpdate{Status: models.ToolStatusApproved}); err != nil {
		return err
	}
	o.logger.Info("tool approved", "position", position, "tool", inv.toolName)
	o.afterApprovalChange()
	return nil
}

func (o *Orchestrator) denyTool(position int, reason string) error {
	inv, ok := o.invocations[position]
	if !ok {
		return database.ErrNotFound
	}
	if inv.status != models.ToolStatusPending {
		return database.ErrInvalidState
	}
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	if err := o.transitionInvocation(inv, database.ToolInvocationUpdate{
		Status:       models.ToolStatusDenied,
		DenialReason: reason,
	}); err != nil {
		return err
	}
	o.logger.Info("tool denied", "position", position, "tool", inv.toolName, "reason", reason)
	o.afterApprovalChange()
	return nil
}

// afterApprovalChange advances the turn once no invocation is pending: run
// whatever was approved, or go straight back to the model when everything
// was denied.
func (o *Orchestrator) afterApprovalChange() {
	if o.turn == nil || o.turn.Status != models.TurnStatusPendingApproval {
		return
	}
	pending, approved := o.openInvocationCounts()
	if pending > 0 {
		return
	}
	if approved > 0 {
		o.setTurnStatus(models.TurnStatusExecutingTools)
		o.dispatchApproved()
		return
	}
	o.startStream()
}

func (o *Orchestrator) openInvocationCounts() (pending, approved int) {
	for _, inv := range o.invocations {
		switch inv.status {
		case models.ToolStatusPending:
			pending++
		case models.ToolStatusApproved:
			approved++
		}
	}
	return pending, approved
}

// --- execution ---------------------------------------------------------

func (o *Orchestrator) dispatchApproved() {
	var batch []execution.ToolRequest
	for _, inv := range sortedInvocations(o.invocations) {
		if inv.status != models.ToolStatusApproved || inv.dispatched {
			continue
		}
		args, err := parseArguments(inv.arguments)
		if err != nil {
			o.failInvocationLocally(inv, fmt.Sprintf("malformed tool arguments: %v", err))
			continue
		}
		inv.dispatched = true
		batch = append(batch, execution.ToolRequest{Position: inv.position, Name: inv.toolName, Args: args})
	}
	if len(batch) == 0 {
		o.checkBatchComplete()
		return
	}
	o.deps.Engine.Dispatch(o.ctx, o.sessionID, batch, func(r execution.Report) {
		o.enqueue(execEvent{report: r})
	})
}

// failInvocationLocally walks an invocation through executing to error when
// it never reaches a worker, keeping the status path valid.
func (o *Orchestrator) failInvocationLocally(inv *invocationState, reason string) {
	if inv.status == models.ToolStatusApproved {
		if err := o.transitionInvocation(inv, database.ToolInvocationUpdate{Status: models.ToolStatusExecuting}); err != nil {
			return
		}
	}
	o.transitionInvocation(inv, database.ToolInvocationUpdate{
		Status:      models.ToolStatusError,
		ErrorReason: reason,
	})
}

func (o *Orchestrator) handleExecReport(r execution.Report) {
	inv, ok := o.invocations[r.Position]
	if !ok {
		o.logger.Warn("dropping report for unknown invocation", "position", r.Position)
		return
	}

	if r.Async {
		o.asyncByCorrelation[r.CorrelationID] = r.Position
		// The console's busy event usually beats this report, so the open
		// block may still be missing its command text.
		if o.block != nil && o.block.commandID == r.CorrelationID && o.block.command == "" {
			o.block.command = o.commandTextFor(r.CorrelationID)
		}
		o.logger.Info("async tool started", "position", r.Position, "correlation_id", r.CorrelationID)
		return
	}

	upd := database.ToolInvocationUpdate{
		Status:      r.Status,
		Result:      r.Result,
		ErrorReason: r.Reason,
		DurationMs:  r.DurationMs,
	}
	if err := o.transitionInvocation(inv, upd); err != nil {
		o.logger.Warn("stale execution report", "position", r.Position, "status", string(r.Status), "error", err)
		return
	}
	if r.Status.IsTerminal() {
		o.checkBatchComplete()
	}
}

// checkBatchComplete resumes the model once every invocation of the current
// batch has settled.
func (o *Orchestrator) checkBatchComplete() {
	if o.turn == nil || o.turn.Status != models.TurnStatusExecutingTools {
		return
	}
	for _, inv := range o.invocations {
		if !inv.status.IsTerminal() {
			return
		}
	}
	o.startStream()
}

// transitionInvocation persists a guarded status change and mirrors it in
// the actor state, then notifies clients.
func (o *Orchestrator) transitionInvocation(inv *invocationState, upd database.ToolInvocationUpdate) error {
	if !execution.CanTransition(inv.status, upd.Status) {
		return database.ErrInvalidState
	}
	if err := o.deps.DB.UpdateToolInvocation(o.sessionID, inv.position, inv.status, upd); err != nil {
		return err
	}
	inv.status = upd.Status
	o.publish(models.ServerMessage{
		Type:       "tool_status",
		Position:   inv.position,
		ToolName:   inv.toolName,
		ToolStatus: string(upd.Status),
		Result:     upd.Result,
		Reason:     firstNonEmpty(upd.ErrorReason, upd.DenialReason),
	})
	return nil
}

// --- shared helpers ----------------------------------------------------

func (o *Orchestrator) setTurnStatus(status models.TurnStatus) {
	if o.turn == nil || o.turn.Status == status {
		return
	}
	if err := o.deps.DB.UpdateTurnStatus(o.turn.ID, status); err != nil {
		if !errors.Is(err, database.ErrInvalidState) {
			o.logger.Error("failed to persist turn status", "turn_id", o.turn.ID, "status", string(status), "error", err)
		}
		return
	}
	o.turn.Status = status
	if status.IsTerminal() {
		o.logger = logging.WithSession(o.sessionID)
	}
	o.publish(models.ServerMessage{Type: "turn_status", TurnID: o.turn.ID, TurnStatus: string(status)})
}

func (o *Orchestrator) finishTurn(status models.TurnStatus) {
	o.setTurnStatus(status)
	if status == models.TurnStatusFinished {
		if err := o.startCompaction(false); err != nil {
			o.logger.Error("compaction check failed", "error", err)
		}
	}
}

func (o *Orchestrator) setAutonomous(v bool) error {
	if err := o.deps.DB.UpdateSessionAutonomous(o.sessionID, v); err != nil {
		return err
	}
	o.autonomous = v
	o.session.Autonomous = v
	o.logger.Info("autonomous mode changed", "autonomous", v)
	o.publish(models.ServerMessage{Type: "state", State: map[string]any{"autonomous": v}})
	return nil
}

func (o *Orchestrator) snapshot() (*ChatState, error) {
	entries, err := o.deps.DB.LoadEntries(o.sessionID)
	if err != nil {
		return nil, err
	}
	state := &ChatState{
		Entries:       entries,
		Autonomous:    o.autonomous,
		ConsoleStatus: o.consoleStatus,
	}
	if o.turn != nil {
		state.TurnStatus = o.turn.Status
		state.CurrentTurnID = o.turn.ID
	}
	return state, nil
}

func (o *Orchestrator) publish(msg models.ServerMessage) {
	msg.SessionID = o.sessionID
	o.deps.Broadcaster.Publish(o.sessionID, msg)
}

func (o *Orchestrator) publishEntry(entry *models.Entry) {
	msg := models.ServerMessage{
		Type:      "entry_created",
		Position:  entry.Position,
		EntryType: string(entry.Type),
	}
	if entry.TurnID != nil {
		msg.TurnID = *entry.TurnID
	}
	switch entry.Type {
	case models.EntryTypeMessage:
		msg.Role = entry.Message.Role
		msg.MessageType = entry.Message.MessageType
		msg.Content = entry.Message.Content
	case models.EntryTypeToolInvocation:
		msg.ToolName = entry.ToolInvocation.ToolName
		msg.ToolStatus = string(entry.ToolInvocation.Status)
		msg.Arguments = entry.ToolInvocation.Arguments
	case models.EntryTypeConsoleContext:
		msg.Content = entry.ConsoleContext.Output
	}
	o.publish(msg)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
