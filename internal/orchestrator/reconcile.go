package orchestrator

import (
	"errors"

	"redline/internal/database"
	"redline/internal/logging"
	"redline/internal/models"
)

// reconcile rebuilds in-memory state from the persisted timeline after a
// restart. Only pending and approved invocations need recovery; anything
// terminal already tells its whole story. A persisted pending whose tool
// needs no approval is upgraded to approved so execution resumes without a
// human; unknown tool names stay pending, failing safe toward requiring
// one. Running reconcile twice produces the same effective map and never
// dispatches an already-dispatched invocation.
func (o *Orchestrator) reconcile() error {
	entries, err := o.deps.DB.LoadEntries(o.sessionID)
	if err != nil {
		return err
	}

	turn, err := o.deps.DB.LatestTurn(o.sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if turn.Status.IsTerminal() {
		o.turn = turn
		return nil
	}
	o.turn = turn
	o.logger = logging.WithTurn(o.logger, turn.ID, turn.Position)

	recovered := 0
	for _, e := range entries {
		if e.Type != models.EntryTypeToolInvocation {
			continue
		}
		if e.TurnID == nil || *e.TurnID != turn.ID {
			continue
		}
		inv := e.ToolInvocation
		if inv.Status != models.ToolStatusPending && inv.Status != models.ToolStatusApproved {
			continue
		}
		if existing, ok := o.invocations[e.Position]; ok && existing.dispatched {
			continue
		}

		state := &invocationState{
			position:   e.Position,
			toolCallID: inv.ToolCallID,
			toolName:   inv.ToolName,
			arguments:  inv.Arguments,
			status:     inv.Status,
		}
		o.invocations[e.Position] = state
		if inv.Status == models.ToolStatusPending {
			if _, known := o.deps.Tools.Get(inv.ToolName); known && !o.deps.Tools.RequiresApproval(inv.ToolName) {
				// Approval-free tools resume without a human. The upgrade
				// is persisted so the status path stays pending→approved→
				// executing even across another restart.
				if err := o.transitionInvocation(state, database.ToolInvocationUpdate{Status: models.ToolStatusApproved}); err != nil {
					o.logger.Warn("could not upgrade recovered invocation", "position", e.Position, "error", err)
				}
			}
		}
		recovered++
	}

	pending, approved := o.openInvocationCounts()
	switch {
	case recovered == 0 && pending == 0 && approved == 0:
		// A turn died mid-stream with nothing to recover. Settle it so the
		// user can simply prompt again.
		o.logger.Warn("interrupting unrecoverable turn", "turn_id", turn.ID, "was", string(turn.Status))
		o.setTurnStatus(models.TurnStatusInterrupted)
	case pending > 0:
		o.logger.Info("recovered invocations awaiting approval", "pending", pending, "approved", approved)
		o.setTurnStatus(models.TurnStatusPendingApproval)
	default:
		o.logger.Info("resuming recovered tool execution", "approved", approved)
		o.setTurnStatus(models.TurnStatusExecutingTools)
		o.dispatchApproved()
	}
	return nil
}
