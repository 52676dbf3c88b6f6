package orchestrator

import (
	"strings"

	"redline/internal/console"
	"redline/internal/database"
	"redline/internal/models"
)

// consoleBlock is one in-flight slice of console interaction: the startup
// banner or one command's output. Only finished blocks become durable
// console-context entries; a block interrupted by the console going offline
// lives and dies in memory.
type consoleBlock struct {
	kind      string // startup | command
	command   string
	commandID string
	output    strings.Builder
}

// handleConsoleEvent applies one console status report. Events are
// idempotent from the bridge's point of view: repeated busy events append
// output to the current block, and a terminal status closes it.
func (o *Orchestrator) handleConsoleEvent(ev console.Event) {
	o.consoleStatus = ev.Status

	switch ev.Status {
	case console.StatusStarting:
		if o.block == nil {
			o.block = &consoleBlock{kind: "startup"}
		}
	case console.StatusBusy:
		if ev.CommandID != "" && (o.block == nil || o.block.commandID != ev.CommandID) {
			o.block = &consoleBlock{
				kind:      "command",
				command:   o.commandTextFor(ev.CommandID),
				commandID: ev.CommandID,
			}
		}
	}

	if ev.Output != "" && o.block != nil {
		o.block.output.WriteString(ev.Output)
		o.publish(models.ServerMessage{Type: "console_output", Content: ev.Output})
	}

	switch ev.Status {
	case console.StatusReady:
		o.closeConsoleBlock(ev.CommandID, true)
	case console.StatusOffline:
		o.closeConsoleBlock(ev.CommandID, false)
	}
}

// closeConsoleBlock settles the current block and, when the block belonged
// to an async console tool, settles that invocation too.
func (o *Orchestrator) closeConsoleBlock(commandID string, finished bool) {
	var output string
	if o.block != nil {
		output = o.block.output.String()
		if finished {
			entry, err := o.deps.DB.CreateEntryWithConsoleContext(o.sessionID, &models.ConsoleContext{
				Kind:    o.block.kind,
				Command: o.block.command,
				Output:  output,
			})
			if err != nil {
				o.logger.Error("failed to persist console block", "kind", o.block.kind, "error", err)
			} else {
				o.publishEntry(entry)
			}
		} else if o.block.kind == "command" || output != "" {
			o.logger.Warn("console block interrupted", "kind", o.block.kind)
		}
		o.block = nil
	}

	if commandID == "" {
		return
	}
	position, ok := o.asyncByCorrelation[commandID]
	if !ok {
		return
	}
	delete(o.asyncByCorrelation, commandID)
	inv, ok := o.invocations[position]
	if !ok {
		return
	}

	upd := database.ToolInvocationUpdate{Status: models.ToolStatusSuccess, Result: output}
	if !finished {
		upd = database.ToolInvocationUpdate{
			Status:      models.ToolStatusError,
			ErrorReason: "console went offline before the command finished",
		}
	}
	if err := o.transitionInvocation(inv, upd); err != nil {
		o.logger.Warn("could not settle console invocation", "position", position, "error", err)
		return
	}
	o.checkBatchComplete()
}

// commandTextFor recovers the command line from the invocation that issued
// it, for display and for the durable console-context record.
func (o *Orchestrator) commandTextFor(commandID string) string {
	position, ok := o.asyncByCorrelation[commandID]
	if !ok {
		return ""
	}
	inv, ok := o.invocations[position]
	if !ok {
		return ""
	}
	args, err := parseArguments(inv.arguments)
	if err != nil {
		return ""
	}
	cmd, _ := args["command"].(string)
	return cmd
}
