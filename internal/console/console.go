package console

import "context"

// Status is the console lifecycle state for one session.
type Status string

const (
	StatusOffline  Status = "offline"
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
)

// Event is one console status report. Output carries any new bytes since the
// previous event. CommandID correlates command lifecycle events with the
// async tool invocation that issued the command; it is empty for startup
// output.
type Event struct {
	SessionID string
	Status    Status
	Output    string
	CommandID string
}

// Client is the interpreter console collaborator: one persistent stateful
// console per session, commands issued one at a time.
type Client interface {
	// Start launches the console for a session and begins emitting events.
	Start(sessionID string) error
	// SendCommand writes one command to a ready console and returns a
	// command id. Returns tools.ErrBusy while starting or mid-command and
	// tools.ErrNotRunning when the console is offline.
	SendCommand(ctx context.Context, sessionID, text string) (string, error)
	// Stop tears the session's console down. Doubles as the interrupt
	// path: a busy console's command settles as interrupted.
	Stop(sessionID string)
	// Status reports the session's current console state.
	Status(sessionID string) Status
	// Events is the shared ordered event stream for all sessions.
	Events() <-chan Event
}
