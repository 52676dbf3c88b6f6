package console

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"redline/internal/tools"
)

const eventBufferSize = 256

// spawnFunc launches the console process and returns its stdin, its merged
// stdout+stderr stream and a kill function. Overridable in tests.
type spawnFunc func(command []string) (io.WriteCloser, io.Reader, func(), error)

func spawnProcess(command []string) (io.WriteCloser, io.Reader, func(), error) {
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	kill := func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	}
	return stdin, stdout, kill, nil
}

// LocalClient runs one interpreter subprocess per session (msfconsole by
// default) and turns its raw output into ordered status events. Readiness is
// detected by watching for the configured prompt at the end of output.
type LocalClient struct {
	command        []string
	prompt         string
	startupTimeout time.Duration
	spawn          spawnFunc

	mu       sync.Mutex
	sessions map[string]*consoleSession
	events   chan Event
}

type consoleSession struct {
	id        string
	status    Status
	stdin     io.WriteCloser
	kill      func()
	commandID string
	started   time.Time
}

// NewLocalClient creates a console client for the given command line.
func NewLocalClient(command []string, prompt string, startupTimeout time.Duration) *LocalClient {
	return &LocalClient{
		command:        command,
		prompt:         prompt,
		startupTimeout: startupTimeout,
		spawn:          spawnProcess,
		sessions:       make(map[string]*consoleSession),
		events:         make(chan Event, eventBufferSize),
	}
}

// Events returns the shared event stream.
func (c *LocalClient) Events() <-chan Event {
	return c.events
}

// Start launches the console subprocess for a session.
func (c *LocalClient) Start(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sessions[sessionID]; ok && existing.status != StatusOffline {
		return fmt.Errorf("console already running for session %s", sessionID)
	}
	if len(c.command) == 0 {
		return fmt.Errorf("no console command configured")
	}

	stdin, output, kill, err := c.spawn(c.command)
	if err != nil {
		return fmt.Errorf("failed to start console: %w", err)
	}

	sess := &consoleSession{
		id:      sessionID,
		status:  StatusStarting,
		stdin:   stdin,
		kill:    kill,
		started: time.Now(),
	}
	c.sessions[sessionID] = sess

	log.Printf("🖥️ [CONSOLE] Starting %s for session %s", c.command[0], sessionID)
	c.emit(Event{SessionID: sessionID, Status: StatusStarting})
	go c.readLoop(sess, output)
	go c.watchStartup(sess)
	return nil
}

// SendCommand writes one command line to a ready console.
func (c *LocalClient) SendCommand(ctx context.Context, sessionID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.status == StatusOffline {
		return "", tools.ErrNotRunning
	}
	if sess.status != StatusReady {
		return "", tools.ErrBusy
	}

	commandID := uuid.NewString()
	if _, err := io.WriteString(sess.stdin, text+"\n"); err != nil {
		c.markOfflineLocked(sess)
		return "", tools.ErrNotRunning
	}
	sess.status = StatusBusy
	sess.commandID = commandID

	log.Printf("▶️ [CONSOLE] Session %s command %s: %s", sessionID, commandID, text)
	c.emit(Event{SessionID: sessionID, Status: StatusBusy, CommandID: commandID})
	return commandID, nil
}

// Stop tears down the session's console.
func (c *LocalClient) Stop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[sessionID]; ok {
		c.markOfflineLocked(sess)
	}
}

// Status reports the session's current console state.
func (c *LocalClient) Status(sessionID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[sessionID]; ok {
		return sess.status
	}
	return StatusOffline
}

// StopAll tears down every console, used at shutdown.
func (c *LocalClient) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		c.markOfflineLocked(sess)
	}
}

// readLoop streams console output, emitting chunks as they arrive and
// watching the tail for the prompt that signals readiness.
func (c *LocalClient) readLoop(sess *consoleSession, output io.Reader) {
	buf := make([]byte, 4096)
	var tail string

	for {
		n, err := output.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			tail = keepTail(tail+chunk, len(c.prompt)+64)

			c.mu.Lock()
			status := sess.status
			commandID := sess.commandID
			c.mu.Unlock()
			if status == StatusOffline {
				return
			}

			c.emit(Event{SessionID: sess.id, Status: status, Output: chunk, CommandID: commandID})

			if c.promptVisible(tail) {
				c.markReady(sess)
				tail = ""
			}
		}
		if err != nil {
			c.mu.Lock()
			alreadyOffline := sess.status == StatusOffline
			if !alreadyOffline {
				c.markOfflineLocked(sess)
			}
			c.mu.Unlock()
			return
		}
	}
}

// watchStartup kills a console that never shows its first prompt.
func (c *LocalClient) watchStartup(sess *consoleSession) {
	timer := time.NewTimer(c.startupTimeout)
	defer timer.Stop()
	<-timer.C

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.status == StatusStarting {
		log.Printf("⏱️ [CONSOLE] Session %s startup timed out after %s", sess.id, c.startupTimeout)
		c.markOfflineLocked(sess)
	}
}

func (c *LocalClient) markReady(sess *consoleSession) {
	c.mu.Lock()
	if sess.status != StatusStarting && sess.status != StatusBusy {
		c.mu.Unlock()
		return
	}
	finished := sess.commandID
	sess.status = StatusReady
	sess.commandID = ""
	c.mu.Unlock()

	c.emit(Event{SessionID: sess.id, Status: StatusReady, CommandID: finished})
}

// markOfflineLocked requires c.mu held.
func (c *LocalClient) markOfflineLocked(sess *consoleSession) {
	if sess.status == StatusOffline {
		return
	}
	sess.status = StatusOffline
	interrupted := sess.commandID
	sess.commandID = ""
	if sess.stdin != nil {
		sess.stdin.Close()
	}
	if sess.kill != nil {
		go sess.kill()
	}
	log.Printf("⛔ [CONSOLE] Session %s console offline", sess.id)
	c.emit(Event{SessionID: sess.id, Status: StatusOffline, CommandID: interrupted})
}

// emit never blocks the read loop: if the consumer falls behind the oldest
// event is dropped.
func (c *LocalClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}

// promptVisible reports whether the output tail ends at the console prompt.
func (c *LocalClient) promptVisible(tail string) bool {
	trimmed := strings.TrimRight(tail, " \t")
	prompt := strings.TrimRight(c.prompt, " \t")
	return prompt != "" && strings.HasSuffix(trimmed, prompt)
}

func keepTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
