package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"redline/internal/tools"
)

// fakeConsole scripts an interpreter: it prints a banner, shows the prompt,
// and echoes a canned response plus prompt for every line of input.
func fakeConsole(t *testing.T, client *LocalClient, responses map[string]string) {
	t.Helper()
	client.spawn = func(command []string) (io.WriteCloser, io.Reader, func(), error) {
		stdinR, stdinW := io.Pipe()
		outR, outW := io.Pipe()
		go func() {
			io.WriteString(outW, "Metasploit tip: use help\n")
			io.WriteString(outW, "msf6 > ")
			scanner := bufio.NewScanner(stdinR)
			for scanner.Scan() {
				line := scanner.Text()
				if resp, ok := responses[line]; ok {
					io.WriteString(outW, resp+"\n")
				}
				io.WriteString(outW, "msf6 > ")
			}
			outW.Close()
		}()
		kill := func() {
			stdinR.Close()
			outW.Close()
		}
		return stdinW, outR, kill, nil
	}
}

func newTestClient(t *testing.T) *LocalClient {
	t.Helper()
	return NewLocalClient([]string{"msfconsole", "-q"}, "msf6 > ", 2*time.Second)
}

// nextStatus drains events until one matches the wanted status.
func nextStatus(t *testing.T, client *LocalClient, want Status) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-client.Events():
			if ev.Status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event before deadline", want)
		}
	}
}

func TestStartupReachesReady(t *testing.T) {
	client := newTestClient(t)
	fakeConsole(t, client, nil)

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusStarting)
	ready := nextStatus(t, client, StatusReady)
	if ready.CommandID != "" {
		t.Errorf("startup ready must not carry a command id, got %q", ready.CommandID)
	}
	if got := client.Status("sess-1"); got != StatusReady {
		t.Errorf("Status = %s, want %s", got, StatusReady)
	}
	if got := client.Status("no-such-session"); got != StatusOffline {
		t.Errorf("Status for unknown session = %s, want %s", got, StatusOffline)
	}
}

func TestCommandLifecycle(t *testing.T) {
	client := newTestClient(t)
	fakeConsole(t, client, map[string]string{
		"version": "Framework: 6.4.0",
	})

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusReady)

	id, err := client.SendCommand(context.Background(), "sess-1", "version")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a command id")
	}

	busy := nextStatus(t, client, StatusBusy)
	if busy.CommandID != id {
		t.Errorf("busy event should carry command id %s, got %s", id, busy.CommandID)
	}

	var output strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-client.Events():
		case <-deadline:
			t.Fatalf("command never completed; output so far: %q", output.String())
		}
		output.WriteString(ev.Output)
		if ev.Status == StatusReady {
			if ev.CommandID != id {
				t.Errorf("ready event should close command %s, got %q", id, ev.CommandID)
			}
			break
		}
	}
	if !strings.Contains(output.String(), "Framework: 6.4.0") {
		t.Errorf("command output missing, got %q", output.String())
	}
}

func TestSendCommandWhileBusy(t *testing.T) {
	client := newTestClient(t)
	// No response for "hang": the fake still prints the prompt after it, so
	// block readiness by never matching; instead use a slow scripted console.
	client.spawn = func(command []string) (io.WriteCloser, io.Reader, func(), error) {
		stdinR, stdinW := io.Pipe()
		outR, outW := io.Pipe()
		go func() {
			io.WriteString(outW, "msf6 > ")
			scanner := bufio.NewScanner(stdinR)
			scanner.Scan()
			// First command never finishes.
			io.WriteString(outW, "[*] exploit running...\n")
			select {}
		}()
		return stdinW, outR, func() { stdinR.Close(); outW.Close() }, nil
	}

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusReady)

	if _, err := client.SendCommand(context.Background(), "sess-1", "exploit"); err != nil {
		t.Fatal(err)
	}
	_, err := client.SendCommand(context.Background(), "sess-1", "version")
	if !errors.Is(err, tools.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSendCommandWhileStarting(t *testing.T) {
	client := newTestClient(t)
	client.spawn = func(command []string) (io.WriteCloser, io.Reader, func(), error) {
		stdinR, stdinW := io.Pipe()
		outR, outW := io.Pipe()
		go func() {
			io.WriteString(outW, "loading modules...\n")
			// Prompt never shown.
		}()
		return stdinW, outR, func() { stdinR.Close(); outW.Close() }, nil
	}

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusStarting)

	_, err := client.SendCommand(context.Background(), "sess-1", "version")
	if !errors.Is(err, tools.ErrBusy) {
		t.Fatalf("expected ErrBusy during startup, got %v", err)
	}
}

func TestOfflineOnProcessExit(t *testing.T) {
	client := newTestClient(t)
	client.spawn = func(command []string) (io.WriteCloser, io.Reader, func(), error) {
		stdinR, stdinW := io.Pipe()
		outR, outW := io.Pipe()
		go func() {
			io.WriteString(outW, "msf6 > ")
			scanner := bufio.NewScanner(stdinR)
			scanner.Scan()
			io.WriteString(outW, "Segmentation fault\n")
			outW.Close()
		}()
		return stdinW, outR, func() { stdinR.Close() }, nil
	}

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusReady)

	id, err := client.SendCommand(context.Background(), "sess-1", "exploit")
	if err != nil {
		t.Fatal(err)
	}

	offline := nextStatus(t, client, StatusOffline)
	if offline.CommandID != id {
		t.Errorf("offline event should name the interrupted command %s, got %q", id, offline.CommandID)
	}

	_, err = client.SendCommand(context.Background(), "sess-1", "version")
	if !errors.Is(err, tools.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after exit, got %v", err)
	}
}

func TestStartupTimeout(t *testing.T) {
	client := NewLocalClient([]string{"msfconsole", "-q"}, "msf6 > ", 50*time.Millisecond)
	client.spawn = func(command []string) (io.WriteCloser, io.Reader, func(), error) {
		stdinR, stdinW := io.Pipe()
		outR, _ := io.Pipe()
		return stdinW, outR, func() { stdinR.Close() }, nil
	}

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, client, StatusOffline)
}

func TestDoubleStartRejected(t *testing.T) {
	client := newTestClient(t)
	fakeConsole(t, client, nil)

	if err := client.Start("sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := client.Start("sess-1"); err == nil {
		t.Error("second start for the same session should fail")
	}
}
