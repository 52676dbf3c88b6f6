package tools

import (
	"context"
	"fmt"
	"strings"
)

// ConsoleSender issues a command to a session's interpreter console.
// Implemented by the console client; surfaced here so the tool package does
// not depend on the console package.
type ConsoleSender interface {
	SendCommand(ctx context.Context, sessionID, text string) (string, error)
}

// NewConsoleCommandTool creates the run_console_command tool. It is async:
// execution starts by writing the command to the interpreter, and the
// invocation completes only when the console reports the prompt again.
// The console is a single stateful resource, so all console commands share
// one mutex group and approval is required by default.
func NewConsoleCommandTool(sender ConsoleSender) *Tool {
	return &Tool{
		Name:        "run_console_command",
		DisplayName: "Run Console Command",
		Description: "Run a command in the persistent interpreter console (e.g. msfconsole). The session keeps state between commands: modules stay loaded, options stay set.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The command line to execute in the console session",
				},
			},
			"required": []string{"command"},
		},
		MutexKey:         "console",
		RequiresApproval: true,
		StartAsync: func(ctx context.Context, req Request) (string, error) {
			command, ok := req.Args["command"].(string)
			if !ok || strings.TrimSpace(command) == "" {
				return "", fmt.Errorf("command argument is required")
			}
			return sender.SendCommand(ctx, req.SessionID, strings.TrimSpace(command))
		},
	}
}
