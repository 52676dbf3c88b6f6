package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Transient resource errors. The execution engine retries ErrBusy with bounded
// backoff; everything else is terminal for the invocation.
var (
	ErrBusy       = errors.New("backing resource busy")
	ErrNotRunning = errors.New("backing resource not running")
)

// Request carries one tool call into an Execute/StartAsync function.
type Request struct {
	SessionID string
	Args      map[string]interface{}
}

// ExecuteFunc runs a tool to completion and returns its textual result.
type ExecuteFunc func(ctx context.Context, req Request) (string, error)

// StartAsyncFunc begins a tool whose completion arrives later via a separate
// external event (e.g. console output). It returns a correlation id.
type StartAsyncFunc func(ctx context.Context, req Request) (string, error)

// Tool represents a callable tool with its metadata and execution function.
// MutexKey names the stateful resource the tool shares: tools with the same
// key never execute concurrently with each other. An empty key means the tool
// is freely parallel.
type Tool struct {
	Name             string
	DisplayName      string
	Description      string
	Parameters       map[string]interface{}
	MutexKey         string
	RequiresApproval bool
	Execute          ExecuteFunc
	StartAsync       StartAsyncFunc
}

// Async reports whether the tool completes via an external event.
func (t *Tool) Async() bool {
	return t.StartAsync != nil
}

// Registry manages all available tools.
type Registry struct {
	tools map[string]*Tool
	mutex sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a new tool to the registry.
func (r *Registry) Register(tool *Tool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Execute == nil && tool.StartAsync == nil {
		return fmt.Errorf("tool %s must have an Execute or StartAsync function", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s is already registered", tool.Name)
	}

	r.tools[tool.Name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// RequiresApproval reports whether a named tool is gated behind the human
// approval step. Unknown tools require approval: fail safe toward a human.
func (r *Registry) RequiresApproval(name string) bool {
	tool, exists := r.Get(name)
	if !exists {
		return true
	}
	return tool.RequiresApproval
}

// MutexKey returns the mutex group for a named tool, empty for unknown or
// freely parallel tools.
func (r *Registry) MutexKey(name string) string {
	tool, exists := r.Get(name)
	if !exists {
		return ""
	}
	return tool.MutexKey
}

// List returns all registered tools in OpenAI tool format.
func (r *Registry) List() []map[string]interface{} {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tools := make([]map[string]interface{}, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		})
	}
	return tools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.tools)
}

// ApplyPolicy overrides approval requirements from the loaded policy file.
func (r *Registry) ApplyPolicy(p *Policy) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for name, tool := range r.tools {
		if override, ok := p.ApprovalOverride(name); ok {
			tool.RequiresApproval = override
		}
	}
}
