package tools

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Policy is the operator-editable approval policy. It overrides the built-in
// RequiresApproval defaults per tool without a rebuild.
//
//	tools:
//	  run_console_command:
//	    requires_approval: true
//	  port_scan:
//	    requires_approval: false
type Policy struct {
	Tools map[string]PolicyEntry `yaml:"tools"`
	mu    sync.RWMutex
}

// PolicyEntry holds the per-tool overrides.
type PolicyEntry struct {
	RequiresApproval *bool `yaml:"requires_approval"`
}

// ApprovalOverride returns the configured approval requirement for a tool,
// if the policy names it.
func (p *Policy) ApprovalOverride(name string) (bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.Tools[name]
	if !ok || entry.RequiresApproval == nil {
		return false, false
	}
	return *entry.RequiresApproval, true
}

// LoadPolicy reads the YAML policy file. A missing file yields an empty
// policy, not an error: the built-in defaults stand.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Policy{Tools: map[string]PolicyEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tool policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse tool policy: %w", err)
	}
	if p.Tools == nil {
		p.Tools = map[string]PolicyEntry{}
	}
	return &p, nil
}

// WatchPolicy re-applies the policy file to the registry whenever it changes
// on disk. Returns a stop function.
func WatchPolicy(path string, registry *Registry) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		// File may not exist yet; watch is best-effort.
		log.Printf("⚠️ [POLICY] Not watching %s: %v", path, err)
		watcher.Close()
		return func() {}, nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				policy, err := LoadPolicy(path)
				if err != nil {
					log.Printf("⚠️ [POLICY] Reload failed: %v", err)
					continue
				}
				registry.ApplyPolicy(policy)
				log.Printf("🔄 [POLICY] Reloaded tool approval policy from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [POLICY] Watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
