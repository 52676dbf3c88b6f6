package tools

import "log"

// RegisterBuiltins wires the built-in tool set into a registry. The console
// sender and memory store come from the caller so this package stays free of
// console and database imports.
func RegisterBuiltins(r *Registry, sender ConsoleSender, store MemoryStore) error {
	builtins := []*Tool{
		NewConsoleCommandTool(sender),
		NewPortScanTool(),
		NewDNSLookupTool(),
		NewHTTPProbeTool(),
		NewMemoryTool(store),
	}
	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	log.Printf("🔧 [TOOLS] Registered %d built-in tools", len(builtins))
	return nil
}
