package mcpmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolInvoker runs one call of a registered tool.
type ToolInvoker func(ctx context.Context, args any) (*mcp.CallToolResult, error)

// ToolRegistration is one aggregated tool handed to a ToolRegistry.
type ToolRegistration struct {
	// Name is the effective, possibly prefixed, tool name.
	Name string
	// RawName is the name the owning server uses.
	RawName string
	// ServerKey is empty for tools not backed by a connected server.
	ServerKey   string
	Description string
	InputSchema any
	Invoke      ToolInvoker
	// MaxCalls is the call budget hint from the tool metadata, if any.
	MaxCalls *int
	// Owner identifies the publisher. Only the current owner of a name can
	// unregister it.
	Owner string
}

// ToolRegistry receives aggregated tools. Registering an existing name
// replaces the previous registration, whoever published it. UnregisterTools
// removes only the names whose current registration belongs to owner.
type ToolRegistry interface {
	RegisterTool(ToolRegistration)
	UnregisterTools(owner string, names ...string)
}

// SharedRegistry is implemented by registries that host helpers shared by
// several managers.
type SharedRegistry interface {
	ToolRegistry
	Shared() *SharedRegistrations
}

// LocalResources contributes resources that do not come from a connected
// server. They are addressed with the RegistryKey prefix.
type LocalResources interface {
	// ListResources returns resources relevant to search. Results are used
	// as-is; the manager does not filter them.
	ListResources(ctx context.Context, search string) ([]*mcp.Resource, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
}

// MemoryRegistry is an in-process ToolRegistry that enforces MaxCalls.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tools  map[string]ToolRegistration
	calls  map[string]int
	shared *SharedRegistrations
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	r := &MemoryRegistry{
		tools: make(map[string]ToolRegistration),
		calls: make(map[string]int),
	}
	r.shared = NewSharedRegistrations(r)
	return r
}

func (r *MemoryRegistry) RegisterTool(reg ToolRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[reg.Name] = reg
	// A fresh registration starts a fresh budget.
	delete(r.calls, reg.Name)
}

func (r *MemoryRegistry) UnregisterTools(owner string, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if reg, ok := r.tools[name]; !ok || reg.Owner != owner {
			continue
		}
		delete(r.tools, name)
		delete(r.calls, name)
	}
}

// Shared returns the registry's shared helper registrations.
func (r *MemoryRegistry) Shared() *SharedRegistrations { return r.shared }

// Tool returns the registration for name.
func (r *MemoryRegistry) Tool(name string) (ToolRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Tools returns every registration sorted by name.
func (r *MemoryRegistry) Tools() []ToolRegistration {
	r.mu.RLock()
	out := make([]ToolRegistration, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered tool names sorted.
func (r *MemoryRegistry) Names() []string {
	tools := r.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Call invokes the named tool, failing with ErrCallBudgetExceeded once its
// MaxCalls budget is spent.
func (r *MemoryRegistry) Call(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	r.mu.Lock()
	reg, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return nil, unavailable("tool", name)
	}
	if reg.MaxCalls != nil && r.calls[name] >= *reg.MaxCalls {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q allows %d calls", ErrCallBudgetExceeded, name, *reg.MaxCalls)
	}
	r.calls[name]++
	r.mu.Unlock()
	return reg.Invoke(ctx, args)
}
