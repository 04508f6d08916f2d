// Package registry implements the Tool Registry component (spec.md §4.F):
// the single dispatch surface the Iteration Scheduler sees, unifying
// built-in tools, MCP tools, and an on-demand resolver callback.
//
// Grounded on internal/agent/tool_registry.go's Register/Get/Execute shape
// and internal/agent/tool_exec.go's dispatch path, generalized onto the
// spec's ToolDefinition (name, description, parameters, danger, execute)
// and composed with internal/mcp.Manager for MCP-catalog tools (spec.md
// §4.F: "Executing an MCP-summary-only tool must implicitly promote it
// before dispatch").
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Danger classifies how risky a tool's execution is, feeding
// internal/approval's risk assessment (spec.md §3 ToolDefinition.danger).
type Danger string

const (
	DangerSafe      Danger = "safe"
	DangerModerate  Danger = "moderate"
	DangerDangerous Danger = "dangerous"
)

// Executor runs a tool call's decoded arguments and returns a result value.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// ToolDefinition is the spec.md §3 ToolDefinition: the unit the Registry
// dispatches against, whether built-in or MCP-synthesized.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Danger      Danger
	Execute     Executor
}

// ToolDescription is the Registry-facing summary exposed to the LLM
// adapter's `tools` schema list (spec.md §4.F getDescriptions()).
type ToolDescription struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Danger      Danger
}

// Result is the outcome of Execute (spec.md §4.F: "execute(name, args) ->
// async {success, output}").
type Result struct {
	Success bool
	Output  any
	Err     error
}

// Resolver is an on-demand lookup callback consulted after built-ins and
// before MCP promotion (spec.md §4.F priority: "explicitly registered
// built-in tools > resolver callback result > MCP full-definition
// promotion").
type Resolver func(name string) (*ToolDefinition, bool)

// MCPSource is the narrow view of internal/mcp.Manager the Registry needs,
// kept as an interface to avoid an import-cycle dependency in either
// direction and to make the Registry testable without a live MCP manager.
type MCPSource interface {
	// FindTool returns the owning server and catalog entry for a
	// (possibly summary-only) MCP tool name.
	FindTool(name string) (serverID string, found bool)
	// CallTool dispatches a promoted MCP tool call and returns its
	// stringified content.
	CallTool(ctx context.Context, serverID, name string, args map[string]any) (string, error)
	// Describe returns the full description for an MCP tool by name, used
	// to synthesize a ToolDefinition on promotion.
	Describe(name string) (description string, parameters json.RawMessage, found bool)
}

// Registry composes built-in tools, an on-demand resolver, and an MCP
// source behind one call interface (spec.md §4.F).
//
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	builtins  map[string]*ToolDefinition
	resolver  Resolver
	mcp       MCPSource
	promoted  map[string]*ToolDefinition // MCP tools promoted to full definitions
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		builtins: make(map[string]*ToolDefinition),
		promoted: make(map[string]*ToolDefinition),
	}
}

// RegisterBuiltin adds a built-in ToolDefinition, the Registry's
// highest-priority dispatch tier.
func (r *Registry) RegisterBuiltin(def *ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[def.Name] = def
}

// SetResolver installs the on-demand resolver callback.
func (r *Registry) SetResolver(fn Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = fn
}

// SetMCPSource installs the MCP tool source used for promotion and dispatch.
func (r *Registry) SetMCPSource(src MCPSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mcp = src
}

// GetDescriptions returns every currently known tool's LLM-facing
// description: built-ins plus any already-promoted MCP tools. Summary-only
// MCP tools are surfaced separately by the lazy-loading layer
// (internal/mcp.Manager.ToolSchemas), not duplicated here.
func (r *Registry) GetDescriptions() []ToolDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescription, 0, len(r.builtins)+len(r.promoted))
	for _, def := range r.builtins {
		out = append(out, ToolDescription{Name: def.Name, Description: def.Description, Parameters: def.Parameters, Danger: def.Danger})
	}
	for _, def := range r.promoted {
		out = append(out, ToolDescription{Name: def.Name, Description: def.Description, Parameters: def.Parameters, Danger: def.Danger})
	}
	return out
}

// Resolve looks up a tool's full ToolDefinition across every tier, in
// priority order: built-in > resolver > MCP promotion. It never dispatches;
// callers use Execute for that.
func (r *Registry) Resolve(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	if def, ok := r.builtins[name]; ok {
		r.mu.RUnlock()
		return def, true
	}
	resolver := r.resolver
	mcp := r.mcp
	r.mu.RUnlock()

	if resolver != nil {
		if def, ok := resolver(name); ok {
			return def, true
		}
	}

	// Once a name has been promoted from MCP, it stays pinned here rather
	// than re-promoting (and allocating a fresh closure) on every call.
	r.mu.RLock()
	if def, ok := r.promoted[name]; ok {
		r.mu.RUnlock()
		return def, true
	}
	r.mu.RUnlock()

	if mcp != nil {
		if def, ok := r.promoteMCPTool(name, mcp); ok {
			return def, true
		}
	}

	return nil, false
}

// promoteMCPTool synthesizes and caches a full ToolDefinition for an
// MCP-summary-only tool, implementing the implicit-promotion-before-
// dispatch requirement of spec.md §4.F.
func (r *Registry) promoteMCPTool(name string, mcp MCPSource) (*ToolDefinition, bool) {
	serverID, ok := mcp.FindTool(name)
	if !ok {
		return nil, false
	}
	description, params, _ := mcp.Describe(name)

	def := &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Danger:      DangerModerate, // MCP tools default to moderate absent a provider-declared danger level
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return mcp.CallTool(ctx, serverID, name, args)
		},
	}

	r.mu.Lock()
	r.promoted[name] = def
	r.mu.Unlock()

	return def, true
}

// Execute dispatches a call by name (spec.md §4.F: "execute(name, args) ->
// async {success, output}"). An unresolvable name returns a failed Result
// rather than an error, so the scheduler can surface it to the LLM as a
// tool-role message.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	def, ok := r.Resolve(name)
	if !ok {
		return Result{Success: false, Err: fmt.Errorf("registry: unknown tool %q", name)}
	}
	if def.Execute == nil {
		return Result{Success: false, Err: fmt.Errorf("registry: tool %q has no executor", name)}
	}
	if err := validateArgs(name, def.Parameters, args); err != nil {
		return Result{Success: false, Err: err}
	}

	out, err := def.Execute(ctx, args)
	if err != nil {
		return Result{Success: false, Output: out, Err: err}
	}
	return Result{Success: true, Output: out}
}
