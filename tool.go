package archon

import (
	"context"
	"encoding/json"
	"strings"
)

// Tool is the capability contract every tool implements. Names are qualified
// "serviceGroup-toolName" strings — the name by which the LLM references the
// tool. Optional capabilities (state snapshots, termination, cleanup) are
// separate interfaces checked at dispatch time.
type Tool interface {
	// Definition returns the qualified name, description, and JSON schema.
	Definition() ToolDefinition
	// Run executes the tool. tc carries per-call identity (tool-call id,
	// plan ids, depth).
	Run(ctx context.Context, tc ToolContext, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// ToolState is an environment snapshot contributed to the agent's prompt.
// States are deduplicated by Key across tools.
type ToolState struct {
	Key         string
	StateString string
}

// StatefulTool is a tool that exposes an environment snapshot.
type StatefulTool interface {
	Tool
	CurrentState() ToolState
}

// TerminableTool is a tool whose successful invocation may finish the step.
type TerminableTool interface {
	Tool
	CanTerminate() bool
}

// CleanupTool is a tool holding per-plan resources released at plan end.
type CleanupTool interface {
	Tool
	Cleanup(ctx context.Context, planID string) error
}

// ErrorReportingTool marks tools whose result carries a step error message
// (error reports are recorded through the normal think/act path but also
// attach to the step).
type ErrorReportingTool interface {
	Tool
	ErrorMessage(args json.RawMessage) string
}

// ToolRegistry maps qualified names to tools. A registry is built per plan
// invocation and is not shared mutably across plans.
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Add registers a tool under its qualified name. Later registrations of the
// same name replace earlier ones.
func (r *ToolRegistry) Add(t Tool) {
	name := t.Definition().Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// EnvironmentStates collects tool state snapshots, deduplicated by key in
// registration order.
func (r *ToolRegistry) EnvironmentStates() []ToolState {
	seen := make(map[string]bool)
	var states []ToolState
	for _, name := range r.order {
		st, ok := r.tools[name].(StatefulTool)
		if !ok {
			continue
		}
		s := st.CurrentState()
		if s.Key == "" || seen[s.Key] {
			continue
		}
		seen[s.Key] = true
		states = append(states, s)
	}
	return states
}

// EnvironmentString renders the deduplicated states into one prompt block.
// Empty when no tool contributes state.
func (r *ToolRegistry) EnvironmentString() string {
	states := r.EnvironmentStates()
	if len(states) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current environment state:\n")
	for _, s := range states {
		b.WriteString(s.Key)
		b.WriteString(": ")
		b.WriteString(s.StateString)
		b.WriteString("\n")
	}
	return b.String()
}

// Cleanup invokes Cleanup on every tool that holds per-plan resources.
// Errors are collected but do not stop the remaining cleanups.
func (r *ToolRegistry) Cleanup(ctx context.Context, planID string) []error {
	var errs []error
	for _, name := range r.order {
		if ct, ok := r.tools[name].(CleanupTool); ok {
			if err := ct.Cleanup(ctx, planID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
