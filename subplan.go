package archon

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubPlanToolName is the qualified name of the sub-plan tool.
const SubPlanToolName = "planning-execute-sub-plan"

// SubPlanTool spawns a nested plan from a tool call. The sub-plan is linked
// to its parent by the call's tool-call id and runs at depth+1; its final
// result string is the tool output, and a failed sub-plan surfaces as a tool
// error. The sub-plan is a peer of the spawning tool call, not owned by it —
// its records outlive the parent act phase.
type SubPlanTool struct {
	executor *PlanExecutor
	ids      *IDDispatcher
}

// NewSubPlanTool creates the tool bound to an executor.
func NewSubPlanTool(executor *PlanExecutor, ids *IDDispatcher) *SubPlanTool {
	return &SubPlanTool{executor: executor, ids: ids}
}

// Definition implements Tool.
func (t *SubPlanTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        SubPlanToolName,
		Description: "Delegate a self-contained piece of work to a nested plan with its own steps and agents. Returns the nested plan's final result.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"user_request": {"type": "string", "description": "What the nested plan must accomplish"},
				"steps": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Ordered step requirements; omit for a single-step plan"
				}
			},
			"required": ["user_request"]
		}`),
	}
}

// Run implements Tool.
func (t *SubPlanTool) Run(ctx context.Context, tc ToolContext, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Title       string   `json:"title"`
		UserRequest string   `json:"user_request"`
		Steps       []string `json:"steps"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid sub-plan arguments: " + err.Error()}, nil
	}
	if params.UserRequest == "" {
		return ToolResult{Error: "sub-plan requires a user_request"}, nil
	}
	if tc.ToolCallID == "" {
		return ToolResult{Error: "sub-plan requires a tool-call id in its context"}, nil
	}

	title := params.Title
	if title == "" {
		title = "Sub-plan"
	}
	stepReqs := params.Steps
	if len(stepReqs) == 0 {
		stepReqs = []string{params.UserRequest}
	}
	steps := make([]Step, len(stepReqs))
	for i, req := range stepReqs {
		steps[i] = Step{StepIndex: i, StepRequirement: req, Status: StepNotStarted}
	}

	plan := &Plan{
		CurrentPlanID: t.ids.NewPlanID(),
		RootPlanID:    tc.RootPlanID,
		ParentPlanID:  tc.CurrentPlanID,
		ToolCallID:    tc.ToolCallID,
		Title:         title,
		UserRequest:   params.UserRequest,
		Steps:         steps,
	}
	ec := ExecutionContext{
		CurrentPlanID:  plan.CurrentPlanID,
		RootPlanID:     tc.RootPlanID,
		ParentPlanID:   tc.CurrentPlanID,
		ToolCallID:     tc.ToolCallID,
		ConversationID: tc.ConversationID,
		Depth:          tc.PlanDepth + 1,
		UserRequest:    params.UserRequest,
	}

	result, err := t.executor.executeSubPlan(ctx, plan, ec)
	if err != nil {
		return ToolResult{Error: fmt.Sprintf("sub-plan %s failed: %v", plan.CurrentPlanID, err)}, nil
	}
	return ToolResult{Output: result}, nil
}

var _ Tool = (*SubPlanTool)(nil)

// BuiltinToolFactory wraps a factory for domain tools with the engine's
// lifecycle builtins: terminate, error reports, form input, and the
// sub-plan tool. extra may be nil.
func BuiltinToolFactory(executor *PlanExecutor, ids *IDDispatcher, formTool *FormInputTool, extra ToolFactory) ToolFactory {
	return func(ec ExecutionContext) *ToolRegistry {
		registry := NewToolRegistry()
		registry.Add(TerminateTool{})
		registry.Add(ErrorReportTool{})
		registry.Add(SystemErrorReportTool{})
		if formTool != nil {
			registry.Add(formTool)
		}
		registry.Add(NewSubPlanTool(executor, ids))
		if extra != nil {
			domain := extra(ec)
			for _, def := range domain.Definitions() {
				if t, ok := domain.Get(def.Name); ok {
					registry.Add(t)
				}
			}
		}
		return registry
	}
}
