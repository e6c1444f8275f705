package archon

import (
	"context"
	"sort"
)

// HierarchyReader reconstructs the plan tree on demand for inspection
// endpoints. The tree is never held as an object graph — plans reference
// each other by id and the reader joins them through the recorder.
type HierarchyReader struct {
	recorder Recorder
}

// NewHierarchyReader creates a reader over the recorder's store.
func NewHierarchyReader(recorder Recorder) *HierarchyReader {
	return &HierarchyReader{recorder: recorder}
}

// PlanTree loads every plan rooted at the given plan's root, attaches agent
// execution summaries (think-act detail stripped), resolves each sub-plan's
// spawning tool call, and nests children under their parents. Returns the
// node for planID itself.
func (r *HierarchyReader) PlanTree(ctx context.Context, planID string) (*PlanExecutionView, error) {
	plan, err := r.recorder.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	plans, err := r.recorder.ListPlansByRoot(ctx, plan.RootPlanID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*PlanExecutionView, len(plans))
	for i := range plans {
		p := plans[i]
		node := &PlanExecutionView{Plan: p}

		stepIDs := make([]string, len(p.Steps))
		for j, s := range p.Steps {
			stepIDs[j] = s.StepID
		}
		agents, err := r.recorder.ListAgentExecutions(ctx, stepIDs)
		if err != nil {
			return nil, err
		}
		// Summaries only; the full think-act detail has its own endpoint.
		for j := range agents {
			agents[j].ThinkActSteps = nil
		}
		node.AgentExecutions = agents

		if p.IsSubPlan() {
			if info, err := r.recorder.FindToolCall(ctx, p.ToolCallID); err == nil {
				node.ParentActToolCall = &info
			}
		}
		nodes[p.CurrentPlanID] = node
	}

	for _, node := range nodes {
		if node.Plan.ParentPlanID == "" {
			continue
		}
		if parent, ok := nodes[node.Plan.ParentPlanID]; ok {
			parent.SubPlans = append(parent.SubPlans, node)
		}
	}
	for _, node := range nodes {
		sort.Slice(node.SubPlans, func(i, j int) bool {
			return node.SubPlans[i].Plan.StartTime < node.SubPlans[j].Plan.StartTime
		})
	}

	node, ok := nodes[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return node, nil
}

// AgentDetail returns the step's full agent execution record, think-act
// records and tool calls included.
func (r *HierarchyReader) AgentDetail(ctx context.Context, stepID string) (AgentExecutionRecord, error) {
	return r.recorder.GetAgentExecutionDetail(ctx, stepID)
}
