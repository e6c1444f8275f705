package archon

import "context"

// Metrics receives engine-level measurements: plan lifecycle, think-act
// cycles, LLM calls, and tool executions. The observer package provides an
// OTEL-backed implementation; when no Metrics is configured, recording is
// skipped (nil check).
type Metrics interface {
	// PlanStarted counts a plan entering execution.
	PlanStarted(ctx context.Context, subPlan bool)
	// PlanCompleted counts a plan leaving execution with its outcome
	// ("completed", "failed", "interrupted") and wall time.
	PlanCompleted(ctx context.Context, outcome string, seconds float64)
	// ThinkActCycle counts one think→act iteration of an agent.
	ThinkActCycle(ctx context.Context, agent string)
	// LLMCall records one model call's token usage and wall time.
	LLMCall(ctx context.Context, usage Usage, seconds float64)
	// ToolExecution records one dispatched tool invocation with its outcome
	// status and wall time.
	ToolExecution(ctx context.Context, tool, status string, seconds float64)
}
