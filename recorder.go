package archon

import "context"

// Recorder is the single gateway to durable execution state. All operations
// are idempotent on their keyed id and transactional per call. Components
// other than the recorder never mutate persisted state.
//
// Tool-call writes happen in two phases: RecordThinkingAndAction inserts
// ActToolInfo rows with nil results before tool execution, and
// RecordActionResult fills results in afterwards. Readers tolerate a visible
// nil result between the phases.
type Recorder interface {
	// RecordPlanStart inserts the plan row and its step rows. Step ids must
	// be present (the executor backfills them before calling). Re-recording
	// the same CurrentPlanID upserts.
	RecordPlanStart(ctx context.Context, plan *Plan) error
	// RecordStepStart marks the step IN_PROGRESS and advances the plan's
	// current step index.
	RecordStepStart(ctx context.Context, step Step, planID string) error
	// RecordStepEnd writes the step's terminal status, result, and error.
	RecordStepEnd(ctx context.Context, step Step, planID string) error
	// RecordPlanComplete sets completed, end time, summary, and result.
	RecordPlanComplete(ctx context.Context, plan *Plan) error

	// RecordAgentStart inserts the agent execution record (status RUNNING).
	// At most one RUNNING record may exist per step; a second start for the
	// same step upserts onto the existing record.
	RecordAgentStart(ctx context.Context, rec *AgentExecutionRecord) error
	// RecordAgentEnd writes the agent's terminal status, result, error, and
	// end time.
	RecordAgentEnd(ctx context.Context, rec *AgentExecutionRecord) error

	// RecordThinkingAndAction inserts a think-act record plus its tool-call
	// rows, results still nil (phase one).
	RecordThinkingAndAction(ctx context.Context, rec *ThinkActRecord) error
	// RecordThinkActEnd updates the think-act record's action result, error,
	// and act end time.
	RecordThinkActEnd(ctx context.Context, rec *ThinkActRecord) error
	// RecordActionResult updates each tool-call row by tool-call id, or
	// inserts it when absent (phase two; tolerates out-of-order writes).
	RecordActionResult(ctx context.Context, infos []ActToolInfo) error

	// GetPlan loads one plan with its steps.
	GetPlan(ctx context.Context, planID string) (Plan, error)
	// ListPlansByRoot loads every plan in the tree rooted at rootPlanID,
	// steps included.
	ListPlansByRoot(ctx context.Context, rootPlanID string) ([]Plan, error)
	// GetAgentExecutionDetail loads the step's agent record with think-act
	// steps and tool calls eagerly attached (no per-row follow-up queries).
	GetAgentExecutionDetail(ctx context.Context, stepID string) (AgentExecutionRecord, error)
	// ListAgentExecutions loads agent records for the given steps without
	// think-act detail.
	ListAgentExecutions(ctx context.Context, stepIDs []string) ([]AgentExecutionRecord, error)
	// FindToolCall looks a tool-call row up by id.
	FindToolCall(ctx context.Context, toolCallID string) (ActToolInfo, error)
	// DeletePlanTree removes every plan in the tree and all owned records.
	DeletePlanTree(ctx context.Context, rootPlanID string) error

	// Init creates tables and indexes.
	Init(ctx context.Context) error
	Close() error
}
