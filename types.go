package archon

import "encoding/json"

// --- Domain types (database records) ---

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepNotStarted  StepStatus = "NOT_STARTED"
	StepInProgress  StepStatus = "IN_PROGRESS"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepInterrupted StepStatus = "INTERRUPTED"
)

// Terminal reports whether the status is final. Terminal steps are never
// mutated again.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepInterrupted
}

// AgentStatus is the lifecycle state of one agent execution on one step.
type AgentStatus string

const (
	AgentRunning     AgentStatus = "RUNNING"
	AgentFinished    AgentStatus = "FINISHED"
	AgentFailed      AgentStatus = "FAILED"
	AgentInterrupted AgentStatus = "INTERRUPTED"
)

// Plan is the user-visible unit of work: an ordered sequence of steps.
// A plan is a sub-plan iff ToolCallID is set; RootPlanID equals
// CurrentPlanID for root plans.
type Plan struct {
	CurrentPlanID    string `json:"current_plan_id"`
	RootPlanID       string `json:"root_plan_id"`
	ParentPlanID     string `json:"parent_plan_id,omitempty"`
	ToolCallID       string `json:"tool_call_id,omitempty"`
	Title            string `json:"title"`
	UserRequest      string `json:"user_request"`
	ModelName        string `json:"model_name,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Result           string `json:"result,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Completed        bool   `json:"completed"`
	StartTime        int64  `json:"start_time"`         // unix millis
	EndTime          int64  `json:"end_time,omitempty"` // unix millis, 0 = running
	CurrentStepIndex int    `json:"current_step_index"`
	UploadKey        string `json:"upload_key,omitempty"`
	Steps            []Step `json:"steps"`
}

// IsSubPlan reports whether this plan was spawned by a tool call.
func (p *Plan) IsSubPlan() bool { return p.ToolCallID != "" }

// Step is one item in a plan's ordered sequence, executed by exactly one
// agent. StepRequirement may begin with an "[AGENT_TAG]" prefix naming the
// executor agent.
type Step struct {
	StepID          string     `json:"step_id"`
	StepIndex       int        `json:"step_index"`
	StepRequirement string     `json:"step_requirement"`
	AgentName       string     `json:"agent_name,omitempty"`
	Status          StepStatus `json:"status"`
	Result          string     `json:"result,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// AgentExecutionRecord is one execution of one agent on one step.
// At most one RUNNING record exists per step at a time.
type AgentExecutionRecord struct {
	ID               string           `json:"id"`
	StepID           string           `json:"step_id"`
	ConversationID   string           `json:"conversation_id,omitempty"`
	AgentName        string           `json:"agent_name"`
	AgentDescription string           `json:"agent_description,omitempty"`
	AgentRequest     string           `json:"agent_request,omitempty"`
	Result           string           `json:"result,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	Status           AgentStatus      `json:"status"`
	StartTime        int64            `json:"start_time"`
	EndTime          int64            `json:"end_time,omitempty"`
	MaxSteps         int              `json:"max_steps"`
	CurrentStep      int              `json:"current_step"`
	ModelName        string           `json:"model_name,omitempty"`
	ThinkActSteps    []ThinkActRecord `json:"think_act_steps,omitempty"`
}

// ThinkActRecord is one think→act iteration inside an agent execution.
type ThinkActRecord struct {
	ID                string        `json:"id"`
	ParentExecutionID string        `json:"parent_execution_id"`
	ThinkActID        string        `json:"think_act_id"`
	ThinkInput        string        `json:"think_input"`
	ThinkOutput       string        `json:"think_output"`
	InputCharCount    int           `json:"input_char_count"`
	OutputCharCount   int           `json:"output_char_count"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	ActionNeeded      bool          `json:"action_needed"`
	ActionResult      string        `json:"action_result,omitempty"`
	ThinkStartTime    int64         `json:"think_start_time"`
	ThinkEndTime      int64         `json:"think_end_time,omitempty"`
	ActStartTime      int64         `json:"act_start_time,omitempty"`
	ActEndTime        int64         `json:"act_end_time,omitempty"`
	ActToolInfos      []ActToolInfo `json:"act_tool_info_list,omitempty"`
}

// ActToolInfo is one tool invocation within an act phase. Result is nil until
// the invocation completes — tool-call writes happen in two phases and
// readers must tolerate a visible nil result.
type ActToolInfo struct {
	ToolCallID string  `json:"tool_call_id"`
	Name       string  `json:"name"`       // qualified "serviceGroup-toolName"
	Parameters string  `json:"parameters"` // JSON string
	Result     *string `json:"result"`
}

// --- Hierarchy views (inspection endpoints) ---

// PlanExecutionView is the client-facing plan tree node: the plan with agent
// summaries (think-act detail stripped) and nested sub-plans. For sub-plans,
// ParentActToolCall is the tool invocation that spawned the plan.
type PlanExecutionView struct {
	Plan              Plan                   `json:"plan"`
	AgentExecutions   []AgentExecutionRecord `json:"agent_executions,omitempty"`
	SubPlans          []*PlanExecutionView   `json:"sub_plans,omitempty"`
	ParentActToolCall *ActToolInfo           `json:"parent_act_tool_call,omitempty"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // engine-private flags (e.g. pinned summary)
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
