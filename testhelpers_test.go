package archon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// --- Provider mocks (shared across agent_test.go, executor_test.go) ---

// scriptedResponse is one canned LLM turn: chunks streamed in order, then an
// optional stream error.
type scriptedResponse struct {
	chunks []StreamChunk
	err    error
}

// scriptedProvider replays canned responses in order and records every
// request for assertions. When the script runs out it repeats the last
// response.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatStream(_ context.Context, req ChatRequest, ch chan<- StreamChunk) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var r scriptedResponse
	if len(p.responses) > 0 {
		r = p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
	}
	p.mu.Unlock()
	for _, c := range r.chunks {
		ch <- c
	}
	close(ch)
	return r.err
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// textResponse streams plain text with no tool calls.
func textResponse(text string) scriptedResponse {
	return scriptedResponse{chunks: []StreamChunk{{TextDelta: text}}}
}

// toolCallResponse streams one or more complete tool calls.
func toolCallResponse(calls ...ToolCall) scriptedResponse {
	chunk := StreamChunk{}
	for i, tc := range calls {
		chunk.ToolCallDeltas = append(chunk.ToolCallDeltas, ToolCallDelta{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Name,
			ArgsDelta: string(tc.Args),
		})
	}
	return scriptedResponse{chunks: []StreamChunk{chunk}}
}

// errResponse fails the stream after emitting nothing.
func errResponse(err error) scriptedResponse {
	return scriptedResponse{err: err}
}

// --- Recorder mock ---

// memRecorder is an in-memory Recorder sufficient for engine tests.
type memRecorder struct {
	mu        sync.Mutex
	plans     map[string]*Plan
	agents    map[string]*AgentExecutionRecord // by step id
	thinkActs map[string]*ThinkActRecord       // by record id
	taOrder   []string
	toolInfos map[string]*ActToolInfo // by tool call id
}

func newMemRecorder() *memRecorder {
	return &memRecorder{
		plans:     make(map[string]*Plan),
		agents:    make(map[string]*AgentExecutionRecord),
		thinkActs: make(map[string]*ThinkActRecord),
		toolInfos: make(map[string]*ActToolInfo),
	}
}

func (r *memRecorder) RecordPlanStart(_ context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	cp.Steps = append([]Step(nil), plan.Steps...)
	r.plans[plan.CurrentPlanID] = &cp
	return nil
}

func (r *memRecorder) RecordStepStart(_ context.Context, step Step, planID string) error {
	return r.updateStep(step, planID, true)
}

func (r *memRecorder) RecordStepEnd(_ context.Context, step Step, planID string) error {
	return r.updateStep(step, planID, false)
}

func (r *memRecorder) updateStep(step Step, planID string, start bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	for i := range plan.Steps {
		if plan.Steps[i].StepID == step.StepID {
			plan.Steps[i] = step
			if start {
				plan.CurrentStepIndex = step.StepIndex
			}
			return nil
		}
	}
	return fmt.Errorf("step %s: %w", step.StepID, ErrNotFound)
}

func (r *memRecorder) RecordPlanComplete(_ context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.plans[plan.CurrentPlanID]
	if !ok {
		return fmt.Errorf("plan %s: %w", plan.CurrentPlanID, ErrNotFound)
	}
	stored.Completed = true
	stored.EndTime = plan.EndTime
	stored.Summary = plan.Summary
	stored.Result = plan.Result
	stored.ErrorMessage = plan.ErrorMessage
	return nil
}

func (r *memRecorder) RecordAgentStart(_ context.Context, rec *AgentExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.agents[rec.StepID] = &cp
	return nil
}

func (r *memRecorder) RecordAgentEnd(_ context.Context, rec *AgentExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.agents[rec.StepID]
	if !ok {
		return fmt.Errorf("step %s: %w", rec.StepID, ErrNotFound)
	}
	stored.Status = rec.Status
	stored.Result = rec.Result
	stored.ErrorMessage = rec.ErrorMessage
	stored.EndTime = rec.EndTime
	stored.CurrentStep = rec.CurrentStep
	return nil
}

func (r *memRecorder) RecordThinkingAndAction(_ context.Context, rec *ThinkActRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.ActToolInfos = append([]ActToolInfo(nil), rec.ActToolInfos...)
	r.thinkActs[rec.ID] = &cp
	r.taOrder = append(r.taOrder, rec.ID)
	for i := range cp.ActToolInfos {
		info := cp.ActToolInfos[i]
		r.toolInfos[info.ToolCallID] = &info
	}
	return nil
}

func (r *memRecorder) RecordThinkActEnd(_ context.Context, rec *ThinkActRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.thinkActs[rec.ID]
	if !ok {
		return fmt.Errorf("think-act %s: %w", rec.ID, ErrNotFound)
	}
	stored.ActionResult = rec.ActionResult
	stored.ErrorMessage = rec.ErrorMessage
	stored.ActStartTime = rec.ActStartTime
	stored.ActEndTime = rec.ActEndTime
	return nil
}

func (r *memRecorder) RecordActionResult(_ context.Context, infos []ActToolInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range infos {
		if stored, ok := r.toolInfos[info.ToolCallID]; ok {
			stored.Result = info.Result
		} else {
			cp := info
			r.toolInfos[info.ToolCallID] = &cp
		}
		for _, ta := range r.thinkActs {
			for i := range ta.ActToolInfos {
				if ta.ActToolInfos[i].ToolCallID == info.ToolCallID {
					ta.ActToolInfos[i].Result = info.Result
				}
			}
		}
	}
	return nil
}

func (r *memRecorder) GetPlan(_ context.Context, planID string) (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return Plan{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return *plan, nil
}

func (r *memRecorder) ListPlansByRoot(_ context.Context, rootPlanID string) ([]Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var plans []Plan
	for _, p := range r.plans {
		if p.RootPlanID == rootPlanID {
			plans = append(plans, *p)
		}
	}
	return plans, nil
}

func (r *memRecorder) GetAgentExecutionDetail(_ context.Context, stepID string) (AgentExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[stepID]
	if !ok {
		return AgentExecutionRecord{}, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	detail := *rec
	detail.ThinkActSteps = nil
	for _, id := range r.taOrder {
		ta := r.thinkActs[id]
		if ta.ParentExecutionID == rec.ID {
			detail.ThinkActSteps = append(detail.ThinkActSteps, *ta)
		}
	}
	return detail, nil
}

func (r *memRecorder) ListAgentExecutions(_ context.Context, stepIDs []string) ([]AgentExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recs []AgentExecutionRecord
	for _, id := range stepIDs {
		if rec, ok := r.agents[id]; ok {
			cp := *rec
			cp.ThinkActSteps = nil
			recs = append(recs, cp)
		}
	}
	return recs, nil
}

func (r *memRecorder) FindToolCall(_ context.Context, toolCallID string) (ActToolInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.toolInfos[toolCallID]
	if !ok {
		return ActToolInfo{}, fmt.Errorf("tool call %s: %w", toolCallID, ErrNotFound)
	}
	return *info, nil
}

func (r *memRecorder) DeletePlanTree(_ context.Context, rootPlanID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.plans {
		if p.RootPlanID == rootPlanID {
			delete(r.plans, id)
		}
	}
	return nil
}

func (r *memRecorder) Init(context.Context) error { return nil }
func (r *memRecorder) Close() error               { return nil }

func (r *memRecorder) toolInfo(toolCallID string) (ActToolInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.toolInfos[toolCallID]
	if !ok {
		return ActToolInfo{}, false
	}
	return *info, true
}

func (r *memRecorder) thinkActCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.taOrder)
}

var _ Recorder = (*memRecorder)(nil)

// --- Tool mocks ---

// echoTool returns its "text" argument.
type echoTool struct {
	name string
}

func (t echoTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "Echo the text argument"}
}

func (t echoTool) Run(_ context.Context, _ ToolContext, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &params)
	return ToolResult{Output: params.Text}, nil
}

// slowTool blocks until released, for ordering and isolation tests.
type slowTool struct {
	name    string
	release chan struct{}
	output  string
}

func (t *slowTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "Block until released"}
}

func (t *slowTool) Run(ctx context.Context, _ ToolContext, _ json.RawMessage) (ToolResult, error) {
	select {
	case <-t.release:
		return ToolResult{Output: t.output}, nil
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}
}

// failTool always errors.
type failTool struct{}

func (failTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "always-fail", Description: "Always fails"}
}

func (failTool) Run(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
	return ToolResult{}, fmt.Errorf("tool broken")
}

// panicTool panics when invoked.
type panicTool struct{}

func (panicTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "always-panic", Description: "Always panics"}
}

func (panicTool) Run(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
	panic("boom")
}

// --- wiring helpers ---

// testHarness bundles the engine components most tests need.
type testHarness struct {
	ids        *IDDispatcher
	interrupts *InterruptionManager
	pools      *PoolProvider
	dispatcher *ParallelExecutionService
	recorder   *memRecorder
	waits      *UserInputWaitRegistry
}

func newHarness() *testHarness {
	ids := NewIDDispatcher()
	interrupts := NewInterruptionManager()
	pools := NewPoolProvider(WithPoolSizes(4, 4, 2))
	return &testHarness{
		ids:        ids,
		interrupts: interrupts,
		pools:      pools,
		dispatcher: NewParallelExecutionService(pools, ids, interrupts, nil),
		recorder:   newMemRecorder(),
		waits:      NewUserInputWaitRegistry(),
	}
}

func (h *testHarness) close() { h.pools.Close() }

func jsonArgs(kv map[string]string) json.RawMessage {
	b, _ := json.Marshal(kv)
	return b
}
