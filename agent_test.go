package archon

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestAgent(t *testing.T, h *testHarness, llm Provider, opts ...AgentOption) *DynamicAgent {
	t.Helper()
	memory := NewMemoryLimitService(&scriptedProvider{})
	agent := NewDynamicAgent("TEST_AGENT", llm, h.recorder, h.ids, h.interrupts, memory, h.dispatcher, opts...)
	agent.backoff = func(int) time.Duration { return time.Millisecond }
	return agent
}

func testStep() *Step {
	return &Step{StepID: "step-1", StepIndex: 0, StepRequirement: "echo then finish", Status: StepInProgress}
}

func testEC() ExecutionContext {
	return ExecutionContext{CurrentPlanID: "plan-1", RootPlanID: "plan-1", Depth: 0}
}

func toolRegistry(tools ...Tool) *ToolRegistry {
	r := NewToolRegistry()
	r.Add(TerminateTool{})
	r.Add(ErrorReportTool{})
	r.Add(SystemErrorReportTool{})
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

func TestAgentToolCallThenTerminate(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "hi"})}),
		toolCallResponse(ToolCall{ID: "c2", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "all done"})}),
	}}
	agent := newTestAgent(t, h, llm)
	step := testStep()

	result, err := agent.Execute(context.Background(), testEC(), step, toolRegistry(echoTool{name: "echo-tool"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFinished {
		t.Fatalf("status = %s, want FINISHED", result.Status)
	}
	if result.Result != "all done" {
		t.Errorf("result = %q", result.Result)
	}
	if h.recorder.thinkActCount() != 2 {
		t.Errorf("think-act count = %d, want 2", h.recorder.thinkActCount())
	}

	// Two-phase write: every recorded tool call ended with a result.
	detail, err := h.recorder.GetAgentExecutionDetail(context.Background(), "step-1")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Status != AgentFinished {
		t.Errorf("recorded agent status = %s", detail.Status)
	}
	for _, ta := range detail.ThinkActSteps {
		if !ta.ActionNeeded {
			t.Error("tool-calling rounds must be action_needed")
		}
		for _, info := range ta.ActToolInfos {
			if info.Result == nil {
				t.Errorf("tool call %s result not filled", info.ToolCallID)
			}
		}
	}
}

func TestAgentEarlyTerminationThreshold(t *testing.T) {
	h := newHarness()
	defer h.close()

	// The script's last entry repeats: every think is text-only.
	llm := &scriptedProvider{responses: []scriptedResponse{textResponse("thinking out loud")}}
	agent := newTestAgent(t, h, llm)
	step := testStep()

	result, err := agent.Execute(context.Background(), testEC(), step, toolRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "Early termination threshold reached") {
		t.Errorf("error = %q", result.ErrorMessage)
	}
	if llm.requestCount() != 3 {
		t.Errorf("LLM calls = %d, want exactly 3", llm.requestCount())
	}

	// Retried thinks carry the reinforcement directive; the first does not.
	first := llm.request(0).Messages
	if strings.Contains(first[len(first)-1].Content, "must call at least one tool") {
		t.Error("first think must not be reinforced")
	}
	for i := 1; i < 3; i++ {
		msgs := llm.request(i).Messages
		if !strings.Contains(msgs[len(msgs)-1].Content, "must call at least one tool") {
			t.Errorf("think %d missing reinforcement directive", i)
		}
	}
}

func TestAgentRetryExhaustionSynthesizesSystemErrorReport(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		errResponse(&ErrLLM{Provider: "p", Message: "dns resolution timeout", Retryable: true}),
	}}
	agent := newTestAgent(t, h, llm)
	step := testStep()

	result, err := agent.Execute(context.Background(), testEC(), step, toolRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if llm.requestCount() != 3 {
		t.Errorf("LLM calls = %d, want exactly 3", llm.requestCount())
	}
	if !strings.Contains(result.ErrorMessage, "dns resolution timeout") {
		t.Errorf("latest exception not carried: %q", result.ErrorMessage)
	}
	if !strings.Contains(step.ErrorMessage, "retries exhausted") {
		t.Errorf("step error = %q", step.ErrorMessage)
	}

	// The failure is visible as a synthesized tool call with a result.
	detail, err := h.recorder.GetAgentExecutionDetail(context.Background(), "step-1")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, ta := range detail.ThinkActSteps {
		for _, info := range ta.ActToolInfos {
			if info.Name == SystemErrorReportToolName {
				found = true
				if info.Result == nil {
					t.Error("synthesized report has no result")
				}
			}
		}
	}
	if !found {
		t.Error("no SystemErrorReport tool call recorded")
	}
}

func TestAgentNonRetryableErrorFailsImmediately(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		errResponse(&ErrLLM{Provider: "p", Message: "invalid request"}),
	}}
	agent := newTestAgent(t, h, llm)

	result, err := agent.Execute(context.Background(), testEC(), testStep(), toolRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if llm.requestCount() != 1 {
		t.Errorf("LLM calls = %d, want 1", llm.requestCount())
	}
}

func TestAgentRepeatedResultForcesOneCompression(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "same"})}),
		toolCallResponse(ToolCall{ID: "c2", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "same"})}),
		toolCallResponse(ToolCall{ID: "c3", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "same"})}),
		toolCallResponse(ToolCall{ID: "c4", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "done"})}),
	}}
	compressLLM := &scriptedProvider{responses: []scriptedResponse{textResponse("compressed")}}
	memory := NewMemoryLimitService(compressLLM)
	agent := NewDynamicAgent("TEST_AGENT", llm, h.recorder, h.ids, h.interrupts, memory, h.dispatcher)

	result, err := agent.Execute(context.Background(), testEC(), testStep(), toolRegistry(echoTool{name: "echo-tool"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFinished {
		t.Fatalf("status = %s", result.Status)
	}
	if compressLLM.requestCount() != 1 {
		t.Errorf("forced compressions = %d, want exactly 1", compressLLM.requestCount())
	}
}

func TestAgentErrorReportToolFailsStep(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: ErrorReportToolName, Args: jsonArgs(map[string]string{"error_message": "requirement impossible"})}),
	}}
	agent := newTestAgent(t, h, llm)
	step := testStep()

	result, err := agent.Execute(context.Background(), testEC(), step, toolRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if step.ErrorMessage != "requirement impossible" {
		t.Errorf("step error = %q", step.ErrorMessage)
	}
	// The report is still recorded through the normal think/act path.
	if h.recorder.thinkActCount() != 1 {
		t.Errorf("think-act count = %d", h.recorder.thinkActCount())
	}
}

func TestAgentInterruptedBeforeThink(t *testing.T) {
	h := newHarness()
	defer h.close()
	h.interrupts.Register("plan-1")
	h.interrupts.Request("plan-1")

	llm := &scriptedProvider{}
	agent := newTestAgent(t, h, llm)

	result, err := agent.Execute(context.Background(), testEC(), testStep(), toolRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentInterrupted {
		t.Fatalf("status = %s, want INTERRUPTED", result.Status)
	}
	if llm.requestCount() != 0 {
		t.Error("no LLM call after interruption")
	}
}

func TestAgentMaxStepsStops(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "again"})}),
	}}
	agent := newTestAgent(t, h, llm, WithMaxSteps(2))

	result, err := agent.Execute(context.Background(), testEC(), testStep(), toolRegistry(echoTool{name: "echo-tool"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != AgentFinished {
		t.Fatalf("status = %s", result.Status)
	}
	if llm.requestCount() != 2 {
		t.Errorf("LLM calls = %d, want 2", llm.requestCount())
	}
}

func TestAgentEnvironmentStateInPrompt(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "ok"})}),
	}}
	agent := newTestAgent(t, h, llm)

	registry := toolRegistry(statefulEcho{key: "env-a", state: "ready"}, statefulEcho{key: "env-a", state: "duplicate"})
	if _, err := agent.Execute(context.Background(), testEC(), testStep(), registry); err != nil {
		t.Fatal(err)
	}
	msgs := llm.request(0).Messages
	last := msgs[len(msgs)-1].Content
	if !strings.Contains(last, "env-a: ready") {
		t.Errorf("environment state missing from prompt: %q", last)
	}
	if strings.Contains(last, "duplicate") {
		t.Error("duplicate state keys must be dropped")
	}
}

// statefulEcho contributes an environment snapshot under a fixed key.
type statefulEcho struct {
	key   string
	state string
}

func (s statefulEcho) Definition() ToolDefinition {
	return ToolDefinition{Name: "stateful-" + s.key + "-" + s.state}
}

func (s statefulEcho) Run(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
	return ToolResult{Output: "ok"}, nil
}

func (s statefulEcho) CurrentState() ToolState {
	return ToolState{Key: s.key, StateString: s.state}
}
