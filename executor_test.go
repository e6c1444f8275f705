package archon

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// newExecutorHarness wires a full engine around the in-memory recorder with
// one default agent driven by llm.
func newExecutorHarness(h *testHarness, llm Provider, domain ...Tool) *PlanExecutor {
	formTool := NewFormInputTool(h.waits, h.interrupts, time.Second)
	var factory ToolFactory
	executor := NewPlanExecutor(h.recorder, h.ids, h.interrupts, h.pools, h.waits,
		func(ec ExecutionContext) *ToolRegistry { return factory(ec) })
	factory = BuiltinToolFactory(executor, h.ids, formTool, func(ExecutionContext) *ToolRegistry {
		r := NewToolRegistry()
		for _, t := range domain {
			r.Add(t)
		}
		return r
	})

	memory := NewMemoryLimitService(&scriptedProvider{})
	agent := NewDynamicAgent("DEFAULT_AGENT", llm, h.recorder, h.ids, h.interrupts, memory, h.dispatcher)
	executor.RegisterAgent(agent)
	return executor
}

func subPlanCall(id, request string) ToolCall {
	args, _ := json.Marshal(map[string]string{"title": "nested", "user_request": request})
	return ToolCall{ID: id, Name: SubPlanToolName, Args: args}
}

func TestPlanSingleStepSingleTool(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "File written successfully (created): a.txt"})}),
		toolCallResponse(ToolCall{ID: "c2", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "File written successfully (created): a.txt"})}),
	}}
	executor := newExecutorHarness(h, llm, echoTool{name: "echo-tool"})

	plan := &Plan{
		Title:       "single step",
		UserRequest: "write a file",
		Steps:       []Step{{StepRequirement: "write hi to a.txt"}},
	}
	result, err := executor.Execute(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if result != "File written successfully (created): a.txt" {
		t.Errorf("plan result = %q", result)
	}

	stored, err := h.recorder.GetPlan(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Completed || stored.Result != result {
		t.Errorf("stored plan = %+v", stored)
	}
	if stored.Steps[0].Status != StepCompleted {
		t.Errorf("step status = %s", stored.Steps[0].Status)
	}

	// The reader returns a single-plan tree.
	tree, err := NewHierarchyReader(h.recorder).PlanTree(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.SubPlans) != 0 {
		t.Errorf("unexpected sub-plans: %d", len(tree.SubPlans))
	}
	if len(tree.AgentExecutions) != 1 || tree.AgentExecutions[0].ThinkActSteps != nil {
		t.Errorf("agent summary must strip think-act detail: %+v", tree.AgentExecutions)
	}
}

func TestPlanParallelToolsDistinctIDs(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(
			ToolCall{ID: "c1", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "out-1"})},
			ToolCall{ID: "c2", Name: "echo-tool", Args: jsonArgs(map[string]string{"text": "out-2"})},
		),
		toolCallResponse(ToolCall{ID: "c3", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "both done"})}),
	}}
	executor := newExecutorHarness(h, llm, echoTool{name: "echo-tool"})

	plan := &Plan{Title: "parallel", UserRequest: "two tools", Steps: []Step{{StepRequirement: "run both"}}}
	if _, err := executor.Execute(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	detail, err := h.recorder.GetAgentExecutionDetail(context.Background(), plan.Steps[0].StepID)
	if err != nil {
		t.Fatal(err)
	}
	var infos []ActToolInfo
	for _, ta := range detail.ThinkActSteps {
		infos = append(infos, ta.ActToolInfos...)
	}
	var echoes []ActToolInfo
	for _, info := range infos {
		if info.Name == "echo-tool" {
			echoes = append(echoes, info)
		}
	}
	if len(echoes) != 2 {
		t.Fatalf("echo tool infos = %d, want 2", len(echoes))
	}
	if echoes[0].ToolCallID == echoes[1].ToolCallID {
		t.Error("parallel calls must get distinct tool-call ids")
	}
	if echoes[0].Result == nil || echoes[1].Result == nil {
		t.Fatal("results not recorded")
	}
	if *echoes[0].Result != "out-1" || *echoes[1].Result != "out-2" {
		t.Errorf("results out of order: %q, %q", *echoes[0].Result, *echoes[1].Result)
	}
}

func TestPlanStepFailureStopsPlan(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: ErrorReportToolName, Args: jsonArgs(map[string]string{"error_message": "no can do"})}),
	}}
	executor := newExecutorHarness(h, llm)

	plan := &Plan{
		Title:       "two steps",
		UserRequest: "fail then skip",
		Steps: []Step{
			{StepRequirement: "impossible"},
			{StepRequirement: "never reached"},
		},
	}
	_, err := executor.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("failed step must fail the plan")
	}

	stored, err := h.recorder.GetPlan(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Completed {
		t.Error("failed plan still completes with an error message")
	}
	if !strings.Contains(stored.ErrorMessage, "no can do") {
		t.Errorf("plan error = %q", stored.ErrorMessage)
	}
	if stored.Steps[0].Status != StepFailed {
		t.Errorf("step 0 status = %s", stored.Steps[0].Status)
	}
	if stored.Steps[1].Status != StepNotStarted {
		t.Errorf("step 1 must not run, status = %s", stored.Steps[1].Status)
	}
}

func TestPlanInterruptStopsTree(t *testing.T) {
	h := newHarness()
	defer h.close()

	blocking := &slowTool{name: "blocking-tool", release: make(chan struct{}), output: "eventually"}
	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "blocking-tool", Args: json.RawMessage(`{}`)}),
	}}
	executor := newExecutorHarness(h, llm, blocking)

	plan := &Plan{
		CurrentPlanID: h.ids.NewPlanID(),
		Title:         "interruptible",
		UserRequest:   "long work",
		Steps:         []Step{{StepRequirement: "block"}},
	}

	done := make(chan error, 1)
	go func() {
		_, err := executor.Execute(context.Background(), plan)
		done <- err
	}()

	// Let the first tool call start, then interrupt and release it.
	time.Sleep(200 * time.Millisecond)
	executor.Interrupt(plan.CurrentPlanID)
	close(blocking.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted plan did not unwind")
	}

	stored, err := h.recorder.GetPlan(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Steps[0].Status != StepInterrupted {
		t.Errorf("step status = %s, want INTERRUPTED", stored.Steps[0].Status)
	}
	if !stored.Completed {
		t.Error("interrupted plan still completes")
	}
}

func TestPlanAgentTagSelection(t *testing.T) {
	h := newHarness()
	defer h.close()

	defaultLLM := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "default"})}),
	}}
	taggedLLM := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "tagged"})}),
	}}
	executor := newExecutorHarness(h, defaultLLM)
	memory := NewMemoryLimitService(&scriptedProvider{})
	executor.RegisterAgent(NewDynamicAgent("SPECIALIST", taggedLLM, h.recorder, h.ids, h.interrupts, memory, h.dispatcher))

	plan := &Plan{
		Title:       "tagged",
		UserRequest: "specialist work",
		Steps:       []Step{{StepRequirement: "[SPECIALIST] handle this"}},
	}
	result, err := executor.Execute(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if result != "tagged" {
		t.Errorf("result = %q, want the specialist's answer", result)
	}
	if defaultLLM.requestCount() != 0 {
		t.Error("default agent must not run a tagged step")
	}
	stored, _ := h.recorder.GetPlan(context.Background(), plan.CurrentPlanID)
	if stored.Steps[0].AgentName != "SPECIALIST" {
		t.Errorf("step agent = %q", stored.Steps[0].AgentName)
	}
}

func TestPlanSubPlanLinkage(t *testing.T) {
	h := newHarness()
	defer h.close()

	// Root think → sub-plan call; nested agent terminates with "sub result";
	// root observes it and terminates with "root done".
	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(subPlanCall("c1", "do the nested work")),
		toolCallResponse(ToolCall{ID: "c2", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "sub result"})}),
		toolCallResponse(ToolCall{ID: "c3", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "root done"})}),
	}}
	executor := newExecutorHarness(h, llm)

	plan := &Plan{Title: "parent", UserRequest: "delegate", Steps: []Step{{StepRequirement: "delegate to a sub-plan"}}}
	result, err := executor.Execute(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if result != "root done" {
		t.Errorf("root result = %q", result)
	}

	plans, err := h.recorder.ListPlansByRoot(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans in tree = %d, want 2", len(plans))
	}
	var sub *Plan
	for i := range plans {
		if plans[i].IsSubPlan() {
			sub = &plans[i]
		}
	}
	if sub == nil {
		t.Fatal("no sub-plan recorded")
	}
	if sub.ParentPlanID != plan.CurrentPlanID || sub.RootPlanID != plan.CurrentPlanID {
		t.Errorf("sub-plan linkage = parent %q root %q", sub.ParentPlanID, sub.RootPlanID)
	}

	// The spawning tool call exists and carries the sub-plan's result.
	info, ok := h.recorder.toolInfo(sub.ToolCallID)
	if !ok {
		t.Fatalf("no ActToolInfo with id %q", sub.ToolCallID)
	}
	if info.Name != SubPlanToolName {
		t.Errorf("spawning call name = %q", info.Name)
	}
	if info.Result == nil || *info.Result != "sub result" {
		t.Errorf("spawning call result = %v", info.Result)
	}

	// The reader nests the sub-plan and resolves its parent call.
	tree, err := NewHierarchyReader(h.recorder).PlanTree(context.Background(), plan.CurrentPlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.SubPlans) != 1 {
		t.Fatalf("tree sub-plans = %d", len(tree.SubPlans))
	}
	parentCall := tree.SubPlans[0].ParentActToolCall
	if parentCall == nil || parentCall.Name != SubPlanToolName {
		t.Errorf("parent act tool call = %+v", parentCall)
	}
}

func TestPlanPreparationBackfillsSteps(t *testing.T) {
	h := newHarness()
	defer h.close()

	llm := &scriptedProvider{responses: []scriptedResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: TerminateToolName, Args: jsonArgs(map[string]string{"message": "ok"})}),
	}}
	executor := newExecutorHarness(h, llm)

	plan := &Plan{
		Title:       "messy",
		UserRequest: "renumber",
		Steps: []Step{
			{StepIndex: 7, StepRequirement: "first"},
			{StepID: "step-preset", StepIndex: 3, StepRequirement: "second"},
		},
	}
	if _, err := executor.Execute(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	if plan.Steps[0].StepIndex != 0 || plan.Steps[1].StepIndex != 1 {
		t.Errorf("indices not renumbered: %d, %d", plan.Steps[0].StepIndex, plan.Steps[1].StepIndex)
	}
	if plan.Steps[0].StepID == "" {
		t.Error("missing step id not backfilled")
	}
	if plan.Steps[1].StepID != "step-preset" {
		t.Error("preset step id must be kept")
	}
}
