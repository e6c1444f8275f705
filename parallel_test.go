package archon

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatchPreservesInputOrder(t *testing.T) {
	h := newHarness()
	defer h.close()

	// The slow tool finishes last even though it is first in the batch.
	slow := &slowTool{name: "slow-tool", release: make(chan struct{}), output: "slow done"}
	registry := NewToolRegistry()
	registry.Add(slow)
	registry.Add(echoTool{name: "echo-tool"})

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(slow.release)
	}()

	reqs := []ParallelExecutionRequest{
		{ToolName: "slow-tool", Params: json.RawMessage(`{}`)},
		{ToolName: "echo-tool", Params: jsonArgs(map[string]string{"text": "fast"})},
	}
	results, err := h.dispatcher.Dispatch(context.Background(), reqs, registry, ToolContext{RootPlanID: "plan-r", PlanDepth: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result[%d].Index = %d", i, r.Index)
		}
	}
	if results[0].Output != "slow done" || results[1].Output != "fast" {
		t.Errorf("outputs out of order: %+v", results)
	}
}

func TestDispatchGeneratesToolCallIDs(t *testing.T) {
	h := newHarness()
	defer h.close()
	registry := NewToolRegistry()
	registry.Add(echoTool{name: "echo-tool"})

	reqs := []ParallelExecutionRequest{
		{ToolName: "echo-tool", Params: jsonArgs(map[string]string{"text": "a"})},
		{ToolName: "echo-tool", Params: jsonArgs(map[string]string{"text": "b"}), ToolCallID: "toolcall-fixed"},
	}
	results, err := h.dispatcher.Dispatch(context.Background(), reqs, registry, ToolContext{RootPlanID: "plan-r"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(results[0].ToolCallID, "toolcall-") {
		t.Errorf("generated id = %q", results[0].ToolCallID)
	}
	if results[1].ToolCallID != "toolcall-fixed" {
		t.Errorf("provided id not propagated: %q", results[1].ToolCallID)
	}
}

func TestDispatchToolErrorAndPanic(t *testing.T) {
	h := newHarness()
	defer h.close()
	registry := NewToolRegistry()
	registry.Add(failTool{})
	registry.Add(panicTool{})

	reqs := []ParallelExecutionRequest{
		{ToolName: "always-fail", Params: json.RawMessage(`{}`)},
		{ToolName: "always-panic", Params: json.RawMessage(`{}`)},
		{ToolName: "no-such-tool", Params: json.RawMessage(`{}`)},
	}
	results, err := h.dispatcher.Dispatch(context.Background(), reqs, registry, ToolContext{RootPlanID: "plan-r"})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Status != ExecError {
			t.Errorf("result[%d].Status = %s, want ERROR", i, r.Status)
		}
	}
	if !strings.Contains(results[1].Error, "panic") {
		t.Errorf("panic not converted: %q", results[1].Error)
	}
	if !strings.Contains(results[2].Error, "unknown tool") {
		t.Errorf("unknown tool error = %q", results[2].Error)
	}
}

func TestDispatchInterruptedRoot(t *testing.T) {
	h := newHarness()
	defer h.close()
	h.interrupts.Register("plan-r")
	h.interrupts.Request("plan-r")

	registry := NewToolRegistry()
	registry.Add(echoTool{name: "echo-tool"})
	reqs := []ParallelExecutionRequest{{ToolName: "echo-tool", Params: json.RawMessage(`{}`)}}
	results, err := h.dispatcher.Dispatch(context.Background(), reqs, registry, ToolContext{RootPlanID: "plan-r"})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != ExecInterrupted {
		t.Errorf("status = %s, want INTERRUPTED", results[0].Status)
	}
}

func TestDispatchSequentialOrderAndContext(t *testing.T) {
	h := newHarness()
	defer h.close()

	var order []string
	registry := NewToolRegistry()
	registry.Add(recordingTool{name: "first", order: &order})
	registry.Add(recordingTool{name: "second", order: &order})

	reqs := []ParallelExecutionRequest{
		{ToolName: "first", Params: json.RawMessage(`{}`)},
		{ToolName: "second", Params: json.RawMessage(`{}`)},
	}
	results, err := h.dispatcher.DispatchSequential(context.Background(), reqs, registry, ToolContext{RootPlanID: "plan-r", PlanDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("sequential order = %v", order)
	}
	for i, r := range results {
		if r.Index != i || r.Status != ExecSuccess {
			t.Errorf("result[%d] = %+v", i, r)
		}
	}
}

// recordingTool appends its name to a shared slice. Only used sequentially.
type recordingTool struct {
	name  string
	order *[]string
}

func (t recordingTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name}
}

func (t recordingTool) Run(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
	*t.order = append(*t.order, t.name)
	return ToolResult{Output: t.name}, nil
}
