package archon

import (
	"context"
	"errors"
	"testing"
)

func TestAggregateStreamMergesText(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{
			{TextDelta: "Hello, "},
			{TextDelta: "world"},
			{Usage: &Usage{InputTokens: 10, OutputTokens: 2}},
		},
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{Messages: []ChatMessage{UserMessage("hi")}})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.EffectiveText != "Hello, world" {
		t.Errorf("text = %q", result.EffectiveText)
	}
	if result.OutputCharCount != len("Hello, world") {
		t.Errorf("output char count = %d", result.OutputCharCount)
	}
	if result.InputCharCount != 2 {
		t.Errorf("input char count = %d, want 2", result.InputCharCount)
	}
	if result.LastResponse.Usage.InputTokens != 10 {
		t.Errorf("usage not captured: %+v", result.LastResponse.Usage)
	}
	if !result.EarlyTerminated {
		t.Error("text-only response must be flagged early-terminated")
	}
}

func TestAggregateStreamMergesToolCallArgsByID(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{
			{ToolCallDeltas: []ToolCallDelta{{Index: 0, ID: "call-1", Name: "fs-write-file-operator", ArgsDelta: `{"file_`}}},
			{ToolCallDeltas: []ToolCallDelta{{Index: 0, ID: "call-1", ArgsDelta: `path":"a.txt"}`}}},
		},
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{})
	if len(result.EffectiveToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(result.EffectiveToolCalls))
	}
	tc := result.EffectiveToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "fs-write-file-operator" {
		t.Errorf("merged call = %+v", tc)
	}
	if string(tc.Args) != `{"file_path":"a.txt"}` {
		t.Errorf("merged args = %s", tc.Args)
	}
	if result.EarlyTerminated {
		t.Error("response with tool calls must not be early-terminated")
	}
}

func TestAggregateStreamMergesByIndexWithoutIDs(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{
			{ToolCallDeltas: []ToolCallDelta{
				{Index: 0, Name: "t1", ArgsDelta: `{"a":`},
				{Index: 1, Name: "t2", ArgsDelta: `{"b":`},
			}},
			{ToolCallDeltas: []ToolCallDelta{
				{Index: 0, ArgsDelta: `1}`},
				{Index: 1, ArgsDelta: `2}`},
			}},
		},
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{})
	if len(result.EffectiveToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(result.EffectiveToolCalls))
	}
	if string(result.EffectiveToolCalls[0].Args) != `{"a":1}` {
		t.Errorf("call 0 args = %s", result.EffectiveToolCalls[0].Args)
	}
	if string(result.EffectiveToolCalls[1].Args) != `{"b":2}` {
		t.Errorf("call 1 args = %s", result.EffectiveToolCalls[1].Args)
	}
}

func TestAggregateStreamMixedTextAndToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{
			{TextDelta: "Let me write the file."},
			{ToolCallDeltas: []ToolCallDelta{{Index: 0, ID: "c1", Name: "fs-write-file-operator", ArgsDelta: `{}`}}},
		},
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{})
	if result.EarlyTerminated {
		t.Error("text plus tool calls is not early termination")
	}
}

func TestAggregateStreamKeepsPartialOnError(t *testing.T) {
	streamErr := errors.New("connection reset")
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{{TextDelta: "partial"}},
		err:    streamErr,
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{})
	if result.Err == nil {
		t.Fatal("stream error must surface")
	}
	if result.EffectiveText != "partial" {
		t.Errorf("partial aggregate lost: %q", result.EffectiveText)
	}
}

func TestAggregateStreamEmptyArgsDefaultToObject(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{{
		chunks: []StreamChunk{
			{ToolCallDeltas: []ToolCallDelta{{Index: 0, ID: "c1", Name: "agent-terminate"}}},
		},
	}}}
	result := AggregateStream(context.Background(), p, ChatRequest{})
	if len(result.EffectiveToolCalls) != 1 || string(result.EffectiveToolCalls[0].Args) != "{}" {
		t.Errorf("empty args should default to {}: %+v", result.EffectiveToolCalls)
	}
}
