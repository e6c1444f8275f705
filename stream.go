package archon

import (
	"context"
	"encoding/json"
	"strings"
)

// StreamingResult is the aggregate of one streamed LLM response.
type StreamingResult struct {
	// EffectiveText is the merged response text.
	EffectiveText string
	// EffectiveToolCalls are the merged tool calls, arguments fully
	// assembled.
	EffectiveToolCalls []ToolCall
	// LastResponse is the final aggregated response in protocol shape.
	LastResponse ChatResponse
	// InputCharCount is the rune length of the request messages' content.
	InputCharCount int
	// OutputCharCount is the rune length of the merged text.
	OutputCharCount int
	// EarlyTerminated is set when the response carries non-empty text and
	// zero tool calls — the model "thought" without acting.
	EarlyTerminated bool
	// Err is the stream error, if any. Aggregated content up to the error
	// point is retained.
	Err error
}

// AggregateStream sends req through the provider and merges the chunk stream
// into a single StreamingResult. The whole stream is consumed before
// returning; on stream error the partial aggregate is returned with Err set.
func AggregateStream(ctx context.Context, provider Provider, req ChatRequest) StreamingResult {
	ch := make(chan StreamChunk, 64)
	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamErr = provider.ChatStream(ctx, req, ch)
	}()

	// Accumulate tool calls across chunks. Providers stream tool calls
	// incrementally: identity is the call id when present, the index slot
	// otherwise, and arguments arrive as string fragments.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var text strings.Builder
	var partials []partialToolCall
	var usage Usage

	slotFor := func(d ToolCallDelta) int {
		if d.ID != "" {
			for i := range partials {
				if partials[i].ID == d.ID {
					return i
				}
			}
		}
		for len(partials) <= d.Index {
			partials = append(partials, partialToolCall{})
		}
		return d.Index
	}

	for chunk := range ch {
		text.WriteString(chunk.TextDelta)
		for _, d := range chunk.ToolCallDeltas {
			i := slotFor(d)
			if d.ID != "" {
				partials[i].ID = d.ID
			}
			if d.Name != "" {
				partials[i].Name = d.Name
			}
			partials[i].Args.WriteString(d.ArgsDelta)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	<-done

	var calls []ToolCall
	for i := range partials {
		if partials[i].Name == "" && partials[i].ID == "" {
			continue
		}
		args := partials[i].Args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:   partials[i].ID,
			Name: partials[i].Name,
			Args: json.RawMessage(args),
		})
	}

	merged := text.String()
	result := StreamingResult{
		EffectiveText:      merged,
		EffectiveToolCalls: calls,
		LastResponse: ChatResponse{
			Content:   merged,
			ToolCalls: calls,
			Usage:     usage,
		},
		InputCharCount:  requestCharCount(req),
		OutputCharCount: len([]rune(merged)),
		EarlyTerminated: merged != "" && len(calls) == 0,
		Err:             streamErr,
	}
	return result
}

// requestCharCount sums the rune length of all request message content.
func requestCharCount(req ChatRequest) int {
	var n int
	for _, m := range req.Messages {
		n += len([]rune(m.Content))
	}
	return n
}
