package archon

import "context"

// Provider is the LLM contract consumed by the engine. Adapters translate a
// provider's wire format into the uniform chunk stream; the engine never sees
// wire formats.
type Provider interface {
	// Name identifies the provider for logging and error messages.
	Name() string
	// ChatStream sends the request and writes response chunks to ch as they
	// arrive. ch is closed before ChatStream returns, on success and on
	// error alike. Partial output already written to ch remains valid when
	// an error is returned.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamChunk) error
}

// StreamChunk is one delta of a streamed LLM response.
type StreamChunk struct {
	// TextDelta is an incremental piece of the response text.
	TextDelta string
	// ToolCallDeltas are incremental pieces of tool-call invocations.
	ToolCallDeltas []ToolCallDelta
	// Usage is set on chunks that carry token accounting (typically the
	// final chunk).
	Usage *Usage
}

// ToolCallDelta is a partial tool call. The id (or, for providers that only
// number calls, the index slot) establishes identity across chunks: a later
// delta with the same identity appends ArgsDelta to the accumulated
// arguments.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	ArgsDelta string
}
