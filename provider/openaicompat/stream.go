package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/archonlabs/archon"
)

// sseChunk is one parsed SSE data payload.
type sseChunk struct {
	Choices []struct {
		Delta *struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// streamSSE reads an SSE stream from body and forwards engine chunks to ch.
// The channel is closed when streaming completes.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- archon.StreamChunk) error {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		out := archon.StreamChunk{}
		if chunk.Usage != nil {
			out.Usage = &archon.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
			delta := chunk.Choices[0].Delta
			out.TextDelta = delta.Content
			for _, tc := range delta.ToolCalls {
				out.ToolCallDeltas = append(out.ToolCallDeltas, archon.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					ArgsDelta: tc.Function.Arguments,
				})
			}
		}
		if out.TextDelta == "" && len(out.ToolCallDeltas) == 0 && out.Usage == nil {
			continue
		}

		select {
		case ch <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return &archon.ErrLLM{Provider: "openaicompat", Message: "stream read: " + err.Error(), Retryable: true}
	}
	return nil
}
