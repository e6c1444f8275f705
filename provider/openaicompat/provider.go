// Package openaicompat adapts any OpenAI-compatible chat-completion endpoint
// to the engine's Provider contract: it translates requests to the wire
// format and parses the SSE response stream into the uniform chunk stream
// the engine aggregates.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archonlabs/archon"
)

// Provider implements archon.Provider over an OpenAI-compatible API.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider for the given endpoint and model.
func New(baseURL, apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements archon.Provider.
func (p *Provider) Name() string { return "openaicompat:" + p.model }

// ChatStream implements archon.Provider. The channel is closed before
// returning, on success and on error alike.
func (p *Provider) ChatStream(ctx context.Context, req archon.ChatRequest, ch chan<- archon.StreamChunk) error {
	body, err := json.Marshal(buildBody(p.model, req))
	if err != nil {
		close(ch)
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		close(ch)
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		close(ch)
		return &archon.ErrLLM{Provider: p.Name(), Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &archon.ErrHTTP{Status: resp.StatusCode, Body: string(b)}
	}

	return streamSSE(ctx, resp.Body, ch)
}

var _ archon.Provider = (*Provider)(nil)

// --- wire types ---

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolSchema `json:"function"`
}

type wireToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type requestBody struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

// buildBody translates the engine request into the wire format.
func buildBody(model string, req archon.ChatRequest) requestBody {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		msgs[i] = wm
	}
	body := requestBody{Model: model, Messages: msgs, Stream: true}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return body
}
