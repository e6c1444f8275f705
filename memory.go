package archon

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// defaultMemoryBudget is the default character budget for agent message
// history.
const defaultMemoryBudget = 200_000

// defaultForceKeep is how many trailing messages a forced compression
// retains beside the pinned summary.
const defaultForceKeep = 2

// summaryMetadata is the metadata flag that pins a compression summary.
// Pruning preserves flagged messages; budget-driven deletion never removes
// them by age.
var summaryMetadata = json.RawMessage(`{"compressed":true}`)

// IsCompressionSummary reports whether m is a pinned compression summary.
func IsCompressionSummary(m ChatMessage) bool {
	if len(m.Metadata) == 0 {
		return false
	}
	var flags struct {
		Compressed bool `json:"compressed"`
	}
	return json.Unmarshal(m.Metadata, &flags) == nil && flags.Compressed
}

// MemoryLimitService keeps agent message history inside a character budget
// by rolling old messages into a single pinned summary message.
type MemoryLimitService struct {
	provider Provider // compression LLM
	budget   int
	keepLast int
	logger   *slog.Logger
}

// MemoryOption configures a MemoryLimitService.
type MemoryOption func(*MemoryLimitService)

// WithMemoryBudget sets the character budget.
func WithMemoryBudget(n int) MemoryOption {
	return func(s *MemoryLimitService) {
		if n > 0 {
			s.budget = n
		}
	}
}

// WithForceKeep sets how many trailing messages forced compression retains.
func WithForceKeep(k int) MemoryOption {
	return func(s *MemoryLimitService) {
		if k > 0 {
			s.keepLast = k
		}
	}
}

// WithMemoryLogger sets a structured logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryLimitService) { s.logger = l }
}

// NewMemoryLimitService creates the service. provider performs the
// compression LLM calls.
func NewMemoryLimitService(provider Provider, opts ...MemoryOption) *MemoryLimitService {
	s := &MemoryLimitService{
		provider: provider,
		budget:   defaultMemoryBudget,
		keepLast: defaultForceKeep,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Budget returns the configured character budget.
func (s *MemoryLimitService) Budget() int { return s.budget }

// messageCharCount sums the rune length of all message content.
func messageCharCount(messages []ChatMessage) int {
	var n int
	for _, m := range messages {
		n += len([]rune(m.Content))
	}
	return n
}

// Apply returns the history unchanged while under budget; otherwise it
// summarizes the oldest prefix (folding in any prior summary) into one
// pinned summary message and keeps the recent suffix. If the compression
// LLM call fails, the input is returned unchanged — the agent proceeds and
// may hit the provider's own limit later.
func (s *MemoryLimitService) Apply(ctx context.Context, messages []ChatMessage) []ChatMessage {
	total := messageCharCount(messages)
	if total <= s.budget {
		return messages
	}

	// Walk back from the newest message until the suffix fills roughly half
	// the budget; everything older is the compression prefix.
	suffixBudget := s.budget / 2
	boundary := len(messages)
	var suffixChars int
	for i := len(messages) - 1; i >= 0; i-- {
		c := len([]rune(messages[i].Content))
		if suffixChars+c > suffixBudget {
			break
		}
		suffixChars += c
		boundary = i
	}
	if boundary == 0 || boundary == len(messages) {
		// Nothing compressible (one giant message, or suffix is everything).
		return messages
	}

	summary, ok := s.summarize(ctx, messages[:boundary])
	if !ok {
		return messages
	}

	compressed := make([]ChatMessage, 0, len(messages)-boundary+1)
	compressed = append(compressed, summary)
	compressed = append(compressed, messages[boundary:]...)
	s.logger.Info("memory compressed",
		"before_chars", total,
		"after_chars", messageCharCount(compressed),
		"messages_removed", boundary)
	return compressed
}

// ForceCompress drops everything except the pinned summary and the last
// keepLast messages. Used when the repeated-result loop detector fires. The
// prefix being dropped is folded into the summary first; on LLM failure the
// prefix is dropped without summarization rather than keeping the loop
// fodder around.
func (s *MemoryLimitService) ForceCompress(ctx context.Context, messages []ChatMessage) []ChatMessage {
	if len(messages) <= s.keepLast {
		return messages
	}
	boundary := len(messages) - s.keepLast
	summary, ok := s.summarize(ctx, messages[:boundary])
	if !ok {
		summary = ChatMessage{
			Role:     "user",
			Content:  "[Summary of earlier progress]\n(unavailable)",
			Metadata: summaryMetadata,
		}
	}
	compressed := make([]ChatMessage, 0, s.keepLast+1)
	compressed = append(compressed, summary)
	compressed = append(compressed, messages[boundary:]...)
	s.logger.Info("memory force-compressed", "kept", s.keepLast, "removed", boundary)
	return compressed
}

// summarize rolls the given messages (prior summaries included, so
// successive passes fold together) into one pinned summary message.
func (s *MemoryLimitService) summarize(ctx context.Context, prefix []ChatMessage) (ChatMessage, bool) {
	var b strings.Builder
	for _, m := range prefix {
		if m.Content == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n---\n")
	}
	result := AggregateStream(ctx, s.provider, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage("Summarize the following agent conversation concisely. Preserve key facts, data values, decisions, and errors. Omit redundant details."),
			UserMessage(b.String()),
		},
	})
	if result.Err != nil {
		s.logger.Warn("memory compression failed, continuing uncompressed", "error", result.Err)
		return ChatMessage{}, false
	}
	return ChatMessage{
		Role:     "user",
		Content:  "[Summary of earlier progress]\n" + result.EffectiveText,
		Metadata: summaryMetadata,
	}, true
}
