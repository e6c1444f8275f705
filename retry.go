package archon

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// maxLLMAttempts is the per-think retry budget for retryable LLM errors.
const maxLLMAttempts = 3

// retryBackoffCap bounds the exponential backoff between LLM attempts.
const retryBackoffCap = 60 * time.Second

// retryBackoffBase is the delay before the second attempt; each subsequent
// delay doubles up to retryBackoffCap.
const retryBackoffBase = 2 * time.Second

// IsRetryableLLMError reports whether err is a transient failure worth
// retrying: DNS resolution, timeouts, connection resets, and overloaded
// (429/503) provider responses. Everything else fails the think immediately.
func IsRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status == 503
	}
	var llmErr *ErrLLM
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout")
}

// RetryBackoff returns the wait before retry attempt (1-indexed):
// min(60s, 2s · 2^(attempt-1)).
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBackoffBase << (attempt - 1)
	if d > retryBackoffCap || d <= 0 {
		return retryBackoffCap
	}
	return d
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
