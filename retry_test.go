package archon

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestRetryBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, c := range cases {
		if got := RetryBackoff(c.attempt); got != c.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryableLLMError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com", IsTimeout: true}, true},
		{"http 429", &ErrHTTP{Status: 429}, true},
		{"http 503", &ErrHTTP{Status: 503}, true},
		{"http 400", &ErrHTTP{Status: 400}, false},
		{"llm retryable", &ErrLLM{Provider: "p", Message: "dial timeout", Retryable: true}, true},
		{"llm terminal", &ErrLLM{Provider: "p", Message: "invalid request"}, false},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"plain", errors.New("bad schema"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsRetryableLLMError(c.err); got != c.want {
				t.Errorf("IsRetryableLLMError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
