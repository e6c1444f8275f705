package archon

import (
	"errors"
	"fmt"
)

// ErrInterrupted is the sentinel returned from any safe point once the root
// plan's interruption flag is set. Callers propagate it upward; the plan
// executor converts it to INTERRUPTED step and plan states.
var ErrInterrupted = errors.New("interrupted")

// ErrNotFound is returned by the recorder for unknown plan, step, or
// tool-call ids.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by the recorder on a concurrent update; callers
// may retry.
var ErrConflict = errors.New("conflict")

// ErrDepthExceeded is returned when a sub-plan would exceed the configured
// maximum depth and the pool policy is "reject".
var ErrDepthExceeded = errors.New("plan depth exceeded")

// ErrLLM is a provider-level LLM failure.
type ErrLLM struct {
	Provider  string
	Message   string
	Retryable bool // network/DNS/timeout class errors may be retried
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a transport error from an LLM or tool endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
