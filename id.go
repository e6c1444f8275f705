package archon

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDDispatcher issues process-wide unique string ids with kind-specific
// prefixes. Ids embed a millisecond timestamp, a monotonic counter, and a
// short random suffix, so they never collide within a process lifetime and
// sort roughly by creation time.
type IDDispatcher struct {
	counter atomic.Uint64
}

// NewIDDispatcher creates an id dispatcher.
func NewIDDispatcher() *IDDispatcher {
	return &IDDispatcher{}
}

func (d *IDDispatcher) next(prefix string) string {
	n := d.counter.Add(1)
	// First 6 hex chars of a v4 UUID as the entropy suffix.
	suffix := uuid.NewString()[:6]
	return fmt.Sprintf("%s-%d-%d-%s", prefix, time.Now().UnixMilli(), n, suffix)
}

// NewPlanID issues a plan id.
func (d *IDDispatcher) NewPlanID() string { return d.next("plan") }

// NewStepID issues a step id.
func (d *IDDispatcher) NewStepID() string { return d.next("step") }

// NewThinkActID issues a think-act cycle id.
func (d *IDDispatcher) NewThinkActID() string { return d.next("thinkact") }

// NewToolCallID issues a tool-call id.
func (d *IDDispatcher) NewToolCallID() string { return d.next("toolcall") }

// NewParallelExecID issues a parallel-execution batch id.
func (d *IDDispatcher) NewParallelExecID() string { return d.next("par") }

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562). Used
// for record primary keys; the prefixed ids above are for cross-references.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
