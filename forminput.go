package archon

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// FormInputState is the form tool's state machine. Only the transition
// AWAITING_USER_INPUT → INPUT_RECEIVED feeds data back to the agent;
// INPUT_TIMEOUT surfaces as a recoverable observation.
type FormInputState string

const (
	FormIdle          FormInputState = "IDLE"
	FormAwaitingInput FormInputState = "AWAITING_USER_INPUT"
	FormInputReceived FormInputState = "INPUT_RECEIVED"
	FormInputTimeout  FormInputState = "INPUT_TIMEOUT"
)

// FormField describes one input the user is asked to fill.
type FormField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
}

// WaitState is the client-facing view of a pending (or expired) form.
type WaitState struct {
	PlanID     string         `json:"plan_id"`
	Title      string         `json:"title"`
	Waiting    bool           `json:"waiting"`
	State      FormInputState `json:"state"`
	FormInputs []FormField    `json:"form_inputs,omitempty"`
}

// formSlot is the per-root pending form. One slot per root plan; additional
// requests within the same root serialize behind it.
type formSlot struct {
	currentPlanID string
	title         string
	state         FormInputState
	fields        []FormField
	submission    chan map[string]string // buffered 1
	payload       map[string]string
}

// defaultLockTimeout bounds how long a sub-plan waits to acquire the form
// slot while a sibling holds it.
const defaultLockTimeout = 30 * time.Second

// slotPollInterval is the cadence at which StoreExclusive re-checks a busy
// slot.
const slotPollInterval = 100 * time.Millisecond

// UserInputWaitRegistry stores at most one pending form-input request per
// root plan. Expired slots are retained until Remove so late submissions can
// still be observed via GetWaitState.
type UserInputWaitRegistry struct {
	mu          sync.Mutex
	slots       map[string]*formSlot
	lockTimeout time.Duration
	logger      *slog.Logger
}

// RegistryOption configures a UserInputWaitRegistry.
type RegistryOption func(*UserInputWaitRegistry)

// WithLockTimeout sets the exclusive-acquisition timeout.
func WithLockTimeout(d time.Duration) RegistryOption {
	return func(r *UserInputWaitRegistry) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

// WithRegistryLogger sets a structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *UserInputWaitRegistry) { r.logger = l }
}

// NewUserInputWaitRegistry creates an empty registry.
func NewUserInputWaitRegistry(opts ...RegistryOption) *UserInputWaitRegistry {
	r := &UserInputWaitRegistry{
		slots:       make(map[string]*formSlot),
		lockTimeout: defaultLockTimeout,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StoreExclusive acquires the root's form slot for currentPlanID. While
// another sub-plan's form is AWAITING_USER_INPUT the call blocks, up to the
// lock timeout; it returns false when the timeout elapses. A slot left in a
// terminal state (received/timeout) is replaced.
func (r *UserInputWaitRegistry) StoreExclusive(ctx context.Context, rootPlanID, currentPlanID, title string, fields []FormField) bool {
	deadline := time.Now().Add(r.lockTimeout)
	for {
		r.mu.Lock()
		slot, busy := r.slots[rootPlanID]
		if !busy || slot.state != FormAwaitingInput {
			r.slots[rootPlanID] = &formSlot{
				currentPlanID: currentPlanID,
				title:         title,
				state:         FormAwaitingInput,
				fields:        fields,
				submission:    make(chan map[string]string, 1),
			}
			r.mu.Unlock()
			r.logger.Debug("form slot acquired", "root_plan", rootPlanID, "plan", currentPlanID)
			return true
		}
		r.mu.Unlock()
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(slotPollInterval)
	}
}

// Submit completes the root's pending form with user data. Allowed even
// after timeout: the stored state still transitions to INPUT_RECEIVED
// (observable via GetWaitState), though a timed-out agent observation is not
// resurrected.
func (r *UserInputWaitRegistry) Submit(rootPlanID string, payload map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[rootPlanID]
	if !ok {
		return ErrNotFound
	}
	slot.payload = payload
	slot.state = FormInputReceived
	for i := range slot.fields {
		if v, ok := payload[slot.fields[i].Name]; ok {
			slot.fields[i].Value = v
		}
	}
	select {
	case slot.submission <- payload:
	default: // waiter already gone (timeout); state update is the record
	}
	return nil
}

// markTimeout transitions the slot to INPUT_TIMEOUT. The slot stays in the
// registry until Remove so a late Submit is still observed.
func (r *UserInputWaitRegistry) markTimeout(rootPlanID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[rootPlanID]; ok && slot.state == FormAwaitingInput {
		slot.state = FormInputTimeout
	}
}

// release clears a successfully answered slot so the next sub-plan can ask.
func (r *UserInputWaitRegistry) release(rootPlanID, currentPlanID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[rootPlanID]; ok && slot.currentPlanID == currentPlanID && slot.state == FormInputReceived {
		delete(r.slots, rootPlanID)
	}
}

// Remove drops the root's slot at plan teardown.
func (r *UserInputWaitRegistry) Remove(rootPlanID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, rootPlanID)
}

// GetWaitState returns the client view of the root's form, or nil when none
// is stored.
func (r *UserInputWaitRegistry) GetWaitState(rootPlanID string) *WaitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[rootPlanID]
	if !ok {
		return nil
	}
	fields := make([]FormField, len(slot.fields))
	copy(fields, slot.fields)
	return &WaitState{
		PlanID:     slot.currentPlanID,
		Title:      slot.title,
		Waiting:    slot.state == FormAwaitingInput,
		State:      slot.state,
		FormInputs: fields,
	}
}

// waitForSubmission blocks until the slot is answered, the wait times out,
// or interruption/cancellation fires. Polls at 500 ms with an interruption
// check at ≥2 s cadence.
func (r *UserInputWaitRegistry) waitForSubmission(ctx context.Context, rootPlanID string, timeout time.Duration, interrupts *InterruptionManager) (map[string]string, FormInputState) {
	r.mu.Lock()
	slot, ok := r.slots[rootPlanID]
	r.mu.Unlock()
	if !ok {
		return nil, FormIdle
	}

	const poll = 500 * time.Millisecond
	deadline := time.Now().Add(timeout)
	sinceInterruptCheck := time.Duration(0)
	for {
		select {
		case payload := <-slot.submission:
			return payload, FormInputReceived
		case <-ctx.Done():
			r.markTimeout(rootPlanID)
			return nil, FormInputTimeout
		case <-time.After(poll):
		}
		sinceInterruptCheck += poll
		if sinceInterruptCheck >= 2*time.Second {
			sinceInterruptCheck = 0
			if interrupts != nil && !interrupts.ShouldContinue(rootPlanID) {
				r.markTimeout(rootPlanID)
				return nil, FormInputTimeout
			}
		}
		if time.Now().After(deadline) {
			r.markTimeout(rootPlanID)
			return nil, FormInputTimeout
		}
	}
}

// --- form input tool ---

// FormInputToolName is the qualified name agents use to request user input.
const FormInputToolName = "user-form-input"

// FormInputTool asks the human for structured input and blocks the step
// until they answer or the wait times out. Batches containing this tool are
// dispatched sequentially — the form requires exclusive interaction.
type FormInputTool struct {
	registry   *UserInputWaitRegistry
	interrupts *InterruptionManager
	timeout    time.Duration
}

// NewFormInputTool creates the tool. timeout is the total wait budget per
// invocation.
func NewFormInputTool(registry *UserInputWaitRegistry, interrupts *InterruptionManager, timeout time.Duration) *FormInputTool {
	return &FormInputTool{registry: registry, interrupts: interrupts, timeout: timeout}
}

// Definition implements Tool.
func (t *FormInputTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        FormInputToolName,
		Description: "Ask the user to fill a form. Blocks until the user answers or the wait times out.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "What the user is being asked and why"},
				"form_inputs": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string"},
							"label": {"type": "string"},
							"type": {"type": "string"}
						},
						"required": ["name", "label"]
					}
				}
			},
			"required": ["title", "form_inputs"]
		}`),
	}
}

// Run implements Tool.
func (t *FormInputTool) Run(ctx context.Context, tc ToolContext, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Title      string      `json:"title"`
		FormInputs []FormField `json:"form_inputs"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid form arguments: " + err.Error()}, nil
	}
	if !t.registry.StoreExclusive(ctx, tc.RootPlanID, tc.CurrentPlanID, params.Title, params.FormInputs) {
		return ToolResult{Error: "another form is already awaiting user input for this plan"}, nil
	}

	payload, state := t.registry.waitForSubmission(ctx, tc.RootPlanID, t.timeout, t.interrupts)
	switch state {
	case FormInputReceived:
		t.registry.release(tc.RootPlanID, tc.CurrentPlanID)
		out, _ := json.Marshal(payload)
		return ToolResult{Output: string(out)}, nil
	case FormInputTimeout:
		// Recoverable observation; the slot stays registered for late
		// submissions until plan teardown.
		return ToolResult{Output: "user input timed out; no response received"}, nil
	default:
		return ToolResult{Error: "form slot lost"}, nil
	}
}

var _ Tool = (*FormInputTool)(nil)
