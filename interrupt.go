package archon

import "sync"

// interruptPhase is the cooperative cancellation state of one root plan.
type interruptPhase int

const (
	phaseRunning interruptPhase = iota
	phaseInterruptRequested
	phaseTerminated
)

// InterruptionManager tracks a cooperative cancellation flag per root plan.
// Interruption is best-effort: in-flight tool calls complete (or hit their
// own timeouts), and every safe point polls ShouldContinue. An observer that
// reads false propagates by returning ErrInterrupted.
type InterruptionManager struct {
	mu     sync.Mutex
	phases map[string]interruptPhase
}

// NewInterruptionManager creates an empty manager.
func NewInterruptionManager() *InterruptionManager {
	return &InterruptionManager{phases: make(map[string]interruptPhase)}
}

// Register starts tracking a root plan in the running phase. Idempotent.
func (m *InterruptionManager) Register(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.phases[rootPlanID]; !ok {
		m.phases[rootPlanID] = phaseRunning
	}
}

// Request asks the root plan's task tree to stop at the next safe point.
// Unknown roots are ignored — there is nothing to flag.
func (m *InterruptionManager) Request(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if phase, ok := m.phases[rootPlanID]; ok && phase == phaseRunning {
		m.phases[rootPlanID] = phaseInterruptRequested
	}
}

// ShouldContinue is the safe-point check. Returns false once interruption has
// been requested. Unknown roots continue (nothing asked them to stop).
func (m *InterruptionManager) ShouldContinue(rootPlanID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	phase, ok := m.phases[rootPlanID]
	return !ok || phase == phaseRunning
}

// MarkTerminated records that the root plan's tree has fully unwound.
func (m *InterruptionManager) MarkTerminated(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.phases[rootPlanID]; ok {
		m.phases[rootPlanID] = phaseTerminated
	}
}

// Remove drops tracking state at plan teardown.
func (m *InterruptionManager) Remove(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.phases, rootPlanID)
}
