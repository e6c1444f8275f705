package archon

import "testing"

func TestInterruptionLifecycle(t *testing.T) {
	m := NewInterruptionManager()
	m.Register("plan-root")

	if !m.ShouldContinue("plan-root") {
		t.Fatal("fresh registration must continue")
	}
	m.Request("plan-root")
	if m.ShouldContinue("plan-root") {
		t.Fatal("interrupt requested, must stop")
	}
	m.MarkTerminated("plan-root")
	if m.ShouldContinue("plan-root") {
		t.Fatal("terminated, must stop")
	}
	m.Remove("plan-root")
	if !m.ShouldContinue("plan-root") {
		t.Fatal("untracked roots continue")
	}
}

func TestInterruptionUnknownRootContinues(t *testing.T) {
	m := NewInterruptionManager()
	if !m.ShouldContinue("never-registered") {
		t.Fatal("unknown root must continue")
	}
	// Requesting an unregistered root is a no-op, not a panic.
	m.Request("never-registered")
	if !m.ShouldContinue("never-registered") {
		t.Fatal("request on unknown root has nothing to flag")
	}
}

func TestInterruptionRegisterIdempotent(t *testing.T) {
	m := NewInterruptionManager()
	m.Register("plan-root")
	m.Request("plan-root")
	m.Register("plan-root") // must not reset the flag
	if m.ShouldContinue("plan-root") {
		t.Fatal("re-registration cleared the interrupt flag")
	}
}
