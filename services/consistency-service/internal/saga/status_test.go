package saga

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"running", "completed", "failed", "compensating", "compensated", "escalated"} {
		st, err := ParseStatus(valid)
		if err != nil {
			t.Fatalf("parse %q: %v", valid, err)
		}
		if st.String() != valid {
			t.Fatalf("round trip %q -> %q", valid, st)
		}
	}
	if _, err := ParseStatus("paused"); !errors.Is(err, ErrStatusInvalid) {
		t.Fatalf("expected ErrStatusInvalid, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCompensating},
		{StatusFailed, StatusCompensating},
		{StatusCompensating, StatusCompensated},
		{StatusCompensating, StatusEscalated},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("%s -> %s must be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusCompleted, StatusRunning},
		{StatusCompensated, StatusCompensating},
		{StatusEscalated, StatusCompensating},
		{StatusFailed, StatusCompleted},
		{StatusRunning, StatusCompensated},
		{StatusRunning, StatusEscalated},
	}
	for _, tr := range denied {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("%s -> %s must be denied", tr.from, tr.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusCompensated, StatusEscalated} {
		if !st.IsTerminal() {
			t.Errorf("%s must be terminal", st)
		}
	}
	for _, st := range []Status{StatusRunning, StatusFailed, StatusCompensating} {
		if st.IsTerminal() {
			t.Errorf("%s must not be terminal", st)
		}
	}
}
