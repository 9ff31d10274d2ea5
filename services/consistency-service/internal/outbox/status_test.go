package outbox

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"pending", "processing", "processed", "failed", "dead_letter"} {
		s, err := ParseStatus(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if s.String() != raw {
			t.Fatalf("expected %s, got %s", raw, s)
		}
	}
	if _, err := ParseStatus("published"); !errors.Is(err, ErrStatusInvalid) {
		t.Fatalf("expected ErrStatusInvalid, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusFailed, StatusProcessing},
		{StatusProcessing, StatusProcessed},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusDeadLetter},
		{StatusProcessing, StatusPending}, // breaker-open release
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusProcessed},
		{StatusPending, StatusDeadLetter},
		{StatusProcessed, StatusPending},
		{StatusProcessed, StatusProcessing},
		{StatusDeadLetter, StatusProcessing},
		{StatusFailed, StatusProcessed},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if !StatusProcessed.IsTerminal() || !StatusDeadLetter.IsTerminal() {
		t.Fatal("processed and dead_letter are terminal")
	}
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() || StatusFailed.IsTerminal() {
		t.Fatal("pending/processing/failed are not terminal")
	}
}
