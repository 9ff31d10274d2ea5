package breaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, OpenDuration: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while breaker is open")
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, OpenDuration: time.Minute})

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })

	if b.State() != StateClosed {
		t.Fatalf("expected closed (run was broken by a success), got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrialClosesOnSuccess(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 2, OpenDuration: 50 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(80 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial should be allowed after open duration: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrialReopensOnFailure(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 2, OpenDuration: 50 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })

	time.Sleep(80 * time.Millisecond)

	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("expected boom on trial, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopened after failed trial, got %s", b.State())
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	b := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		OpenDuration:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		},
	})

	_ = b.Execute(func() error { return errBoom })
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}
