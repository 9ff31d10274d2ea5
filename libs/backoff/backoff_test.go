package backoff

import (
	"context"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{-1, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		got := Exponential(100*time.Millisecond, tc.attempt, 0)
		if got != tc.want {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestExponential_Cap(t *testing.T) {
	got := Exponential(time.Second, 20, 30*time.Second)
	if got != 30*time.Second {
		t.Fatalf("expected cap at 30s, got %s", got)
	}
}

func TestExponential_ZeroBase(t *testing.T) {
	if got := Exponential(0, 5, 0); got != 0 {
		t.Fatalf("expected 0 for zero base, got %s", got)
	}
}

func TestFullJitter_Range(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := FullJitter(time.Second)
		if d < 0 || d >= time.Second {
			t.Fatalf("jitter out of range: %s", d)
		}
	}
	if FullJitter(0) != 0 {
		t.Fatal("expected 0 jitter for 0 delay")
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSleep_Zero(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
