package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

func testEvents(t *testing.T, aggregateID string, types ...string) []event.DomainEvent {
	t.Helper()
	events := make([]event.DomainEvent, 0, len(types))
	for i, et := range types {
		evt, err := event.New("test", aggregateID, et, int64(i+1), json.RawMessage(`{"n":1}`))
		if err != nil {
			t.Fatalf("event: %v", err)
		}
		events = append(events, evt)
	}
	return events
}

func TestMemoryRunner_StagesEntriesWithMutation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runner := NewMemoryRunner(store)

	mutated := false
	err := runner.ExecuteWithOutbox(ctx, func(context.Context, pgx.Tx) error {
		mutated = true
		return nil
	}, testEvents(t, "user-1", "UserRegistered", "UserProfileInitialized"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mutated {
		t.Fatal("business op did not run")
	}

	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(pending))
	}
	if pending[0].EventType != "UserRegistered" || pending[1].EventType != "UserProfileInitialized" {
		t.Fatalf("entries out of creation order: %s, %s", pending[0].EventType, pending[1].EventType)
	}
}

func TestMemoryRunner_BusinessFailureLeavesNoEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runner := NewMemoryRunner(store)

	bizErr := errors.New("email already taken")
	err := runner.ExecuteWithOutbox(ctx, func(context.Context, pgx.Tx) error {
		return bizErr
	}, testEvents(t, "user-1", "UserRegistered"))

	// The business error must come back unmodified.
	if err != bizErr {
		t.Fatalf("expected unmodified business error, got %v", err)
	}
	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no outbox entries after rollback, got %d", len(pending))
	}
}

func TestMemoryRunner_ExecuteWithEventsStagesReturnedEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runner := NewMemoryRunner(store)

	err := runner.ExecuteWithEvents(ctx, func(context.Context, pgx.Tx) ([]event.DomainEvent, error) {
		return testEvents(t, "user-1", "UserRegistered"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	if len(pending) != 1 || pending[0].EventType != "UserRegistered" {
		t.Fatalf("unexpected staged entries: %+v", pending)
	}
}

func TestMemoryRunner_ExecuteWithEventsSourceFailureStagesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runner := NewMemoryRunner(store)

	srcErr := errors.New("version conflict")
	err := runner.ExecuteWithEvents(ctx, func(context.Context, pgx.Tx) ([]event.DomainEvent, error) {
		return nil, srcErr
	})
	if err != srcErr {
		t.Fatalf("expected unmodified source error, got %v", err)
	}
	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	if len(pending) != 0 {
		t.Fatalf("expected nothing staged, got %d", len(pending))
	}
}

func TestMemoryRunner_InvalidEventRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runner := NewMemoryRunner(store)

	bad := event.DomainEvent{EventType: "X"} // missing aggregate, payload
	err := runner.ExecuteWithOutbox(ctx, nil, []event.DomainEvent{bad})
	if err == nil {
		t.Fatal("expected validation error")
	}
	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no entries staged, got %d", len(pending))
	}
}
