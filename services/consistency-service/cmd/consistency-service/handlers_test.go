package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/eventstore"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/outbox"
)

func TestPlatformHandlers_BackToBackCommandsAllocateSequentialVersions(t *testing.T) {
	ctx := context.Background()
	outboxStore := outbox.NewMemoryStore()
	runner := outbox.NewMemoryRunner(outboxStore)
	events := eventstore.NewMemoryStore()

	registry := command.NewRegistry()
	registerPlatformHandlers(registry, runner, events)
	commandBus := command.NewBus(registry, slog.New(slog.DiscardHandler))

	issue := func(commandType, payload string) {
		t.Helper()
		cmd, err := command.New(commandType, "ws-1", json.RawMessage(payload))
		if err != nil {
			t.Fatalf("command: %v", err)
		}
		if err := commandBus.ExecuteCommand(ctx, cmd); err != nil {
			t.Fatalf("execute %s: %v", commandType, err)
		}
	}

	// No publisher pass runs between the two commands; the versions must
	// still come out consecutive because allocation happens at command
	// time, not at ingest.
	issue("CreateWorkspace", `{"name":"Platform"}`)
	issue("CreateProject", `{"projectId":"proj-1","name":"Core"}`)

	history, err := events.GetEventsByAggregate(ctx, "ws-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].EventVersion != 1 || history[1].EventVersion != 2 {
		t.Fatalf("expected versions 1,2, got %d,%d", history[0].EventVersion, history[1].EventVersion)
	}
	if history[0].EventType != "WorkspaceCreated" || history[1].EventType != "ProjectCreated" {
		t.Fatalf("unexpected event types: %s, %s", history[0].EventType, history[1].EventType)
	}

	pending, err := outboxStore.ListByStatus(ctx, outbox.StatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 staged outbox entries, got %d", len(pending))
	}
}
