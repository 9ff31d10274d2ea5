package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

// recordingBus captures executed commands in order and fails the types it
// was told to fail.
type recordingBus struct {
	mu       sync.Mutex
	executed []command.Command
	failing  map[string]error
	blocking map[string]time.Duration
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		failing:  make(map[string]error),
		blocking: make(map[string]time.Duration),
	}
}

func (b *recordingBus) failOn(commandType string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[commandType] = err
}

func (b *recordingBus) blockOn(commandType string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocking[commandType] = d
}

func (b *recordingBus) ExecuteCommand(_ context.Context, cmd command.Command) error {
	b.mu.Lock()
	delay := b.blocking[cmd.Type]
	err := b.failing[cmd.Type]
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	b.mu.Lock()
	b.executed = append(b.executed, cmd)
	b.mu.Unlock()
	return err
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.executed))
	for i, cmd := range b.executed {
		out[i] = cmd.Type
	}
	return out
}

func provisioningSaga() Definition {
	step := func(name string) Step {
		return Step{
			Name: name,
			Forward: func(inst *Instance, trigger event.DomainEvent) (command.Command, error) {
				return command.New(name, trigger.AggregateID, json.RawMessage(`{}`))
			},
			Compensation: func(inst *Instance, trigger event.DomainEvent) (command.Command, error) {
				return command.New("Undo"+name, trigger.AggregateID, json.RawMessage(`{}`))
			},
		}
	}
	return Definition{
		Type:             "workspace_provisioning",
		TriggerEventType: "WorkspaceRequested",
		Steps:            []Step{step("CreateWorkspace"), step("CreateProject"), step("CreateBase")},
	}
}

func triggerEvent(t *testing.T) event.DomainEvent {
	t.Helper()
	evt, err := event.New("workspace", "ws-1", "WorkspaceRequested", 1, json.RawMessage(`{"name":"Platform"}`))
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	evt.TenantID = "tenant-1"
	evt.CorrelationID = "corr-1"
	return evt
}

func newTestOrchestrator(t *testing.T, bus CommandBus) (*Orchestrator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	o := NewOrchestrator(store, bus, slog.New(slog.DiscardHandler), 200*time.Millisecond)
	o.Register(provisioningSaga())
	t.Cleanup(o.Stop)
	return o, store
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	if !o.WaitIdle(context.Background(), 2*time.Second) {
		t.Fatal("orchestrator did not go idle")
	}
}

func singleInstance(t *testing.T, store *MemoryStore, status Status) *Instance {
	t.Helper()
	instances, err := store.ListByStatus(context.Background(), status)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance in %s, got %d", status, len(instances))
	}
	return instances[0]
}

func TestOrchestrator_RunsAllStepsInOrder(t *testing.T) {
	bus := newRecordingBus()
	o, store := newTestOrchestrator(t, bus)

	if err := o.HandleEvent(context.Background(), triggerEvent(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	inst := singleInstance(t, store, StatusCompleted)
	if len(inst.CompletedSteps) != 3 {
		t.Fatalf("expected 3 completed steps, got %d", len(inst.CompletedSteps))
	}
	want := []string{"CreateWorkspace", "CreateProject", "CreateBase"}
	got := bus.types()
	if len(got) != 3 {
		t.Fatalf("expected 3 commands, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step order: expected %v, got %v", want, got)
		}
	}
	if inst.CorrelationID != "corr-1" {
		t.Fatalf("correlation id lost: %+v", inst)
	}
}

func TestOrchestrator_CompensatesInReverseOrder(t *testing.T) {
	bus := newRecordingBus()
	bus.failOn("CreateBase", fmt.Errorf("capacity exhausted"))
	o, store := newTestOrchestrator(t, bus)

	if err := o.HandleEvent(context.Background(), triggerEvent(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	inst := singleInstance(t, store, StatusCompensated)
	if inst.LastError == "" {
		t.Fatal("expected last error to name the failed step")
	}
	if inst.CompensatedSteps != 2 {
		t.Fatalf("expected 2 compensated steps, got %d", inst.CompensatedSteps)
	}

	want := []string{"CreateWorkspace", "CreateProject", "CreateBase", "UndoCreateProject", "UndoCreateWorkspace"}
	got := bus.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("compensation order: expected %v, got %v", want, got)
		}
	}
}

func TestOrchestrator_FirstStepFailureNeedsNoCompensation(t *testing.T) {
	bus := newRecordingBus()
	bus.failOn("CreateWorkspace", fmt.Errorf("denied"))
	o, store := newTestOrchestrator(t, bus)

	if err := o.HandleEvent(context.Background(), triggerEvent(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	inst := singleInstance(t, store, StatusCompensated)
	if len(inst.CompletedSteps) != 0 {
		t.Fatalf("no step completed, got %d", len(inst.CompletedSteps))
	}
	if got := bus.types(); len(got) != 1 {
		t.Fatalf("only the failed forward command expected, got %v", got)
	}
}

func TestOrchestrator_CompensationFailureEscalates(t *testing.T) {
	bus := newRecordingBus()
	bus.failOn("CreateBase", fmt.Errorf("capacity exhausted"))
	bus.failOn("UndoCreateProject", fmt.Errorf("project locked"))
	o, store := newTestOrchestrator(t, bus)

	if err := o.HandleEvent(context.Background(), triggerEvent(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	inst := singleInstance(t, store, StatusEscalated)
	if inst.CompensatedSteps != 0 {
		t.Fatalf("escalation before any compensation succeeded, got %d", inst.CompensatedSteps)
	}
	if !inst.Status.IsTerminal() {
		t.Fatal("escalated must be terminal")
	}
}

func TestOrchestrator_StepTimeoutFailsStep(t *testing.T) {
	bus := newRecordingBus()
	bus.blockOn("CreateProject", time.Second)
	o, store := newTestOrchestrator(t, bus)

	if err := o.HandleEvent(context.Background(), triggerEvent(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	inst := singleInstance(t, store, StatusCompensated)
	if len(inst.CompletedSteps) != 1 {
		t.Fatalf("only the first step completed, got %d", len(inst.CompletedSteps))
	}
}

func TestOrchestrator_IgnoresUnrelatedEvents(t *testing.T) {
	bus := newRecordingBus()
	o, store := newTestOrchestrator(t, bus)

	evt, err := event.New("user", "user-1", "UserRegistered", 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := o.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitIdle(t, o)

	instances, err := store.ListByStatus(context.Background(),
		StatusRunning, StatusCompleted, StatusFailed, StatusCompensating, StatusCompensated, StatusEscalated)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("no instance expected, got %d", len(instances))
	}
}

func TestOrchestrator_RecoverResumesRunningInstance(t *testing.T) {
	ctx := context.Background()
	bus := newRecordingBus()
	o, store := newTestOrchestrator(t, bus)

	// A crash left a running instance persisted after step 1.
	def := provisioningSaga()
	inst := NewInstance(def, triggerEvent(t))
	cmd, _ := command.New("CreateWorkspace", "ws-1", json.RawMessage(`{}`))
	inst.recordStep("CreateWorkspace", cmd)
	if err := store.Save(ctx, inst); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitIdle(t, o)

	recovered := singleInstance(t, store, StatusCompleted)
	if len(recovered.CompletedSteps) != 3 {
		t.Fatalf("expected 3 completed steps, got %d", len(recovered.CompletedSteps))
	}
	// Step 1 is not re-run; only steps 2 and 3 are issued.
	want := []string{"CreateProject", "CreateBase"}
	got := bus.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOrchestrator_RecoverContinuesCompensation(t *testing.T) {
	ctx := context.Background()
	bus := newRecordingBus()
	o, store := newTestOrchestrator(t, bus)

	// A crash interrupted compensation after undoing the second step.
	def := provisioningSaga()
	inst := NewInstance(def, triggerEvent(t))
	for _, name := range []string{"CreateWorkspace", "CreateProject"} {
		cmd, _ := command.New(name, "ws-1", json.RawMessage(`{}`))
		inst.recordStep(name, cmd)
	}
	inst.LastError = "step CreateBase: capacity exhausted"
	if err := inst.transition(StatusFailed); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := inst.transition(StatusCompensating); err != nil {
		t.Fatalf("transition: %v", err)
	}
	inst.CompensatedSteps = 1
	if err := store.Save(ctx, inst); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitIdle(t, o)

	singleInstance(t, store, StatusCompensated)
	want := []string{"UndoCreateWorkspace"}
	got := bus.types()
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("expected only the remaining compensation %v, got %v", want, got)
	}
}

func TestOrchestrator_CancelCompensatesCompletedSteps(t *testing.T) {
	ctx := context.Background()
	bus := newRecordingBus()
	o, store := newTestOrchestrator(t, bus)

	def := provisioningSaga()
	inst := NewInstance(def, triggerEvent(t))
	cmd, _ := command.New("CreateWorkspace", "ws-1", json.RawMessage(`{}`))
	inst.recordStep("CreateWorkspace", cmd)
	if err := store.Save(ctx, inst); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.Cancel(ctx, inst.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	canceled := singleInstance(t, store, StatusCompensated)
	if canceled.LastError != "canceled by operator" {
		t.Fatalf("unexpected last error: %q", canceled.LastError)
	}
	want := []string{"UndoCreateWorkspace"}
	got := bus.types()
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// Terminal instances cannot be canceled again.
	if err := o.Cancel(ctx, inst.ID); err == nil {
		t.Fatal("expected cancel of compensated instance to fail")
	}
}

func TestOrchestrator_IndependentInstancesRunConcurrently(t *testing.T) {
	bus := newRecordingBus()
	bus.blockOn("CreateWorkspace", 50*time.Millisecond)
	o, store := newTestOrchestrator(t, bus)

	start := time.Now()
	for i := 0; i < 4; i++ {
		evt, err := event.New("workspace", fmt.Sprintf("ws-%d", i), "WorkspaceRequested", 1, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("event: %v", err)
		}
		if err := o.HandleEvent(context.Background(), evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	waitIdle(t, o)

	// Serial execution would take at least 4 * 50ms for the first step
	// alone; concurrent instances overlap.
	if elapsed := time.Since(start); elapsed > 180*time.Millisecond {
		t.Fatalf("instances did not run concurrently, took %s", elapsed)
	}
	instances, err := store.ListByStatus(context.Background(), StatusCompleted)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 4 {
		t.Fatalf("expected 4 completed instances, got %d", len(instances))
	}
}
