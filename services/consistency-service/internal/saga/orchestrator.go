package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

const defaultStepTimeout = 30 * time.Second

// CommandBus executes saga step commands. Satisfied by command.Bus.
type CommandBus interface {
	ExecuteCommand(ctx context.Context, cmd command.Command) error
}

// Orchestrator drives saga instances. Each trigger event starts an instance
// on its own goroutine; instances share only the store and the command bus,
// so independent flows never block each other.
type Orchestrator struct {
	store       Store
	bus         CommandBus
	logger      *slog.Logger
	stepTimeout time.Duration

	mu        sync.Mutex
	byTrigger map[string]Definition
	byType    map[string]Definition
	inFlight  map[uuid.UUID]struct{}
	stopped   bool
	wg        sync.WaitGroup
}

func NewOrchestrator(store Store, bus CommandBus, logger *slog.Logger, stepTimeout time.Duration) *Orchestrator {
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	return &Orchestrator{
		store:       store,
		bus:         bus,
		logger:      logger,
		stepTimeout: stepTimeout,
		byTrigger:   make(map[string]Definition),
		byType:      make(map[string]Definition),
		inFlight:    make(map[uuid.UUID]struct{}),
	}
}

// Register adds a saga definition. Must be called before events flow.
func (o *Orchestrator) Register(def Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byTrigger[def.TriggerEventType] = def
	o.byType[def.Type] = def
}

// HandleEvent starts a new instance when evt matches a registered trigger.
// The instance is persisted before this returns; the steps run async.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt event.DomainEvent) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrOrchestratorClosed
	}
	def, ok := o.byTrigger[evt.EventType]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	inst := NewInstance(def, evt)
	if err := o.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("persist saga instance: %w", err)
	}
	o.logger.Info("saga started",
		"saga_type", def.Type,
		"saga_id", inst.ID,
		"trigger_event", evt.EventType,
		"correlation_id", inst.CorrelationID,
	)

	o.launch(inst, def, o.runForward)
	return nil
}

// Recover re-evaluates persisted non-terminal instances after a restart:
// running instances resume at their current step, failed and compensating
// instances continue compensation. Compensations already issued may be
// re-issued; compensation commands must be idempotent.
func (o *Orchestrator) Recover(ctx context.Context) error {
	instances, err := o.store.ListByStatus(ctx, StatusRunning, StatusFailed, StatusCompensating)
	if err != nil {
		return fmt.Errorf("scan interrupted sagas: %w", err)
	}

	for _, inst := range instances {
		o.mu.Lock()
		def, ok := o.byType[inst.Type]
		o.mu.Unlock()
		if !ok {
			o.logger.Error("saga instance has no registered definition",
				"saga_type", inst.Type, "saga_id", inst.ID)
			continue
		}

		o.logger.Info("recovering saga",
			"saga_type", inst.Type,
			"saga_id", inst.ID,
			"status", inst.Status,
			"current_step", inst.CurrentStep,
		)
		switch inst.Status {
		case StatusRunning:
			o.launch(inst, def, o.runForward)
		default:
			o.launch(inst, def, o.compensate)
		}
	}
	return nil
}

// Cancel aborts a persisted instance that is not actively executing in this
// process, treating the cancellation as a step failure: the completed steps
// are compensated in reverse order.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	_, active := o.inFlight[id]
	o.mu.Unlock()
	if active {
		return fmt.Errorf("%w: instance %s is executing", ErrNotCancelable, id)
	}

	inst, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != StatusRunning {
		return fmt.Errorf("%w: status %s", ErrNotCancelable, inst.Status)
	}

	o.mu.Lock()
	def, ok := o.byType[inst.Type]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDefinitionUnknown, inst.Type)
	}

	inst.LastError = "canceled by operator"
	if err := inst.transition(StatusFailed); err != nil {
		return err
	}
	if err := o.store.Save(ctx, inst); err != nil {
		return err
	}
	o.compensate(inst, def)
	return nil
}

// Stop waits for in-flight instances to reach a stable persisted state.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.wg.Wait()
}

// WaitIdle blocks until no instance goroutine is active, or the timeout
// expires. Intended for tests and draining.
func (o *Orchestrator) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		o.mu.Lock()
		idle := len(o.inFlight) == 0
		o.mu.Unlock()
		if idle {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

func (o *Orchestrator) launch(inst *Instance, def Definition, run func(*Instance, Definition)) {
	o.mu.Lock()
	o.inFlight[inst.ID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, inst.ID)
			o.mu.Unlock()
			o.wg.Done()
		}()
		run(inst, def)
	}()
}

// runForward executes forward steps from CurrentStep. Each successful step
// is persisted before the next one starts.
func (o *Orchestrator) runForward(inst *Instance, def Definition) {
	ctx := context.Background()

	for i := inst.CurrentStep; i < len(def.Steps); i++ {
		step := def.Steps[i]
		cmd, err := o.buildCommand(step.Forward, inst)
		if err != nil {
			o.fail(ctx, inst, def, fmt.Errorf("build step %s: %w", step.Name, err))
			return
		}
		if err := o.executeStep(ctx, cmd); err != nil {
			o.fail(ctx, inst, def, fmt.Errorf("step %s: %w", step.Name, err))
			return
		}

		inst.recordStep(step.Name, cmd)
		if err := o.store.Save(ctx, inst); err != nil {
			o.fail(ctx, inst, def, fmt.Errorf("persist step %s: %w", step.Name, err))
			return
		}
		o.logger.Debug("saga step completed",
			"saga_id", inst.ID, "step", step.Name, "position", i)
	}

	if err := inst.transition(StatusCompleted); err != nil {
		o.logger.Error("saga completion transition rejected", "saga_id", inst.ID, "error", err)
		return
	}
	if err := o.store.Save(ctx, inst); err != nil {
		o.logger.Error("persist completed saga", "saga_id", inst.ID, "error", err)
		return
	}
	o.logger.Info("saga completed", "saga_type", inst.Type, "saga_id", inst.ID)
}

func (o *Orchestrator) fail(ctx context.Context, inst *Instance, def Definition, cause error) {
	inst.LastError = cause.Error()
	if err := inst.transition(StatusFailed); err != nil {
		o.logger.Error("saga failure transition rejected", "saga_id", inst.ID, "error", err)
		return
	}
	if err := o.store.Save(ctx, inst); err != nil {
		o.logger.Error("persist failed saga", "saga_id", inst.ID, "error", err)
		return
	}
	o.logger.Warn("saga step failed, compensating",
		"saga_type", inst.Type,
		"saga_id", inst.ID,
		"completed_steps", len(inst.CompletedSteps),
		"error", cause,
	)
	o.compensate(inst, def)
}

// compensate undoes completed steps in exact reverse order. Any compensation
// failure escalates the instance; escalated sagas are terminal and wait for
// an operator.
func (o *Orchestrator) compensate(inst *Instance, def Definition) {
	ctx := context.Background()

	if inst.Status != StatusCompensating {
		if err := inst.transition(StatusCompensating); err != nil {
			o.logger.Error("saga compensating transition rejected", "saga_id", inst.ID, "error", err)
			return
		}
		if err := o.store.Save(ctx, inst); err != nil {
			o.logger.Error("persist compensating saga", "saga_id", inst.ID, "error", err)
			return
		}
	}

	steps := make(map[string]Step, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.Name] = s
	}

	for idx := len(inst.CompletedSteps) - 1 - inst.CompensatedSteps; idx >= 0; idx-- {
		rec := inst.CompletedSteps[idx]
		step, ok := steps[rec.Step]
		if !ok {
			o.escalate(ctx, inst, fmt.Errorf("no definition for completed step %s", rec.Step))
			return
		}

		if step.Compensation != nil {
			cmd, err := o.buildCommand(step.Compensation, inst)
			if err != nil {
				o.escalate(ctx, inst, fmt.Errorf("build compensation %s: %w", rec.Step, err))
				return
			}
			if err := o.executeStep(ctx, cmd); err != nil {
				o.escalate(ctx, inst, fmt.Errorf("compensation %s: %w", rec.Step, err))
				return
			}
		}

		inst.CompensatedSteps++
		inst.UpdatedAt = time.Now().UTC()
		if err := o.store.Save(ctx, inst); err != nil {
			o.escalate(ctx, inst, fmt.Errorf("persist compensation %s: %w", rec.Step, err))
			return
		}
		o.logger.Debug("saga step compensated", "saga_id", inst.ID, "step", rec.Step)
	}

	if err := inst.transition(StatusCompensated); err != nil {
		o.logger.Error("saga compensated transition rejected", "saga_id", inst.ID, "error", err)
		return
	}
	if err := o.store.Save(ctx, inst); err != nil {
		o.logger.Error("persist compensated saga", "saga_id", inst.ID, "error", err)
		return
	}
	o.logger.Info("saga compensated", "saga_type", inst.Type, "saga_id", inst.ID)
}

func (o *Orchestrator) escalate(ctx context.Context, inst *Instance, cause error) {
	inst.LastError = cause.Error()
	if err := inst.transition(StatusEscalated); err != nil {
		o.logger.Error("saga escalation transition rejected", "saga_id", inst.ID, "error", err)
		return
	}
	if err := o.store.Save(ctx, inst); err != nil {
		o.logger.Error("persist escalated saga", "saga_id", inst.ID, "error", err)
		return
	}
	o.logger.Error("saga escalated, operator intervention required",
		"saga_type", inst.Type,
		"saga_id", inst.ID,
		"correlation_id", inst.CorrelationID,
		"error", cause,
	)
}

func (o *Orchestrator) buildCommand(build CommandBuilder, inst *Instance) (command.Command, error) {
	cmd, err := build(inst, inst.TriggerEvent)
	if err != nil {
		return command.Command{}, err
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = inst.CorrelationID
	}
	if cmd.CausationID == "" {
		cmd.CausationID = inst.ID.String()
	}
	if cmd.TenantID == "" {
		cmd.TenantID = inst.TenantID
	}
	return cmd, nil
}

// executeStep runs the command with the step timeout. A handler that blocks
// past the deadline counts as a failed step even if it ignores the context.
func (o *Orchestrator) executeStep(ctx context.Context, cmd command.Command) error {
	ctx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.bus.ExecuteCommand(ctx, cmd)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("step timed out after %s: %w", o.stepTimeout, ctx.Err())
	}
}
