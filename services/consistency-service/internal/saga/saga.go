// Package saga coordinates multi-service business flows as a sequence of
// commands with per-step compensations. Forward steps run in order; when one
// fails, compensations for the already completed steps are issued in exact
// reverse order through the same command bus, so every effect flows through
// the outbox pipeline.
package saga

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

var (
	ErrStatusInvalid      = errors.New("saga: invalid status")
	ErrTransitionInvalid  = errors.New("saga: invalid status transition")
	ErrInstanceNotFound   = errors.New("saga: instance not found")
	ErrDefinitionUnknown  = errors.New("saga: unknown saga type")
	ErrNotCancelable      = errors.New("saga: instance is not running")
	ErrOrchestratorClosed = errors.New("saga: orchestrator stopped")
)

// CommandBuilder produces the command for a step from the instance and the
// event that triggered the saga. Builders must be deterministic so recovery
// can re-issue the same command after a crash.
type CommandBuilder func(inst *Instance, trigger event.DomainEvent) (command.Command, error)

// Step pairs a forward command with the compensation that undoes it.
// Compensation may be nil for steps with no effect to undo.
type Step struct {
	Name         string
	Forward      CommandBuilder
	Compensation CommandBuilder
}

// Definition describes one saga type: the event that starts it and the steps
// it runs.
type Definition struct {
	Type             string
	TriggerEventType string
	Steps            []Step
}

// StepRecord is one completed forward step, persisted before the next step
// starts so a crash never loses track of issued commands.
type StepRecord struct {
	Step        string          `json:"step"`
	Command     command.Command `json:"command"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Instance is the persisted state of one saga execution.
type Instance struct {
	ID               uuid.UUID          `json:"id"`
	Type             string             `json:"type"`
	Status           Status             `json:"status"`
	CurrentStep      int                `json:"currentStep"`
	CompletedSteps   []StepRecord       `json:"completedSteps"`
	CompensatedSteps int                `json:"compensatedSteps"`
	TriggerEvent     event.DomainEvent  `json:"triggerEvent"`
	CorrelationID    string             `json:"correlationId"`
	TenantID         string             `json:"tenantId,omitempty"`
	LastError        string             `json:"lastError,omitempty"`
	StartedAt        time.Time          `json:"startedAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// NewInstance starts a running instance for def triggered by evt. The
// correlation id carries over from the event, falling back to the aggregate
// so the whole flow stays traceable.
func NewInstance(def Definition, evt event.DomainEvent) *Instance {
	correlationID := evt.CorrelationID
	if correlationID == "" {
		correlationID = evt.AggregateID
	}
	now := time.Now().UTC()
	return &Instance{
		ID:            uuid.New(),
		Type:          def.Type,
		Status:        StatusRunning,
		TriggerEvent:  evt,
		CorrelationID: correlationID,
		TenantID:      evt.TenantID,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// transition moves the instance to next, enforcing the lifecycle.
func (i *Instance) transition(next Status) error {
	if !i.Status.CanTransitionTo(next) {
		return ErrTransitionInvalid
	}
	i.Status = next
	i.UpdatedAt = time.Now().UTC()
	return nil
}

func (i *Instance) recordStep(name string, cmd command.Command) {
	i.CompletedSteps = append(i.CompletedSteps, StepRecord{
		Step:        name,
		Command:     cmd,
		CompletedAt: time.Now().UTC(),
	})
	i.CurrentStep = len(i.CompletedSteps)
	i.UpdatedAt = time.Now().UTC()
}

func (i *Instance) encodeSteps() ([]byte, error) {
	if i.CompletedSteps == nil {
		return []byte(`[]`), nil
	}
	return json.Marshal(i.CompletedSteps)
}
