// Package projection maintains read models derived from the event stream.
// Each projection is a pure reducer over JSON state keyed by aggregate id;
// the Manager routes events through hash-partitioned workers so updates for
// one aggregate are serial while distinct aggregates progress in parallel.
package projection

import (
	"errors"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

var (
	// ErrProjectionUnknown is returned when a name was never registered.
	ErrProjectionUnknown = errors.New("projection: unknown projection")
	// ErrStateNotFound is returned by StateStore.Get when no state exists
	// for the key.
	ErrStateNotFound = errors.New("projection: state not found")
	// ErrManagerStopped is returned once Stop has been called.
	ErrManagerStopped = errors.New("projection: manager stopped")
	// ErrManagerNotStarted is returned by ApplyEvent before Start.
	ErrManagerNotStarted = errors.New("projection: manager not started")
	// ErrEventOutOfOrder marks an event whose version skips ahead of the
	// last applied version for its aggregate.
	ErrEventOutOfOrder = errors.New("projection: event out of order")
)

// Projection folds domain events into a serialized read model. Apply must be
// a pure function of its inputs: replaying the same events in the same order
// must always yield the same state.
type Projection interface {
	// Name identifies the projection; it namespaces state and checkpoints.
	Name() string
	// EventTypes lists the event types this projection consumes. Events of
	// other types are skipped without touching state.
	EventTypes() []string
	// Init returns the zero state for a key that has no state yet.
	Init() []byte
	// Apply folds one event into the state and returns the next state.
	Apply(state []byte, evt event.DomainEvent) ([]byte, error)
}
