// Package eventstore persists the append-only, per-aggregate ordered event
// log that projections and sagas replay from.
package eventstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

var (
	// ErrVersionConflict means an appended event does not immediately follow
	// the aggregate's current head. It is reported to the producer, never
	// resolved silently: reordering or dropping history is worse than a retry.
	ErrVersionConflict = errors.New("event version conflict")

	// ErrDuplicateEvent means the exact same event (same id, same version
	// slot) was appended before. At-least-once consumers skip these.
	ErrDuplicateEvent = errors.New("event already appended")
)

type Store interface {
	// Append writes events atomically. Every event's version must equal the
	// current head of its aggregate plus one.
	Append(ctx context.Context, events []event.DomainEvent) error

	// AppendIn appends inside an already open transaction so producers can
	// stage events and outbox rows as one atomic unit. Implementations
	// without transactions ignore tx.
	AppendIn(ctx context.Context, tx pgx.Tx, events []event.DomainEvent) error

	// NextVersionIn reads head+1 inside an existing transaction.
	NextVersionIn(ctx context.Context, tx pgx.Tx, aggregateID string) (int64, error)

	// GetEventsByAggregate returns the aggregate's full history in version order.
	GetEventsByAggregate(ctx context.Context, aggregateID string) ([]event.DomainEvent, error)

	// GetAllEvents returns every event in the global replay order:
	// timestamp, then aggregate id, then version.
	GetAllEvents(ctx context.Context) ([]event.DomainEvent, error)

	// StreamAll walks the global replay order without materializing it.
	// Returning an error from fn stops the walk.
	StreamAll(ctx context.Context, fn func(event.DomainEvent) error) error

	// NextVersion returns head+1 for the aggregate (1 for a new aggregate).
	NextVersion(ctx context.Context, aggregateID string) (int64, error)
}
