package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rezaul-kabir/gridbase/libs/db"
	otelx "github.com/rezaul-kabir/gridbase/libs/otel"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

// BusinessOp is a business mutation executed inside the outbox transaction.
type BusinessOp func(ctx context.Context, tx pgx.Tx) error

// EventSource produces the events to stage while inside the outbox
// transaction, for producers that derive event versions at commit time.
type EventSource func(ctx context.Context, tx pgx.Tx) ([]event.DomainEvent, error)

// Runner couples a business mutation with its outbox rows in one atomic unit.
// If anything fails, nothing is persisted and the business error comes back
// unmodified.
type Runner interface {
	ExecuteWithOutbox(ctx context.Context, businessOp BusinessOp, events []event.DomainEvent) error
	ExecuteWithEvents(ctx context.Context, source EventSource) error
}

// PgRunner runs the business op and the outbox inserts in a single Postgres
// transaction. This is the atomicity guarantee the rest of the pipeline
// depends on: a rolled-back mutation leaves no outbox rows behind.
type PgRunner struct {
	pool  *db.Pool
	store Store
}

func NewPgRunner(pool *db.Pool, store Store) *PgRunner {
	return &PgRunner{pool: pool, store: store}
}

func (r *PgRunner) ExecuteWithOutbox(ctx context.Context, businessOp BusinessOp, events []event.DomainEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if businessOp != nil {
		// The business error propagates unmodified; the rollback above
		// discards any partial effects including staged outbox rows.
		if err := businessOp(ctx, tx); err != nil {
			return err
		}
	}

	if err := r.stage(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExecuteWithEvents runs the source inside the outbox transaction and stages
// whatever it returns. A source that reads the event store's head sees it
// consistently with its own append, so two racing commands on one aggregate
// cannot both stage the same version.
func (r *PgRunner) ExecuteWithEvents(ctx context.Context, source EventSource) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events, err := source(ctx, tx)
	if err != nil {
		return err
	}
	if err := r.stage(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PgRunner) stage(ctx context.Context, tx pgx.Tx, events []event.DomainEvent) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	for _, evt := range events {
		entry, err := NewEntry(evt, traceparent, tracestate)
		if err != nil {
			return fmt.Errorf("stage outbox entry %s: %w", evt.EventType, err)
		}
		if err := r.store.Add(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert outbox entry %s: %w", evt.EventType, err)
		}
	}
	return nil
}

// MemoryRunner mirrors the Runner contract for tests: the business op runs
// first and any error prevents all entries from being staged.
type MemoryRunner struct {
	store *MemoryStore
}

func NewMemoryRunner(store *MemoryStore) *MemoryRunner {
	return &MemoryRunner{store: store}
}

func (r *MemoryRunner) ExecuteWithOutbox(ctx context.Context, businessOp BusinessOp, events []event.DomainEvent) error {
	if businessOp != nil {
		if err := businessOp(ctx, nil); err != nil {
			return err
		}
	}
	return r.stage(ctx, events)
}

func (r *MemoryRunner) ExecuteWithEvents(ctx context.Context, source EventSource) error {
	events, err := source(ctx, nil)
	if err != nil {
		return err
	}
	return r.stage(ctx, events)
}

func (r *MemoryRunner) stage(ctx context.Context, events []event.DomainEvent) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	staged := make([]*Entry, 0, len(events))
	for _, evt := range events {
		entry, err := NewEntry(evt, traceparent, tracestate)
		if err != nil {
			return fmt.Errorf("stage outbox entry %s: %w", evt.EventType, err)
		}
		staged = append(staged, entry)
	}
	r.store.AddAll(staged)
	return nil
}

var (
	_ Runner = (*PgRunner)(nil)
	_ Runner = (*MemoryRunner)(nil)
)
