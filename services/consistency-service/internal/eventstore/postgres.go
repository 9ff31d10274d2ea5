package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rezaul-kabir/gridbase/libs/db"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on the domain_events table. Invariant
// enforcement is layered: the head check inside the append transaction
// catches gaps, and the UNIQUE (aggregate_id, event_version) constraint
// catches concurrent writers that raced past the check.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const eventColumns = `event_id, aggregate_id, aggregate_type, event_type, event_version,
	payload, metadata, tenant_id, correlation_id, causation_id, occurred_at`

func (s *PostgresStore) Append(ctx context.Context, events []event.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.AppendIn(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AppendIn(ctx context.Context, tx pgx.Tx, events []event.DomainEvent) error {
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
		if err := s.appendOne(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) NextVersionIn(ctx context.Context, tx pgx.Tx, aggregateID string) (int64, error) {
	var head int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(event_version), 0)
		FROM domain_events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&head)
	if err != nil {
		return 0, err
	}
	return head + 1, nil
}

func (s *PostgresStore) appendOne(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) error {
	var head int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(event_version), 0)
		FROM domain_events
		WHERE aggregate_id = $1
	`, evt.AggregateID).Scan(&head); err != nil {
		return err
	}
	if evt.EventVersion != head+1 {
		if evt.EventVersion <= head {
			exists, err := s.sameEventExists(ctx, tx, evt)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s v%d", ErrDuplicateEvent, evt.AggregateID, evt.EventVersion)
			}
		}
		return fmt.Errorf("%w: aggregate %s head %d, got %d",
			ErrVersionConflict, evt.AggregateID, head, evt.EventVersion)
	}

	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO domain_events
			(`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, evt.ID, evt.AggregateID, evt.AggregateType, evt.EventType, evt.EventVersion,
		evt.Payload, metadata, evt.TenantID, evt.CorrelationID, evt.CausationID, evt.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: aggregate %s version %d (concurrent writer)",
				ErrVersionConflict, evt.AggregateID, evt.EventVersion)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) sameEventExists(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM domain_events
			WHERE aggregate_id = $1 AND event_version = $2 AND event_id = $3
		)
	`, evt.AggregateID, evt.EventVersion, evt.ID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetEventsByAggregate(ctx context.Context, aggregateID string) ([]event.DomainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM domain_events
		WHERE aggregate_id = $1
		ORDER BY event_version
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) GetAllEvents(ctx context.Context) ([]event.DomainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM domain_events
		ORDER BY occurred_at, aggregate_id, event_version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) StreamAll(ctx context.Context, fn func(event.DomainEvent) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM domain_events
		ORDER BY occurred_at, aggregate_id, event_version
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) NextVersion(ctx context.Context, aggregateID string) (int64, error) {
	var head int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(event_version), 0)
		FROM domain_events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&head)
	if err != nil {
		return 0, err
	}
	return head + 1, nil
}

func scanEvent(rows pgx.Rows) (event.DomainEvent, error) {
	var evt event.DomainEvent
	var metadata []byte
	if err := rows.Scan(&evt.ID, &evt.AggregateID, &evt.AggregateType, &evt.EventType,
		&evt.EventVersion, &evt.Payload, &metadata, &evt.TenantID,
		&evt.CorrelationID, &evt.CausationID, &evt.Timestamp); err != nil {
		return event.DomainEvent{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
			return event.DomainEvent{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return evt, nil
}

func scanEvents(rows pgx.Rows) ([]event.DomainEvent, error) {
	var events []event.DomainEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
