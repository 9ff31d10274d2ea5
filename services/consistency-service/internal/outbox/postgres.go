package outbox

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rezaul-kabir/gridbase/libs/db"
)

// PostgresStore implements Store on the outbox_entries table.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const entryColumns = `id, seq, aggregate_id, aggregate_type, event_type, tenant_id, payload,
	traceparent, tracestate, status, retry_count, next_attempt_at, created_at, processed_at, error_message`

func (s *PostgresStore) Add(ctx context.Context, tx pgx.Tx, entry *Entry) error {
	if tx == nil {
		return errors.New("outbox insert requires the business transaction")
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO outbox_entries
			(id, aggregate_id, aggregate_type, event_type, tenant_id, payload,
			 traceparent, tracestate, status, retry_count, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`, entry.ID, entry.AggregateID, entry.AggregateType, entry.EventType, entry.TenantID,
		entry.Payload, entry.Traceparent, entry.Tracestate, string(entry.Status),
		entry.RetryCount, entry.NextAttemptAt, entry.CreatedAt)
	return row.Scan(&entry.Seq)
}

// Claim uses SKIP LOCKED so concurrent publishers never double-claim. The
// NOT EXISTS guard blocks an entry only while an earlier sibling is held by
// another publisher or waiting out its backoff; earlier siblings that are due
// in the same pass join the claim, so one pass takes a contiguous in-order
// run of each aggregate. next_attempt_at is stamped with the claim time; the
// stuck sweep keys on it as the visibility deadline.
func (s *PostgresStore) Claim(ctx context.Context, limit int, now time.Time) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_entries
		SET status = $3, next_attempt_at = $2
		WHERE id IN (
			SELECT o.id
			FROM outbox_entries o
			WHERE o.status IN ($4, $5)
			  AND o.next_attempt_at <= $2
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_entries prior
				WHERE prior.aggregate_id = o.aggregate_id
				  AND prior.seq < o.seq
				  AND prior.status IN ($4, $5, $3)
				  AND (prior.status = $3 OR prior.next_attempt_at > $2)
			  )
			ORDER BY o.seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns+`
	`, limit, now, string(StatusProcessing), string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not guarantee order; restore claim order.
	sortBySeq(entries)
	return entries, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(ctx, `
		UPDATE outbox_entries
		SET status = $2, processed_at = $3, error_message = ''
		WHERE id = $1 AND status = $4
	`, id, string(StatusProcessed), at, string(StatusProcessing))
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error {
	return s.transition(ctx, `
		UPDATE outbox_entries
		SET status = $2, retry_count = retry_count + 1, error_message = $3, next_attempt_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(StatusFailed), errMsg, nextAttempt, string(StatusProcessing))
}

func (s *PostgresStore) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries
		SET status = $2
		WHERE id = ANY($1) AND status = $3
	`, ids, string(StatusPending), string(StatusProcessing))
	return err
}

func (s *PostgresStore) MarkDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.transition(ctx, `
		UPDATE outbox_entries
		SET status = $2, error_message = $3, processed_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(StatusDeadLetter), errMsg, time.Now().UTC(), string(StatusProcessing))
}

// ResetStuck sweeps processing entries whose claim-time stamp is older than
// the cutoff, so only claims abandoned past the visibility timeout are reset.
func (s *PostgresStore) ResetStuck(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries
		SET status = $1
		WHERE status = $2 AND next_attempt_at <= $3
	`, string(StatusPending), string(StatusProcessing), olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM outbox_entries
		WHERE id = $1
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return entry, err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM outbox_entries
		WHERE status = $1
		ORDER BY seq
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransitionInvalid
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var status string
	if err := row.Scan(&e.ID, &e.Seq, &e.AggregateID, &e.AggregateType, &e.EventType,
		&e.TenantID, &e.Payload, &e.Traceparent, &e.Tracestate, &status,
		&e.RetryCount, &e.NextAttemptAt, &e.CreatedAt, &e.ProcessedAt, &e.ErrorMessage); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func sortBySeq(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}
