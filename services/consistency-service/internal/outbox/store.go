package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store defines persistence operations for outbox entries.
//
// Claim is the single point of contention between concurrent publisher
// instances: it must atomically move a batch of due pending/failed entries
// to processing so no two workers ever own the same entry, and it must not
// claim an entry while an earlier entry for the same aggregate is still
// unfinished (per-aggregate publish order).
type Store interface {
	// Add inserts an entry inside the caller's transaction. A nil tx is
	// only meaningful for non-transactional implementations (memory store).
	Add(ctx context.Context, tx pgx.Tx, entry *Entry) error

	// Claim atomically transitions up to limit due entries to processing
	// and returns them in per-aggregate creation order.
	Claim(ctx context.Context, limit int, now time.Time) ([]Entry, error)

	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed parks a processing entry for retry: increments the retry
	// count, records the error and sets the next attempt time.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error

	// Release returns claimed entries to pending untouched (retry count and
	// error message unchanged). Used when the circuit breaker is open.
	Release(ctx context.Context, ids []uuid.UUID) error

	MarkDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error

	// ResetStuck returns processing entries older than olderThan to pending.
	// Covers publishers that crashed after claiming.
	ResetStuck(ctx context.Context, olderThan time.Time) (int, error)

	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error)
}
