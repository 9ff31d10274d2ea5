package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezaul-kabir/gridbase/libs/db"
)

const pgUniqueViolation = "23505"

// PostgresRepository records seen events in inbox_events. The primary key on
// event_id makes the duplicate check a single insert.
type PostgresRepository struct {
	pool *db.Pool
}

func NewPostgresRepository(pool *db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) MarkSeen(ctx context.Context, eventID uuid.UUID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type, received_at)
		VALUES ($1, $2, now())`,
		eventID, eventType,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("record inbox event: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) Forget(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM inbox_events WHERE event_id = $1`, eventID,
	)
	if err != nil {
		return fmt.Errorf("forget inbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM inbox_events WHERE received_at < $1`, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("purge inbox: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
