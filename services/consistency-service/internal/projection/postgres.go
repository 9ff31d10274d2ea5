package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rezaul-kabir/gridbase/libs/db"
)

// PostgresStateStore keeps projection state in projection_state and
// checkpoints in projection_checkpoints.
type PostgresStateStore struct {
	pool *db.Pool
}

func NewPostgresStateStore(pool *db.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

func (s *PostgresStateStore) Get(ctx context.Context, projection, key string) ([]byte, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM projection_state WHERE projection = $1 AND key = $2`,
		projection, key,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get projection state: %w", err)
	}
	return state, nil
}

func (s *PostgresStateStore) Put(ctx context.Context, projection, key, tenantID string, state []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projection_state (projection, key, tenant_id, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (projection, key)
		DO UPDATE SET state = EXCLUDED.state, tenant_id = EXCLUDED.tenant_id, updated_at = now()`,
		projection, key, tenantID, state,
	)
	if err != nil {
		return fmt.Errorf("put projection state: %w", err)
	}
	return nil
}

func (s *PostgresStateStore) Delete(ctx context.Context, projection, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM projection_state WHERE projection = $1 AND key = $2`,
		projection, key,
	)
	if err != nil {
		return fmt.Errorf("delete projection state: %w", err)
	}
	return nil
}

func (s *PostgresStateStore) DeleteAll(ctx context.Context, projection string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM projection_state WHERE projection = $1`, projection,
	)
	if err != nil {
		return fmt.Errorf("clear projection state: %w", err)
	}
	return nil
}

func (s *PostgresStateStore) Search(ctx context.Context, projection, tenantID, term string) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, state FROM projection_state
		WHERE projection = $1 AND tenant_id = $2 AND state::text ILIKE '%' || $3 || '%'
		ORDER BY key`,
		projection, tenantID, term,
	)
	if err != nil {
		return nil, fmt.Errorf("search projection state: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Key, &h.State); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PostgresStateStore) LastVersion(ctx context.Context, projection, aggregateID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_version FROM projection_checkpoints
		WHERE projection = $1 AND aggregate_id = $2`,
		projection, aggregateID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return version, nil
}

func (s *PostgresStateStore) SetLastVersion(ctx context.Context, projection, aggregateID string, version int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projection_checkpoints (projection, aggregate_id, last_version, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (projection, aggregate_id)
		DO UPDATE SET last_version = EXCLUDED.last_version, updated_at = now()`,
		projection, aggregateID, version,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStateStore) ClearCheckpoints(ctx context.Context, projection string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM projection_checkpoints WHERE projection = $1`, projection,
	)
	if err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
