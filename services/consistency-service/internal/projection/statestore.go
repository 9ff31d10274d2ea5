package projection

import "context"

// SearchHit is one read-model row matched by a state search.
type SearchHit struct {
	Key   string
	State []byte
}

// StateStore persists projection state and per-aggregate checkpoints. The
// checkpoint records the last event version applied for each aggregate; the
// Manager uses it to drop duplicates and detect version gaps.
type StateStore interface {
	// Get returns the state for key, or ErrStateNotFound.
	Get(ctx context.Context, projection, key string) ([]byte, error)
	// Put upserts the state for key. tenantID scopes Search.
	Put(ctx context.Context, projection, key, tenantID string, state []byte) error
	// Delete removes the state for key. Missing keys are not an error.
	Delete(ctx context.Context, projection, key string) error
	// DeleteAll wipes every state row for the projection.
	DeleteAll(ctx context.Context, projection string) error
	// Search returns states under the tenant whose serialized form
	// contains term, ordered by key.
	Search(ctx context.Context, projection, tenantID, term string) ([]SearchHit, error)

	// LastVersion returns the last applied event version for the
	// aggregate, or 0 when nothing has been applied.
	LastVersion(ctx context.Context, projection, aggregateID string) (int64, error)
	// SetLastVersion records version as applied for the aggregate.
	SetLastVersion(ctx context.Context, projection, aggregateID string, version int64) error
	// ClearCheckpoints wipes every checkpoint row for the projection.
	ClearCheckpoints(ctx context.Context, projection string) error
}
