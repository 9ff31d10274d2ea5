package saga

import (
	"context"

	"github.com/google/uuid"
)

// Store persists saga instances. Save upserts the full instance; the
// orchestrator saves after every step so recovery sees the latest progress.
type Store interface {
	Save(ctx context.Context, inst *Instance) error
	// Get returns the instance or ErrInstanceNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Instance, error)
	// ListByStatus returns instances in any of the given statuses, oldest
	// first. The recovery scan uses it to find interrupted instances.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Instance, error)
}
