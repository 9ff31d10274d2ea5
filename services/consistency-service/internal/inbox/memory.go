package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{seen: make(map[uuid.UUID]time.Time)}
}

func (r *MemoryRepository) MarkSeen(_ context.Context, eventID uuid.UUID, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[eventID]; dup {
		return false, nil
	}
	r.seen[eventID] = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) Forget(_ context.Context, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, eventID)
	return nil
}

func (r *MemoryRepository) Purge(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, at := range r.seen {
		if at.Before(olderThan) {
			delete(r.seen, id)
			removed++
		}
	}
	return removed, nil
}
