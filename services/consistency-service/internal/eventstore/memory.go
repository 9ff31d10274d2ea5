package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

// MemoryStore implements Store in memory with the same version-check
// semantics as the Postgres store.
type MemoryStore struct {
	mu         sync.RWMutex
	byAgg      map[string][]event.DomainEvent
	insertions []event.DomainEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAgg: make(map[string][]event.DomainEvent)}
}

func (s *MemoryStore) Append(_ context.Context, events []event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating anything (atomic append).
	staged := make(map[string]int64)
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
		head := int64(len(s.byAgg[evt.AggregateID])) + staged[evt.AggregateID]
		if evt.EventVersion != head+1 {
			if evt.EventVersion <= head && s.sameEventLocked(evt) {
				return fmt.Errorf("%w: %s v%d", ErrDuplicateEvent, evt.AggregateID, evt.EventVersion)
			}
			return fmt.Errorf("%w: aggregate %s head %d, got %d",
				ErrVersionConflict, evt.AggregateID, head, evt.EventVersion)
		}
		staged[evt.AggregateID]++
	}

	for _, evt := range events {
		s.byAgg[evt.AggregateID] = append(s.byAgg[evt.AggregateID], evt)
		s.insertions = append(s.insertions, evt)
	}
	return nil
}

func (s *MemoryStore) sameEventLocked(evt event.DomainEvent) bool {
	history := s.byAgg[evt.AggregateID]
	idx := evt.EventVersion - 1
	if idx < 0 || idx >= int64(len(history)) {
		return false
	}
	return history[idx].ID == evt.ID
}

func (s *MemoryStore) GetEventsByAggregate(_ context.Context, aggregateID string) ([]event.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.byAgg[aggregateID]
	out := make([]event.DomainEvent, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) GetAllEvents(_ context.Context) ([]event.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.DomainEvent, len(s.insertions))
	copy(out, s.insertions)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].AggregateID != out[j].AggregateID {
			return out[i].AggregateID < out[j].AggregateID
		}
		return out[i].EventVersion < out[j].EventVersion
	})
	return out, nil
}

func (s *MemoryStore) StreamAll(ctx context.Context, fn func(event.DomainEvent) error) error {
	events, err := s.GetAllEvents(ctx)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := fn(evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) NextVersion(_ context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byAgg[aggregateID])) + 1, nil
}

func (s *MemoryStore) AppendIn(ctx context.Context, _ pgx.Tx, events []event.DomainEvent) error {
	return s.Append(ctx, events)
}

func (s *MemoryStore) NextVersionIn(ctx context.Context, _ pgx.Tx, aggregateID string) (int64, error) {
	return s.NextVersion(ctx, aggregateID)
}

var _ Store = (*MemoryStore)(nil)
