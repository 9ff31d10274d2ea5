package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MemoryStore implements Store in memory with the same claim semantics as
// the Postgres store, including the per-aggregate ordering guard and claim
// exclusivity under concurrent publishers.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *MemoryStore) Add(_ context.Context, _ pgx.Tx, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(entry)
	return nil
}

// AddAll stages a set of entries atomically (the memory stand-in for one
// business transaction inserting several rows).
func (s *MemoryStore) AddAll(entries []*Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.addLocked(e)
	}
}

func (s *MemoryStore) addLocked(entry *Entry) {
	s.nextSeq++
	entry.Seq = s.nextSeq
	cp := *entry
	s.entries[entry.ID] = &cp
}

// Claim takes a contiguous in-order run per aggregate: an entry is blocked
// only while an earlier sibling is processing or waiting out its backoff.
// next_attempt_at is stamped with the claim time for the stuck sweep.
func (s *MemoryStore) Claim(_ context.Context, limit int, now time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []*Entry
	for _, e := range s.entries {
		switch e.Status {
		case StatusPending, StatusProcessing, StatusFailed:
			open = append(open, e)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Seq < open[j].Seq })

	blocked := make(map[string]bool)
	var claimed []Entry
	for _, e := range open {
		if blocked[e.AggregateID] {
			continue
		}
		if e.Status == StatusProcessing || e.NextAttemptAt.After(now) {
			blocked[e.AggregateID] = true
			continue
		}
		if len(claimed) >= limit {
			break
		}
		e.Status = StatusProcessing
		e.NextAttemptAt = now
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, StatusProcessing, func(e *Entry) {
		e.Status = StatusProcessed
		e.ProcessedAt = &at
		e.ErrorMessage = ""
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error {
	return s.update(id, StatusProcessing, func(e *Entry) {
		e.Status = StatusFailed
		e.RetryCount++
		e.ErrorMessage = errMsg
		e.NextAttemptAt = nextAttempt
	})
}

func (s *MemoryStore) Release(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.Status == StatusProcessing {
			e.Status = StatusPending
		}
	}
	return nil
}

func (s *MemoryStore) MarkDeadLetter(_ context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now().UTC()
	return s.update(id, StatusProcessing, func(e *Entry) {
		e.Status = StatusDeadLetter
		e.ErrorMessage = errMsg
		e.ProcessedAt = &now
	})
}

// ResetStuck sweeps processing entries claimed before the cutoff.
func (s *MemoryStore) ResetStuck(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusProcessing && !e.NextAttemptAt.After(olderThan) {
			e.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return *e, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) update(id uuid.UUID, from Status, apply func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.Status != from {
		return ErrTransitionInvalid
	}
	apply(e)
	return nil
}

var _ Store = (*MemoryStore)(nil)
