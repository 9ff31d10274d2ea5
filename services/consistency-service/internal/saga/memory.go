package saga

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs. Instances
// are deep-copied through JSON on the way in and out so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[uuid.UUID]*Instance)}
}

func (s *MemoryStore) Save(_ context.Context, inst *Instance) error {
	cp, err := copyInstance(inst)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return copyInstance(inst)
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Instance, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Instance
	for _, inst := range s.instances {
		if _, ok := wanted[inst.Status]; !ok {
			continue
		}
		cp, err := copyInstance(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func copyInstance(inst *Instance) (*Instance, error) {
	raw, err := json.Marshal(inst)
	if err != nil {
		return nil, err
	}
	var cp Instance
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
