package projection

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryState struct {
	tenantID string
	state    []byte
}

// MemoryStateStore is an in-process StateStore used by tests and local runs.
type MemoryStateStore struct {
	mu          sync.RWMutex
	states      map[string]map[string]memoryState // projection -> key
	checkpoints map[string]map[string]int64       // projection -> aggregate id
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states:      make(map[string]map[string]memoryState),
		checkpoints: make(map[string]map[string]int64),
	}
}

func (s *MemoryStateStore) Get(_ context.Context, projection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[projection][key]
	if !ok {
		return nil, ErrStateNotFound
	}
	out := make([]byte, len(st.state))
	copy(out, st.state)
	return out, nil
}

func (s *MemoryStateStore) Put(_ context.Context, projection, key, tenantID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[projection] == nil {
		s.states[projection] = make(map[string]memoryState)
	}
	cp := make([]byte, len(state))
	copy(cp, state)
	s.states[projection][key] = memoryState{tenantID: tenantID, state: cp}
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, projection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states[projection], key)
	return nil
}

func (s *MemoryStateStore) DeleteAll(_ context.Context, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, projection)
	return nil
}

func (s *MemoryStateStore) Search(_ context.Context, projection, tenantID, term string) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(term)
	var hits []SearchHit
	for key, st := range s.states[projection] {
		if st.tenantID != tenantID {
			continue
		}
		if !strings.Contains(strings.ToLower(string(st.state)), needle) {
			continue
		}
		out := make([]byte, len(st.state))
		copy(out, st.state)
		hits = append(hits, SearchHit{Key: key, State: out})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Key < hits[j].Key })
	return hits, nil
}

func (s *MemoryStateStore) LastVersion(_ context.Context, projection, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkpoints[projection][aggregateID], nil
}

func (s *MemoryStateStore) SetLastVersion(_ context.Context, projection, aggregateID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[projection] == nil {
		s.checkpoints[projection] = make(map[string]int64)
	}
	s.checkpoints[projection][aggregateID] = version
	return nil
}

func (s *MemoryStateStore) ClearCheckpoints(_ context.Context, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, projection)
	return nil
}
