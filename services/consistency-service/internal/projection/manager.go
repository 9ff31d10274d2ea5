package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/eventstore"
)

const defaultWorkers = 4

// Status describes whether a projection is serving live updates and whether
// a rebuild is in flight.
type Status struct {
	Live       bool
	Rebuilding bool
	Pending    int64
	Applied    int64
}

type registration struct {
	projection Projection
	types      map[string]struct{}

	// rebuildMu is held for writing during Clear/Rebuild and for reading
	// by every worker apply, so a rebuild never interleaves with live
	// updates for the same projection.
	rebuildMu  sync.RWMutex
	rebuilding atomic.Bool
	pending    atomic.Int64
	applied    atomic.Int64
}

type task struct {
	reg *registration
	evt event.DomainEvent
}

// Manager owns the worker pool that feeds registered projections. Events are
// routed to a worker by fnv32a(aggregateID) % workers, which keeps updates
// for one aggregate on a single goroutine.
type Manager struct {
	store   StateStore
	events  eventstore.Store
	logger  *slog.Logger
	workers int

	mu            sync.RWMutex
	registrations map[string]*registration
	queues        []chan task
	started       bool
	stopped       bool
	wg            sync.WaitGroup
}

func NewManager(store StateStore, events eventstore.Store, logger *slog.Logger, workers int) *Manager {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Manager{
		store:         store,
		events:        events,
		logger:        logger,
		workers:       workers,
		registrations: make(map[string]*registration),
	}
}

// Register adds a projection. Must be called before Start.
func (m *Manager) Register(p Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[string]struct{}, len(p.EventTypes()))
	for _, t := range p.EventTypes() {
		types[t] = struct{}{}
	}
	m.registrations[p.Name()] = &registration{projection: p, types: types}
}

// Names lists the registered projections.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.registrations))
	for name := range m.registrations {
		names = append(names, name)
	}
	return names
}

// Start launches the workers. Events enqueued before Start are rejected.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.queues = make([]chan task, m.workers)
	for i := range m.queues {
		m.queues[i] = make(chan task, 256)
		m.wg.Add(1)
		go m.worker(m.queues[i])
	}
	m.started = true
}

// Stop drains the queues and waits for in-flight applies to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.stopped = true
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, q := range m.queues {
		close(q)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) worker(queue <-chan task) {
	defer m.wg.Done()
	for t := range queue {
		m.process(t)
	}
}

func (m *Manager) process(t task) {
	defer t.reg.pending.Add(-1)

	t.reg.rebuildMu.RLock()
	defer t.reg.rebuildMu.RUnlock()

	if err := m.applyOne(context.Background(), t.reg, t.evt); err != nil {
		m.logger.Warn("projection apply failed",
			"projection", t.reg.projection.Name(),
			"event_id", t.evt.ID,
			"event_type", t.evt.EventType,
			"aggregate_id", t.evt.AggregateID,
			"error", err,
		)
	}
}

// ApplyEvent routes evt to the worker that owns its aggregate. Events whose
// type the projection does not consume are dropped without queueing. The
// apply itself is asynchronous; WaitForProjectionSync observes completion.
func (m *Manager) ApplyEvent(_ context.Context, name string, evt event.DomainEvent) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if !m.started {
		return ErrManagerNotStarted
	}
	reg, ok := m.registrations[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectionUnknown, name)
	}
	if _, consumed := reg.types[evt.EventType]; !consumed {
		return nil
	}

	reg.pending.Add(1)
	m.queues[m.partition(evt.AggregateID)] <- task{reg: reg, evt: evt}
	return nil
}

func (m *Manager) partition(aggregateID string) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(m.workers))
}

// applyOne enforces per-aggregate version ordering before folding the event:
// versions at or below the checkpoint are duplicates and skipped, versions
// beyond checkpoint+1 are gaps and rejected.
func (m *Manager) applyOne(ctx context.Context, reg *registration, evt event.DomainEvent) error {
	name := reg.projection.Name()

	last, err := m.store.LastVersion(ctx, name, evt.AggregateID)
	if err != nil {
		return err
	}
	if evt.EventVersion <= last {
		return nil
	}
	if evt.EventVersion != last+1 {
		return fmt.Errorf("%w: aggregate %s version %d after %d",
			ErrEventOutOfOrder, evt.AggregateID, evt.EventVersion, last)
	}

	state, err := m.store.Get(ctx, name, evt.AggregateID)
	if errors.Is(err, ErrStateNotFound) {
		state = reg.projection.Init()
	} else if err != nil {
		return err
	}

	next, err := reg.projection.Apply(state, evt)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, name, evt.AggregateID, evt.TenantID, next); err != nil {
		return err
	}
	if err := m.store.SetLastVersion(ctx, name, evt.AggregateID, evt.EventVersion); err != nil {
		return err
	}
	reg.applied.Add(1)
	return nil
}

// ClearProjection wipes state and checkpoints. Queued events for the
// projection apply afterwards against empty state.
func (m *Manager) ClearProjection(ctx context.Context, name string) error {
	reg, err := m.registration(name)
	if err != nil {
		return err
	}

	reg.rebuildMu.Lock()
	defer reg.rebuildMu.Unlock()

	return m.clearLocked(ctx, name)
}

func (m *Manager) clearLocked(ctx context.Context, name string) error {
	if err := m.store.DeleteAll(ctx, name); err != nil {
		return err
	}
	return m.store.ClearCheckpoints(ctx, name)
}

// RebuildProjection clears the projection and replays the full event stream
// through its reducer. Live updates for the projection are blocked until the
// replay finishes, so the rebuilt state is exactly the fold of the stream.
func (m *Manager) RebuildProjection(ctx context.Context, name string) error {
	reg, err := m.registration(name)
	if err != nil {
		return err
	}

	reg.rebuildMu.Lock()
	defer reg.rebuildMu.Unlock()

	reg.rebuilding.Store(true)
	defer reg.rebuilding.Store(false)

	started := time.Now()
	if err := m.clearLocked(ctx, name); err != nil {
		return fmt.Errorf("rebuild %s: clear: %w", name, err)
	}

	replayed := 0
	err = m.events.StreamAll(ctx, func(evt event.DomainEvent) error {
		if _, consumed := reg.types[evt.EventType]; !consumed {
			return nil
		}
		replayed++
		return m.applyOne(ctx, reg, evt)
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", name, err)
	}

	m.logger.Info("projection rebuilt",
		"projection", name,
		"events_replayed", replayed,
		"duration", time.Since(started),
	)
	return nil
}

// Status reports liveness and rebuild state for a projection.
func (m *Manager) Status(name string) (Status, error) {
	m.mu.RLock()
	live := m.started && !m.stopped
	m.mu.RUnlock()

	reg, err := m.registration(name)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Live:       live,
		Rebuilding: reg.rebuilding.Load(),
		Pending:    reg.pending.Load(),
		Applied:    reg.applied.Load(),
	}, nil
}

// WaitForProjectionSync blocks until the projection has no queued or
// in-flight events and no rebuild running, or until the timeout or ctx
// expires. It reports whether the projection drained in time.
func (m *Manager) WaitForProjectionSync(ctx context.Context, name string, timeout time.Duration) bool {
	reg, err := m.registration(name)
	if err != nil {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		if reg.pending.Load() == 0 && !reg.rebuilding.Load() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

func (m *Manager) registration(name string) (*registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.registrations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectionUnknown, name)
	}
	return reg, nil
}
