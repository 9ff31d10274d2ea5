// Package query is the read surface. It serves projection state with a
// Redis cache in front of the state store and knows when a projection is
// rebuilding, so callers can choose between waiting for fresh state and
// accepting a stale answer.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/projection"
)

var ErrViewNotFound = errors.New("query: view not found")

const defaultSyncWait = 5 * time.Second

// View is one read-model row as served to clients.
type View struct {
	Projection string          `json:"projection"`
	Key        string          `json:"key"`
	State      json.RawMessage `json:"state"`
	// Stale is set when the projection was rebuilding and the caller
	// asked not to wait.
	Stale bool `json:"stale,omitempty"`
}

// Result is one search hit.
type Result struct {
	Key   string          `json:"key"`
	State json.RawMessage `json:"state"`
}

type Service struct {
	states   projection.StateStore
	manager  *projection.Manager
	rdb      *redis.Client
	cacheTTL time.Duration
	syncWait time.Duration
	logger   *slog.Logger
}

func NewService(
	states projection.StateStore,
	manager *projection.Manager,
	rdb *redis.Client,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		states:   states,
		manager:  manager,
		rdb:      rdb,
		cacheTTL: cacheTTL,
		syncWait: defaultSyncWait,
		logger:   logger,
	}
}

func cacheKey(projectionName, key string) string {
	return fmt.Sprintf("view:%s:%s", projectionName, key)
}

// GetView returns the state for key. While the projection is rebuilding,
// block=true waits for the rebuild to finish and block=false answers from
// the current store marked Stale. Cache errors fall through to the store;
// the cache is an optimization, never a source of truth.
func (s *Service) GetView(ctx context.Context, projectionName, key string, block bool) (View, error) {
	status, err := s.manager.Status(projectionName)
	if err != nil {
		return View{}, err
	}

	if status.Rebuilding {
		if !block {
			return s.fromStore(ctx, projectionName, key, true)
		}
		if !s.manager.WaitForProjectionSync(ctx, projectionName, s.syncWait) {
			// Still rebuilding after the wait budget; answer stale
			// rather than erroring.
			return s.fromStore(ctx, projectionName, key, true)
		}
	}

	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, cacheKey(projectionName, key)).Bytes()
		if err == nil {
			return View{Projection: projectionName, Key: key, State: cached}, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("view cache read failed", "projection", projectionName, "error", err)
		}
	}

	view, err := s.fromStore(ctx, projectionName, key, false)
	if err != nil {
		return View{}, err
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, cacheKey(projectionName, key), []byte(view.State), s.cacheTTL).Err(); err != nil {
			s.logger.Warn("view cache write failed", "projection", projectionName, "error", err)
		}
	}
	return view, nil
}

func (s *Service) fromStore(ctx context.Context, projectionName, key string, stale bool) (View, error) {
	state, err := s.states.Get(ctx, projectionName, key)
	if errors.Is(err, projection.ErrStateNotFound) {
		return View{}, fmt.Errorf("%w: %s/%s", ErrViewNotFound, projectionName, key)
	}
	if err != nil {
		return View{}, err
	}
	return View{Projection: projectionName, Key: key, State: state, Stale: stale}, nil
}

// InvalidateView drops the cached copy after a write path knows it changed.
func (s *Service) InvalidateView(ctx context.Context, projectionName, key string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, cacheKey(projectionName, key)).Err()
}

// Search scans view state under the tenant for the term. Uncached; search
// results change with every event and the store query is already bounded by
// tenant.
func (s *Service) Search(ctx context.Context, projectionName, tenantID, term string) ([]Result, error) {
	hits, err := s.states.Search(ctx, projectionName, tenantID, term)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Key: h.Key, State: h.State}
	}
	return results, nil
}
