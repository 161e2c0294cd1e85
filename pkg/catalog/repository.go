package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSystemNotFound is returned when a system id has no catalog record
	ErrSystemNotFound = errors.New("system not found")

	// ErrEndpointNotFound is returned when an endpoint id has no catalog record
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Repository is the read-only view of the catalog service. The CRUD
// administration surface lives elsewhere; the engine only ever reads.
type Repository interface {
	ListSystems(ctx context.Context) ([]System, error)
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
	GetSystem(ctx context.Context, id string) (System, error)
	GetEndpoint(ctx context.Context, id string) (Endpoint, error)
}

// StaticRepository is an in-memory Repository, used for wiring and tests.
// Snapshots are immutable after construction apart from Replace.
type StaticRepository struct {
	mu        sync.RWMutex
	systems   map[string]System
	endpoints map[string]Endpoint
}

// NewStaticRepository builds a repository from catalog snapshots. Endpoints
// that fail validation are skipped with a warning rather than rejecting the
// whole snapshot.
func NewStaticRepository(systems []System, endpoints []Endpoint) *StaticRepository {
	r := &StaticRepository{
		systems:   make(map[string]System, len(systems)),
		endpoints: make(map[string]Endpoint, len(endpoints)),
	}
	r.load(systems, endpoints)
	return r
}

func (r *StaticRepository) load(systems []System, endpoints []Endpoint) {
	for _, s := range systems {
		r.systems[s.ID] = s
	}
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			log.Warn().Err(err).Str("endpoint", e.ID).Msg("Skipping invalid endpoint record")
			continue
		}
		if _, ok := r.systems[e.SystemID]; !ok {
			log.Warn().
				Str("endpoint", e.ID).
				Str("system", e.SystemID).
				Msg("Skipping endpoint with unknown system")
			continue
		}
		r.endpoints[e.ID] = e
	}
}

// Replace swaps the catalog snapshot atomically
func (r *StaticRepository) Replace(systems []System, endpoints []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.systems = make(map[string]System, len(systems))
	r.endpoints = make(map[string]Endpoint, len(endpoints))
	r.load(systems, endpoints)
}

// ListSystems returns all systems ordered by id
func (r *StaticRepository) ListSystems(ctx context.Context) ([]System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]System, 0, len(r.systems))
	for _, s := range r.systems {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListEndpoints returns all endpoints ordered by id
func (r *StaticRepository) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSystem returns a system by id
func (r *StaticRepository) GetSystem(ctx context.Context, id string) (System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.systems[id]
	if !ok {
		return System{}, fmt.Errorf("%w: %s", ErrSystemNotFound, id)
	}
	return s, nil
}

// GetEndpoint returns an endpoint by id
func (r *StaticRepository) GetEndpoint(ctx context.Context, id string) (Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	return e, nil
}
