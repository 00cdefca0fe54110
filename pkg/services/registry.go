package services

import (
	"context"
	"fmt"
	"sync"
)

// CoordinatorFactory builds the coordinator for one session context.
type CoordinatorFactory func(sessionID, ownerID string) *TurnCoordinator

// CoordinatorRegistry hands out one TurnCoordinator per session. The
// coordinator is constructed once and reused, so the in-flight flag and
// throttle state survive across requests for the same session.
type CoordinatorRegistry struct {
	factory CoordinatorFactory

	mu           sync.Mutex
	coordinators map[string]*TurnCoordinator
}

func NewCoordinatorRegistry(factory CoordinatorFactory) *CoordinatorRegistry {
	return &CoordinatorRegistry{
		factory:      factory,
		coordinators: make(map[string]*TurnCoordinator),
	}
}

func (r *CoordinatorRegistry) For(ctx context.Context, sessionID, ownerID string) (*TurnCoordinator, error) {
	r.mu.Lock()
	coordinator, ok := r.coordinators[sessionID]
	r.mu.Unlock()
	if ok {
		return coordinator, nil
	}

	coordinator = r.factory(sessionID, ownerID)
	if err := coordinator.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading coordinator: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.coordinators[sessionID]; ok {
		return existing, nil
	}
	r.coordinators[sessionID] = coordinator
	return coordinator, nil
}

// Evict drops a session's coordinator, e.g. after the session is deleted.
func (r *CoordinatorRegistry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coordinators, sessionID)
}
