package event

import (
	"context"
	"sync"

	"fundgate/internal/integration"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

// InMemory keeps integration events in a map guarded by a mutex. The mutex
// is held across Execute's validate and mutate callbacks, giving the same
// atomic validate-then-mutate guarantee the Postgres store gets from
// SELECT ... FOR UPDATE.
type InMemory struct {
	mu     sync.RWMutex
	events map[id.EventID]*integration.Event
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[id.EventID]*integration.Event)}
}

func (s *InMemory) Create(_ context.Context, event *integration.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, eventID id.EventID) (*integration.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (s *InMemory) FindByProviderProcessID(_ context.Context, processID string) (*integration.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stored := range s.events {
		if stored.ProviderProcessID != "" && stored.ProviderProcessID == processID {
			cp := *stored
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByStatus(_ context.Context, status integration.Status, limit int) ([]*integration.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*integration.Event
	for _, stored := range s.events {
		if stored.Status != status {
			continue
		}
		cp := *stored
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Execute atomically runs validate against the current event and, when it
// passes, applies mutate. Only one concurrent caller can win a transition.
func (s *InMemory) Execute(_ context.Context, eventID id.EventID, validate func(*integration.Event) error, mutate func(*integration.Event)) (*integration.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(stored); err != nil {
		return nil, err
	}
	mutate(stored)
	cp := *stored
	return &cp, nil
}
