package app

import (
	"context"
	"sort"
	"sync"

	"fundgate/internal/application"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

// InMemory keeps applications in process memory. Execute holds the write
// lock across validate and mutate, mirroring the row-lock guarantee of the
// Postgres store.
type InMemory struct {
	mu   sync.RWMutex
	apps map[id.ApplicationID]*application.Application
}

func NewInMemory() *InMemory {
	return &InMemory{
		apps: make(map[id.ApplicationID]*application.Application),
	}
}

func (s *InMemory) Create(ctx context.Context, app *application.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[app.ID]; exists {
		return sentinel.ErrConflict
	}
	s.apps[app.ID] = copyApp(app)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, appID id.ApplicationID) (*application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[appID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyApp(app), nil
}

func (s *InMemory) ListByDeveloper(ctx context.Context, developerID id.UserID) ([]*application.Application, error) {
	return s.list(func(a *application.Application) bool {
		return a.DeveloperID == developerID
	})
}

func (s *InMemory) ListByBroker(ctx context.Context, brokerID id.UserID) ([]*application.Application, error) {
	return s.list(func(a *application.Application) bool {
		return !a.AssignedBrokerID.IsNil() && a.AssignedBrokerID == brokerID
	})
}

func (s *InMemory) list(match func(*application.Application) bool) ([]*application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*application.Application
	for _, app := range s.apps {
		if match(app) {
			out = append(out, copyApp(app))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Execute(ctx context.Context, appID id.ApplicationID, validate func(*application.Application) error, mutate func(*application.Application)) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[appID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(app); err != nil {
		return nil, err
	}
	mutate(app)
	return copyApp(app), nil
}

func copyApp(app *application.Application) *application.Application {
	copied := *app
	copied.Timeline = append([]application.TimelineEntry(nil), app.Timeline...)
	return &copied
}
