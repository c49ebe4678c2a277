package profile

import (
	"context"
	"sync"

	"fundgate/internal/verification"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

// InMemory keeps verification profiles in process memory. Execute holds
// the write lock across validate and mutate, which gives the same
// one-winner guarantee the Postgres store gets from row locks.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.UserID]*verification.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{
		profiles: make(map[id.UserID]*verification.Profile),
	}
}

func (s *InMemory) Create(ctx context.Context, profile *verification.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[profile.UserID]; exists {
		return sentinel.ErrConflict
	}
	copied := *profile
	s.profiles[profile.UserID] = &copied
	return nil
}

func (s *InMemory) FindByUserID(ctx context.Context, userID id.UserID) (*verification.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

func (s *InMemory) FindByProcessID(ctx context.Context, processID string) (*verification.Profile, error) {
	if processID == "" {
		return nil, sentinel.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, profile := range s.profiles {
		if profile.ProviderProcessID == processID {
			copied := *profile
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Execute(ctx context.Context, userID id.UserID, validate func(*verification.Profile) error, mutate func(*verification.Profile)) (*verification.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(profile); err != nil {
		return nil, err
	}
	mutate(profile)
	copied := *profile
	return &copied, nil
}
