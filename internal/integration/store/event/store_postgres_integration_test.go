//go:build integration

package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/integration"
	"fundgate/internal/integration/store/event"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *event.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = event.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.postgres.Truncate(s.T(), "integration_events")
}

func newTestEvent(status integration.Status) *integration.Event {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &integration.Event{
		ID:          id.NewEventID(),
		SubjectType: integration.SubjectVerificationProfile,
		SubjectID:   id.NewUserID().String(),
		Target:      integration.TargetCredasProcess,
		Status:      status,
		Payload: integration.Payload{
			CredasProcess: &integration.CredasProcessPayload{
				JourneyID: "journey-1",
				Title:     "Verification - Ada Lovelace",
				Email:     "ada@example.com",
				FirstName: "Ada",
				Surname:   "Lovelace",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFindRoundTrip() {
	ctx := context.Background()
	ev := newTestEvent(integration.StatusQueued)

	s.Require().NoError(s.store.Create(ctx, ev))

	found, err := s.store.FindByID(ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(ev.ID, found.ID)
	s.Equal(integration.StatusQueued, found.Status)
	s.Equal(ev.SubjectID, found.SubjectID)
	s.Empty(found.ProviderProcessID)
	s.Nil(found.LastAttemptedAt)
	s.Require().NotNil(found.Payload.CredasProcess)
	s.Equal("ada@example.com", found.Payload.CredasProcess.Email)
}

func (s *PostgresStoreSuite) TestFindByProviderProcessID() {
	ctx := context.Background()
	ev := newTestEvent(integration.StatusQueued)
	s.Require().NoError(s.store.Create(ctx, ev))

	// Empty process ids must never match each other.
	other := newTestEvent(integration.StatusQueued)
	s.Require().NoError(s.store.Create(ctx, other))

	now := time.Now().UTC()
	_, err := s.store.Execute(ctx, ev.ID,
		func(*integration.Event) error { return nil },
		func(e *integration.Event) {
			e.ApplySent("proc-123", json.RawMessage(`{"id":"proc-123"}`), now)
		},
	)
	s.Require().NoError(err)

	found, err := s.store.FindByProviderProcessID(ctx, "proc-123")
	s.Require().NoError(err)
	s.Equal(ev.ID, found.ID)
	s.Equal(integration.StatusSent, found.Status)
	s.Require().NotNil(found.LastAttemptedAt)
	s.JSONEq(`{"id":"proc-123"}`, string(found.Response))

	_, err = s.store.FindByProviderProcessID(ctx, "proc-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListByStatusOrdersNewestFirst() {
	ctx := context.Background()

	var failed []*integration.Event
	for i := 0; i < 3; i++ {
		ev := newTestEvent(integration.StatusFailed)
		ev.CreatedAt = ev.CreatedAt.Add(time.Duration(i) * time.Second)
		s.Require().NoError(s.store.Create(ctx, ev))
		failed = append(failed, ev)
	}
	s.Require().NoError(s.store.Create(ctx, newTestEvent(integration.StatusSent)))

	events, err := s.store.ListByStatus(ctx, integration.StatusFailed, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(failed[2].ID, events[0].ID)
	s.Equal(failed[0].ID, events[2].ID)

	events, err = s.store.ListByStatus(ctx, integration.StatusFailed, 2)
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *PostgresStoreSuite) TestExecuteNotFound() {
	_, err := s.store.Execute(context.Background(), id.NewEventID(),
		func(*integration.Event) error { return nil },
		func(*integration.Event) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentResendSerializes verifies that FOR UPDATE serializes the
// failed -> resent transition: with a cap of 1 exactly one goroutine wins.
func (s *PostgresStoreSuite) TestConcurrentResendSerializes() {
	ctx := context.Background()
	ev := newTestEvent(integration.StatusFailed)
	s.Require().NoError(s.store.Create(ctx, ev))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, losses atomic.Int32
	capErr := errors.New("cap reached")

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, ev.ID,
				func(e *integration.Event) error {
					if e.RetryCount >= 1 || !e.Status.CanTransitionTo(integration.StatusResent) {
						return capErr
					}
					return nil
				},
				func(e *integration.Event) {
					e.ApplyResend(time.Now().UTC())
				},
			)
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, capErr) {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one resend should win")
	s.Equal(int32(goroutines-1), losses.Load())

	found, err := s.store.FindByID(ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(integration.StatusResent, found.Status)
	s.Equal(1, found.RetryCount)
}
