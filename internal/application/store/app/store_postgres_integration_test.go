//go:build integration

package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/application"
	"fundgate/internal/application/store/app"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *app.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = app.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.postgres.Truncate(s.T(), "applications")
}

func (s *PostgresStoreSuite) TestCreateAndFindRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	draft := application.NewDraft(id.NewUserID(), "Riverside scheme", now)

	s.Require().NoError(s.store.Create(ctx, draft))

	found, err := s.store.FindByID(ctx, draft.ID)
	s.Require().NoError(err)
	s.Equal(draft.ID, found.ID)
	s.Equal(application.StatusDraft, found.Status)
	s.Equal("Riverside scheme", found.Title)
	s.True(found.AssignedBrokerID.IsNil())
	s.Nil(found.SubmittedAt)
	s.Nil(found.CompletedAt)
	s.Require().Len(found.Timeline, 1)
	s.Equal(application.StatusDraft, found.Timeline[0].Status)
	s.Equal(draft.DeveloperID, found.Timeline[0].ActorID)
}

func (s *PostgresStoreSuite) TestTimelineSurvivesLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	developer := id.NewUserID()
	broker := id.NewUserID()

	a := application.NewDraft(developer, "Harbour flats", now)
	s.Require().NoError(s.store.Create(ctx, a))

	_, err := s.store.Execute(ctx, a.ID,
		func(cur *application.Application) error { return nil },
		func(cur *application.Application) {
			cur.ApplySubmit(developer, now.Add(time.Minute))
			cur.ApplyAssignBroker(broker, now.Add(2*time.Minute))
			cur.ApplyAdvance(application.StatusUnderReview, broker, "starting review", now.Add(3*time.Minute))
		},
	)
	s.Require().NoError(err)

	found, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(application.StatusUnderReview, found.Status)
	s.Equal(broker, found.AssignedBrokerID)
	s.Require().NotNil(found.SubmittedAt)
	s.Require().Len(found.Timeline, 3)
	s.Equal(application.StatusUnderReview, found.Timeline[2].Status)
	s.Equal("starting review", found.Timeline[2].Note)
	s.Equal(broker, found.Timeline[2].ActorID)
}

func (s *PostgresStoreSuite) TestListByDeveloperAndBroker() {
	ctx := context.Background()
	now := time.Now().UTC()
	developer := id.NewUserID()
	broker := id.NewUserID()

	var created []*application.Application
	for i := 0; i < 3; i++ {
		a := application.NewDraft(developer, "App", now.Add(time.Duration(i)*time.Second))
		if i == 0 {
			a.ApplyAssignBroker(broker, now)
		}
		s.Require().NoError(s.store.Create(ctx, a))
		created = append(created, a)
	}
	s.Require().NoError(s.store.Create(ctx, application.NewDraft(id.NewUserID(), "Other", now)))

	byDev, err := s.store.ListByDeveloper(ctx, developer)
	s.Require().NoError(err)
	s.Require().Len(byDev, 3)
	s.Equal(created[2].ID, byDev[0].ID, "newest first")

	byBroker, err := s.store.ListByBroker(ctx, broker)
	s.Require().NoError(err)
	s.Require().Len(byBroker, 1)
	s.Equal(created[0].ID, byBroker[0].ID)
}

func (s *PostgresStoreSuite) TestExecuteNotFound() {
	_, err := s.store.Execute(context.Background(), id.NewApplicationID(),
		func(*application.Application) error { return nil },
		func(*application.Application) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentSubmitSerializes verifies that racing submits of the same
// draft append exactly one submitted timeline entry.
func (s *PostgresStoreSuite) TestConcurrentSubmitSerializes() {
	ctx := context.Background()
	now := time.Now().UTC()
	developer := id.NewUserID()

	a := application.NewDraft(developer, "Race", now)
	s.Require().NoError(s.store.Create(ctx, a))

	notDraft := errors.New("not a draft")
	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, a.ID,
				func(cur *application.Application) error {
					if !cur.CanSubmit() {
						return notDraft
					}
					return nil
				},
				func(cur *application.Application) {
					cur.ApplySubmit(developer, time.Now().UTC())
				},
			)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one submit should win")

	found, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(application.StatusSubmitted, found.Status)
	s.Len(found.Timeline, 2)
}
