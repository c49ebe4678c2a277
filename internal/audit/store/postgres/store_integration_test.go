//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fundgate/internal/audit"
	"fundgate/internal/audit/store/postgres"
	id "fundgate/pkg/domain"
	txcontext "fundgate/pkg/platform/tx"
	"fundgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.postgres.Truncate(s.T(), "audit_logs")
}

func newTestEntry(actorID id.UserID, action audit.Action, at time.Time) audit.Entry {
	return audit.Entry{
		ID:           uuid.New(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: audit.ResourceVerificationProfile,
		ResourceID:   uuid.NewString(),
		Details:      "details",
		IPAddress:    "203.0.113.7",
		Device:       "Chrome 120 on Mac OS X",
		Timestamp:    at,
	}
}

func (s *PostgresStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	actor := id.NewUserID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := newTestEntry(actor, audit.ActionVerificationRequested, now)
	s.Require().NoError(s.store.Append(ctx, entry))

	entries, err := s.store.List(ctx, audit.Query{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(entry.ID, entries[0].ID)
	s.Equal(actor, entries[0].ActorID)
	s.Equal(audit.ActionVerificationRequested, entries[0].Action)
	s.Equal(entry.ResourceID, entries[0].ResourceID)
	s.Equal("203.0.113.7", entries[0].IPAddress)
	s.Equal("Chrome 120 on Mac OS X", entries[0].Device)
}

func (s *PostgresStoreSuite) TestAppendWithoutClientMetadata() {
	ctx := context.Background()

	entry := newTestEntry(id.NewUserID(), audit.ActionVerificationComplete, time.Now().UTC())
	entry.IPAddress = ""
	entry.Device = ""
	s.Require().NoError(s.store.Append(ctx, entry))

	entries, err := s.store.List(ctx, audit.Query{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Empty(entries[0].IPAddress)
	s.Empty(entries[0].Device)
}

func (s *PostgresStoreSuite) TestSystemEntriesHaveNoActor() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Webhook-driven completions are recorded without an acting user.
	entry := newTestEntry(id.UserID{}, audit.ActionVerificationComplete, now)
	s.Require().NoError(s.store.Append(ctx, entry))

	entries, err := s.store.List(ctx, audit.Query{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.True(entries[0].ActorID.IsNil())
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	actor := id.NewUserID()
	other := id.NewUserID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, newTestEntry(actor, audit.ActionVerificationRequested, base)))
	s.Require().NoError(s.store.Append(ctx, newTestEntry(actor, audit.ActionVerificationReset, base.Add(time.Hour))))
	s.Require().NoError(s.store.Append(ctx, newTestEntry(other, audit.ActionVerificationRequested, base.Add(2*time.Hour))))

	byActor, err := s.store.List(ctx, audit.Query{ActorID: actor, Limit: 10})
	s.Require().NoError(err)
	s.Len(byActor, 2)

	byAction, err := s.store.List(ctx, audit.Query{Action: audit.ActionVerificationReset, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(byAction, 1)
	s.Equal(actor, byAction[0].ActorID)

	windowed, err := s.store.List(ctx, audit.Query{
		From:  base.Add(30 * time.Minute),
		To:    base.Add(90 * time.Minute),
		Limit: 10,
	})
	s.Require().NoError(err)
	s.Require().Len(windowed, 1)
	s.Equal(audit.ActionVerificationReset, windowed[0].Action)
}

func (s *PostgresStoreSuite) TestListOrdersNewestFirstWithPaging() {
	ctx := context.Background()
	actor := id.NewUserID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 5; i++ {
		entry := newTestEntry(actor, audit.ActionApplicationCreated, base.Add(time.Duration(i)*time.Second))
		s.Require().NoError(s.store.Append(ctx, entry))
	}

	first, err := s.store.List(ctx, audit.Query{Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.True(first[0].Timestamp.After(first[1].Timestamp))

	second, err := s.store.List(ctx, audit.Query{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Require().Len(second, 2)
	s.True(first[1].Timestamp.After(second[0].Timestamp))
}

// TestAppendJoinsCallerTransaction verifies the ledger write rolls back with
// the domain mutation it accompanies.
func (s *PostgresStoreSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	runner := txcontext.NewSQLRunner(s.postgres.DB)
	boom := errors.New("boom")

	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		entry := newTestEntry(id.NewUserID(), audit.ActionApplicationSubmitted, time.Now().UTC())
		if err := s.store.Append(txCtx, entry); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	entries, err := s.store.List(ctx, audit.Query{Limit: 10})
	s.Require().NoError(err)
	s.Empty(entries)
}
