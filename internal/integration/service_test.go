package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"fundgate/internal/audit"
	auditmemory "fundgate/internal/audit/store/memory"
	"fundgate/internal/integration"
	"fundgate/internal/integration/mocks"
	"fundgate/internal/integration/store/event"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/requestcontext"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func enqueueTestEvent(t *testing.T, svc *integration.Service) *integration.Event {
	t.Helper()
	evt, err := svc.Enqueue(context.Background(), integration.SubjectVerificationProfile, "subject-1",
		integration.TargetCredasProcess, integration.Payload{
			CredasProcess: &integration.CredasProcessPayload{
				JourneyID: "journey-1",
				Email:     "dev@example.com",
				FirstName: "Dana",
				Surname:   "Reeve",
			},
		})
	require.NoError(t, err)
	return evt
}

func TestEnqueueCreatesQueuedEvent(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	evt, err := svc.Enqueue(ctx, integration.SubjectVerificationProfile, "subject-1",
		integration.TargetCredasProcess, integration.Payload{Raw: json.RawMessage(`{"k":"v"}`)})
	require.NoError(t, err)

	assert.False(t, evt.ID.IsNil())
	assert.Equal(t, integration.StatusQueued, evt.Status)
	assert.Equal(t, 0, evt.RetryCount)
	assert.Nil(t, evt.LastAttemptedAt)
	assert.Equal(t, now, evt.CreatedAt)

	found, err := svc.Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, found.ID)
}

func TestMarkSentAttachesProcessID(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())
	evt := enqueueTestEvent(t, svc)

	sent, err := svc.MarkSent(context.Background(), evt.ID, "proc-123", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, integration.StatusSent, sent.Status)
	assert.Equal(t, "proc-123", sent.ProviderProcessID)
	require.NotNil(t, sent.LastAttemptedAt)

	found, err := store.FindByProviderProcessID(context.Background(), "proc-123")
	require.NoError(t, err)
	assert.Equal(t, evt.ID, found.ID)
}

func TestMarkSentRejectsFailedEvent(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())
	evt := enqueueTestEvent(t, svc)

	_, err := svc.MarkFailed(context.Background(), evt.ID, nil)
	require.NoError(t, err)

	_, err = svc.MarkSent(context.Background(), evt.ID, "proc-123", nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestMarkFailedFromQueuedAndSent(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	queued := enqueueTestEvent(t, svc)
	failed, err := svc.MarkFailed(context.Background(), queued.ID, json.RawMessage(`{"error":"timeout"}`))
	require.NoError(t, err)
	assert.Equal(t, integration.StatusFailed, failed.Status)

	sent := enqueueTestEvent(t, svc)
	_, err = svc.MarkSent(context.Background(), sent.ID, "proc-9", nil)
	require.NoError(t, err)
	failed, err = svc.MarkFailed(context.Background(), sent.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusFailed, failed.Status)
}

func TestResendRedispatchesAndSettlesSent(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	auditStore := auditmemory.NewInMemoryStore()
	recorder := audit.NewRecorder(auditStore, testLogger())

	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger(),
		integration.WithDispatcher(dispatcher),
		integration.WithAuditRecorder(recorder),
	)

	evt := enqueueTestEvent(t, svc)
	_, err := svc.MarkFailed(context.Background(), evt.ID, nil)
	require.NoError(t, err)

	dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any()).
		Return("proc-42", json.RawMessage(`{"processId":"proc-42"}`), nil)

	actor := id.NewUserID()
	settled, err := svc.Resend(context.Background(), evt.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusSent, settled.Status)
	assert.Equal(t, "proc-42", settled.ProviderProcessID)
	assert.Equal(t, 1, settled.RetryCount)

	entries := auditStore.All()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionIntegrationEventResent, entries[0].Action)
	assert.Equal(t, actor, entries[0].ActorID)
	assert.Equal(t, evt.ID.String(), entries[0].ResourceID)
}

func TestResendDispatchFailureSettlesFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger(), integration.WithDispatcher(dispatcher))

	evt := enqueueTestEvent(t, svc)
	_, err := svc.MarkFailed(context.Background(), evt.ID, nil)
	require.NoError(t, err)

	dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any()).
		Return("", json.RawMessage(`{"error":"503"}`), errors.New("provider unavailable"))

	_, err = svc.Resend(context.Background(), evt.ID, id.NewUserID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))

	found, err := svc.Get(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusFailed, found.Status)
	assert.Equal(t, 1, found.RetryCount)
}

func TestResendRejectsNonFailedEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger(), integration.WithDispatcher(dispatcher))

	evt := enqueueTestEvent(t, svc)

	_, err := svc.Resend(context.Background(), evt.ID, id.NewUserID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

// Retry count never exceeds the configured cap: once every allowed attempt
// has failed, further resends are rejected with a conflict and the stored
// count stays put.
func TestResendRetryCap(t *testing.T) {
	const maxRetries = 2

	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger(),
		integration.WithDispatcher(dispatcher),
		integration.WithMaxRetries(maxRetries),
	)

	evt := enqueueTestEvent(t, svc)
	_, err := svc.MarkFailed(context.Background(), evt.ID, nil)
	require.NoError(t, err)

	dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any()).
		Return("", nil, errors.New("still down")).
		Times(maxRetries)

	for i := 0; i < maxRetries; i++ {
		_, err := svc.Resend(context.Background(), evt.ID, id.NewUserID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	}

	// Attempt maxRetries+1 is rejected before any dispatch happens.
	_, err = svc.Resend(context.Background(), evt.ID, id.NewUserID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	found, err := svc.Get(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusFailed, found.Status)
	assert.Equal(t, maxRetries, found.RetryCount)
}

func TestResendWithoutDispatcher(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	evt := enqueueTestEvent(t, svc)
	_, err := svc.MarkFailed(context.Background(), evt.ID, nil)
	require.NoError(t, err)

	_, err = svc.Resend(context.Background(), evt.ID, id.NewUserID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfigurationMissing))
}

func TestRecordInboundResponse(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	evt := enqueueTestEvent(t, svc)
	_, err := svc.MarkSent(context.Background(), evt.ID, "proc-7", nil)
	require.NoError(t, err)

	svc.RecordInboundResponse(context.Background(), "proc-7", json.RawMessage(`{"Status":2}`))

	found, err := svc.Get(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Status":2}`, string(found.Response))

	// Unknown process ids are silently ignored.
	svc.RecordInboundResponse(context.Background(), "proc-unknown", json.RawMessage(`{}`))
}

func TestGetUnknownEvent(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	_, err := svc.Get(context.Background(), id.NewEventID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestListByStatus(t *testing.T) {
	store := event.NewInMemory()
	svc := integration.NewService(store, testLogger())

	first := enqueueTestEvent(t, svc)
	second := enqueueTestEvent(t, svc)
	_, err := svc.MarkFailed(context.Background(), second.ID, nil)
	require.NoError(t, err)

	queued, err := svc.ListByStatus(context.Background(), integration.StatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, first.ID, queued[0].ID)

	failed, err := svc.ListByStatus(context.Background(), integration.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, second.ID, failed[0].ID)
}
