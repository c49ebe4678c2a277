package handler_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundgate/internal/verification"
	"fundgate/internal/verification/handler"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/testutil"
)

type fakeService struct {
	processID string
	snapshot  *verification.Snapshot
	profile   *verification.Profile
	err       error

	requestedBy id.UserID
	resetUser   id.UserID
	resetActor  id.UserID
}

func (f *fakeService) RequestVerification(_ context.Context, userID id.UserID) (string, error) {
	f.requestedBy = userID
	return f.processID, f.err
}

func (f *fakeService) LiveStatus(context.Context, id.UserID) (*verification.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeService) Reset(_ context.Context, userID, actorID id.UserID) (*verification.Profile, error) {
	f.resetUser = userID
	f.resetActor = actorID
	return f.profile, f.err
}

func newRouter(svc *fakeService) chi.Router {
	h := handler.New(svc, slog.New(slog.DiscardHandler))
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAdmin(r)
	return r
}

func TestRequestVerification(t *testing.T) {
	svc := &fakeService{processID: "proc-1"}
	router := newRouter(svc)
	userID := id.NewUserID()

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/request", nil)
	req = testutil.WithActor(req, userID, id.RoleDeveloper)
	rec := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, svc.requestedBy)

	body := testutil.UnmarshalResponse[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "proc-1", body["processId"])
	assert.Contains(t, body["message"], "Check your email")
}

func TestRequestVerificationAlreadyInProgress(t *testing.T) {
	svc := &fakeService{err: dErrors.New(dErrors.CodeConflict, "verification already in progress")}
	router := newRouter(svc)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/request", nil)
	req = testutil.WithActor(req, id.NewUserID(), id.RoleDeveloper)
	rec := testutil.DoRequest(router, req)

	testutil.AssertErrorCode(t, rec, http.StatusConflict, "conflict")
}

func TestRequestVerificationNotConfigured(t *testing.T) {
	svc := &fakeService{err: dErrors.New(dErrors.CodeConfigurationMissing, "provider not configured")}
	router := newRouter(svc)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/request", nil)
	req = testutil.WithActor(req, id.NewUserID(), id.RoleDeveloper)
	rec := testutil.DoRequest(router, req)

	testutil.AssertErrorCode(t, rec, http.StatusServiceUnavailable, "configuration_missing")
}

func TestStatus(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{snapshot: &verification.Snapshot{
		Status:      verification.StatusPassed,
		KYCStatus:   verification.StatusPassed,
		HasProcess:  true,
		CompletedAt: &completed,
	}}
	router := newRouter(svc)

	req := testutil.NewJSONRequest(t, http.MethodGet, "/verification/status", nil)
	req = testutil.WithActor(req, id.NewUserID(), id.RoleDeveloper)
	rec := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := testutil.UnmarshalResponse[map[string]any](t, rec)
	assert.Equal(t, "passed", body["verification_status"])
	assert.Equal(t, true, body["has_process"])
}

func TestReset(t *testing.T) {
	target := id.NewUserID()
	admin := id.NewUserID()
	svc := &fakeService{profile: &verification.Profile{
		UserID: target,
		Status: verification.StatusNotStarted,
	}}
	router := newRouter(svc)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/"+target.String()+"/reset", nil)
	req = testutil.WithActor(req, admin, id.RoleAdmin)
	rec := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, target, svc.resetUser)
	assert.Equal(t, admin, svc.resetActor)

	body := testutil.UnmarshalResponse[map[string]any](t, rec)
	assert.Equal(t, target.String(), body["user_id"])
	assert.Equal(t, "not_started", body["verification_status"])
}

func TestResetInvalidUserID(t *testing.T) {
	router := newRouter(&fakeService{})

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/not-a-uuid/reset", nil)
	req = testutil.WithActor(req, id.NewUserID(), id.RoleAdmin)
	rec := testutil.DoRequest(router, req)

	testutil.AssertErrorCode(t, rec, http.StatusBadRequest, "invalid_input")
}
