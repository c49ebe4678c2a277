package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fundgate/pkg/domain"
	"fundgate/pkg/requestcontext"
)

const signingKey = "test-signing-key"

func newProtectedHandler(t *testing.T, roles ...id.Role) (http.Handler, *Claims) {
	t.Helper()
	var seen Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.UserID = requestcontext.UserID(r.Context())
		seen.Role = requestcontext.Role(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	logger := slog.New(slog.DiscardHandler)
	var handler http.Handler = inner
	if len(roles) > 0 {
		handler = RequireRole(logger, roles...)(handler)
	}
	handler = RequireAuth(NewVerifier(signingKey), logger)(handler)
	return handler, &seen
}

func TestRequireAuth(t *testing.T) {
	userID := id.UserID(uuid.New())

	t.Run("rejects missing token", func(t *testing.T) {
		handler, _ := newProtectedHandler(t)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects token signed with wrong key", func(t *testing.T) {
		handler, _ := newProtectedHandler(t)
		token, err := NewToken("other-key", userID, id.RoleDeveloper, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		handler, _ := newProtectedHandler(t)
		token, err := NewToken(signingKey, userID, id.RoleDeveloper, -time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("injects user id and role into context", func(t *testing.T) {
		handler, seen := newProtectedHandler(t)
		token, err := NewToken(signingKey, userID, id.RoleBroker, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, seen.UserID)
		assert.Equal(t, id.RoleBroker, seen.Role)
	})
}

func TestRequireRole(t *testing.T) {
	userID := id.UserID(uuid.New())

	t.Run("allows matching role", func(t *testing.T) {
		handler, _ := newProtectedHandler(t, id.RoleAdmin)
		token, err := NewToken(signingKey, userID, id.RoleAdmin, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects wrong role with 403", func(t *testing.T) {
		handler, _ := newProtectedHandler(t, id.RoleAdmin)
		token, err := NewToken(signingKey, userID, id.RoleDeveloper, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
