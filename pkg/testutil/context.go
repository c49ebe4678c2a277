package testutil

import (
	"net/http"
	"time"

	id "fundgate/pkg/domain"
	"fundgate/pkg/requestcontext"
)

// WithActor injects a user id and role into the request context, simulating
// what the auth middleware does for an authenticated request.
func WithActor(req *http.Request, userID id.UserID, role id.Role) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock, simulating the request
// time middleware.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
