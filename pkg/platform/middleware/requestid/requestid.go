// Package requestid assigns a correlation ID to every request. Inbound
// X-Request-ID headers are honored so IDs survive proxy hops; otherwise a
// fresh UUID is generated.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"fundgate/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware injects the request ID into the context and echoes it on the
// response for client-side correlation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerName)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerName, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
