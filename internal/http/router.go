// Package httpapi assembles the HTTP surface: public webhook and health
// routes, authenticated user routes, and the admin group. Handlers own
// their endpoints; this package only owns middleware order and grouping.
package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applicationhandler "fundgate/internal/application/handler"
	audithandler "fundgate/internal/audit/handler"
	integrationhandler "fundgate/internal/integration/handler"
	redisplatform "fundgate/internal/platform/redis"
	verificationhandler "fundgate/internal/verification/handler"
	"fundgate/internal/webhook"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/platform/middleware/auth"
	"fundgate/pkg/platform/middleware/metadata"
	"fundgate/pkg/platform/middleware/requestid"
	"fundgate/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router mounts. Nil DB/Redis are tolerated;
// health reporting degrades accordingly.
type Deps struct {
	Logger       *slog.Logger
	Verifier     *auth.Verifier
	Verification *verificationhandler.Handler
	Applications *applicationhandler.Handler
	Webhook      *webhook.Handler
	Audit        *audithandler.Handler
	Integration  *integrationhandler.Handler
	DB           *sql.DB
	Redis        *redisplatform.Client
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(requesttime.Middleware)
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata)

	// Public surface: provider callbacks, health, metrics.
	deps.Webhook.Register(r)
	r.Get("/healthz", healthHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Verifier, deps.Logger))

		deps.Verification.Register(r)
		deps.Applications.Register(r)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Logger, id.RoleAdmin))
			deps.Audit.RegisterAdmin(r)
			deps.Integration.RegisterAdmin(r)
			deps.Verification.RegisterAdmin(r)
		})
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK

		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				resp.Status = "degraded"
				resp.Postgres = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				resp.Postgres = "ok"
			}
		}
		if deps.Redis != nil {
			if err := deps.Redis.Health(ctx); err != nil {
				resp.Status = "degraded"
				resp.Redis = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				resp.Redis = "ok"
			}
		}

		httputil.WriteJSON(w, status, resp)
	}
}
