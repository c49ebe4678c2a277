package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/application"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/platform/middleware/auth"
	"fundgate/pkg/requestcontext"
)

// Service is the slice of the application service the transport needs.
type Service interface {
	CreateDraft(ctx context.Context, developerID id.UserID, title string) (*application.Application, error)
	Submit(ctx context.Context, appID id.ApplicationID, actorID id.UserID) (*application.Application, error)
	Advance(ctx context.Context, appID id.ApplicationID, actorID id.UserID, role id.Role, next application.Status, note string) (*application.Application, error)
	AssignBroker(ctx context.Context, appID id.ApplicationID, brokerID, actorID id.UserID) (*application.Application, error)
	Get(ctx context.Context, appID id.ApplicationID, actorID id.UserID, role id.Role) (*application.Application, error)
	List(ctx context.Context, actorID id.UserID, role id.Role) ([]*application.Application, error)
}

type Handler struct {
	logger *slog.Logger
	svc    Service
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// Register mounts the application routes. The router has already applied
// authentication; role checks narrower than "any authenticated user" are
// applied per route here.
func (h *Handler) Register(r chi.Router) {
	r.Post("/applications", h.handleCreate)
	r.Get("/applications", h.handleList)
	r.Get("/applications/{appID}", h.handleGet)
	r.Post("/applications/{appID}/submit", h.handleSubmit)

	r.With(auth.RequireRole(h.logger, id.RoleBroker, id.RoleAdmin)).
		Post("/applications/{appID}/advance", h.handleAdvance)
	r.With(auth.RequireRole(h.logger, id.RoleAdmin)).
		Post("/applications/{appID}/assign", h.handleAssign)
}

type applicationResponse struct {
	ID               string                      `json:"id"`
	DeveloperID      string                      `json:"developer_id"`
	AssignedBrokerID string                      `json:"assigned_broker_id,omitempty"`
	Title            string                      `json:"title"`
	Status           application.Status          `json:"status"`
	Timeline         []application.TimelineEntry `json:"timeline"`
	SubmittedAt      *time.Time                  `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func toResponse(app *application.Application) applicationResponse {
	resp := applicationResponse{
		ID:          app.ID.String(),
		DeveloperID: app.DeveloperID.String(),
		Title:       app.Title,
		Status:      app.Status,
		Timeline:    app.Timeline,
		SubmittedAt: app.SubmittedAt,
		CompletedAt: app.CompletedAt,
		CreatedAt:   app.CreatedAt,
		UpdatedAt:   app.UpdatedAt,
	}
	if !app.AssignedBrokerID.IsNil() {
		resp.AssignedBrokerID = app.AssignedBrokerID.String()
	}
	return resp
}

type createRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	app, err := h.svc.CreateDraft(ctx, requestcontext.UserID(ctx), req.Title)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(app))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apps, err := h.svc.List(ctx, requestcontext.UserID(ctx), requestcontext.Role(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, toResponse(app))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"applications": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	app, err := h.svc.Get(ctx, appID, requestcontext.UserID(ctx), requestcontext.Role(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(app))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	app, err := h.svc.Submit(ctx, appID, requestcontext.UserID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "application submit rejected",
			"request_id", requestcontext.RequestID(ctx),
			"application_id", appID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(app))
}

type advanceRequest struct {
	Status application.Status `json:"status"`
	Note   string             `json:"note"`
}

func (r *advanceRequest) Validate() error {
	if r.Status == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "status is required")
	}
	return nil
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[advanceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	app, err := h.svc.Advance(ctx, appID, requestcontext.UserID(ctx), requestcontext.Role(ctx), req.Status, req.Note)
	if err != nil {
		h.logger.WarnContext(ctx, "application advance rejected",
			"request_id", requestcontext.RequestID(ctx),
			"application_id", appID,
			"target_status", req.Status,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(app))
}

type assignRequest struct {
	BrokerID string `json:"broker_id"`
}

func (r *assignRequest) Validate() error {
	if r.BrokerID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "broker_id is required")
	}
	return nil
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[assignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	brokerID, err := id.ParseUserID(req.BrokerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	app, err := h.svc.AssignBroker(ctx, appID, brokerID, requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(app))
}
