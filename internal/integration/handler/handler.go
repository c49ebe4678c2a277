package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/integration"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/requestcontext"
)

// Service is the slice of the integration queue the operator surface needs.
type Service interface {
	ListByStatus(ctx context.Context, status integration.Status, limit int) ([]*integration.Event, error)
	Resend(ctx context.Context, eventID id.EventID, actorID id.UserID) (*integration.Event, error)
}

type Handler struct {
	logger *slog.Logger
	svc    Service
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// RegisterAdmin mounts the operator routes; the router guards them with
// the admin role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/integration-events", h.handleList)
	r.Post("/integration-events/{eventID}/resend", h.handleResend)
}

type eventResponse struct {
	ID                string             `json:"id"`
	SubjectType       string             `json:"subject_type"`
	SubjectID         string             `json:"subject_id"`
	Target            string             `json:"target"`
	ProviderProcessID string             `json:"provider_process_id,omitempty"`
	Status            integration.Status `json:"status"`
	RetryCount        int                `json:"retry_count"`
	LastAttemptedAt   *time.Time         `json:"last_attempted_at,omitempty"`
	Response          json.RawMessage    `json:"response,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func toResponse(event *integration.Event) eventResponse {
	return eventResponse{
		ID:                event.ID.String(),
		SubjectType:       string(event.SubjectType),
		SubjectID:         event.SubjectID,
		Target:            string(event.Target),
		ProviderProcessID: event.ProviderProcessID,
		Status:            event.Status,
		RetryCount:        event.RetryCount,
		LastAttemptedAt:   event.LastAttemptedAt,
		Response:          event.Response,
		CreatedAt:         event.CreatedAt,
		UpdatedAt:         event.UpdatedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := integration.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = integration.StatusFailed
	}
	if !status.Valid() {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown status %q", status))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be an integer"))
			return
		}
		limit = parsed
	}

	events, err := h.svc.ListByStatus(ctx, status, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "integration event list failed",
			"request_id", requestcontext.RequestID(ctx),
			"status", status,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, toResponse(event))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	event, err := h.svc.Resend(ctx, eventID, requestcontext.UserID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "integration event resend rejected",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", eventID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(event))
}
