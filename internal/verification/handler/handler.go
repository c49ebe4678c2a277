package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/verification"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/requestcontext"
)

// Service is the slice of the verification service the transport needs.
type Service interface {
	RequestVerification(ctx context.Context, userID id.UserID) (string, error)
	LiveStatus(ctx context.Context, userID id.UserID) (*verification.Snapshot, error)
	Reset(ctx context.Context, userID, actorID id.UserID) (*verification.Profile, error)
}

type Handler struct {
	logger *slog.Logger
	svc    Service
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// Register mounts the authenticated user-facing routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verification/request", h.handleRequest)
	r.Get("/verification/status", h.handleStatus)
}

// RegisterAdmin mounts operator routes; the router guards them with the
// admin role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/verification/{userID}/reset", h.handleReset)
}

type requestResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProcessID string `json:"processId"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	processID, err := h.svc.RequestVerification(ctx, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "verification request rejected",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, requestResponse{
		Success:   true,
		Message:   "Verification invite sent. Check your email.",
		ProcessID: processID,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := h.svc.LiveStatus(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "verification status read failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

type resetResponse struct {
	UserID string              `json:"user_id"`
	Status verification.Status `json:"verification_status"`
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	profile, err := h.svc.Reset(ctx, userID, requestcontext.UserID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "verification reset rejected",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resetResponse{
		UserID: profile.UserID.String(),
		Status: profile.Status,
	})
}
