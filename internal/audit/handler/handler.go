package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/audit"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/requestcontext"
)

// Handler serves the operator audit query surface.
type Handler struct {
	logger   *slog.Logger
	recorder *audit.Recorder
}

func New(recorder *audit.Recorder, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, recorder: recorder}
}

// RegisterAdmin mounts the audit routes; the router guards them with the
// admin role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/audit", h.handleList)
}

type entryResponse struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	Device       string    `json:"device,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.recorder.List(ctx, query)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		resp := entryResponse{
			ID:           entry.ID.String(),
			Action:       string(entry.Action),
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Details:      entry.Details,
			IPAddress:    entry.IPAddress,
			Device:       entry.Device,
			Timestamp:    entry.Timestamp,
		}
		if !entry.ActorID.IsNil() {
			resp.ActorID = entry.ActorID.String()
		}
		out = append(out, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func parseQuery(r *http.Request) (audit.Query, error) {
	var query audit.Query
	params := r.URL.Query()

	if raw := params.Get("actor_id"); raw != "" {
		actorID, err := id.ParseUserID(raw)
		if err != nil {
			return query, err
		}
		query.ActorID = actorID
	}
	query.Action = audit.Action(params.Get("action"))
	query.ResourceType = params.Get("resource_type")

	if raw := params.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC3339")
		}
		query.From = from
	}
	if raw := params.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC3339")
		}
		query.To = to
	}

	var err error
	if query.Limit, err = parseInt(params.Get("limit")); err != nil {
		return query, dErrors.New(dErrors.CodeInvalidInput, "limit must be an integer")
	}
	if query.Offset, err = parseInt(params.Get("offset")); err != nil {
		return query, dErrors.New(dErrors.CodeInvalidInput, "offset must be an integer")
	}
	return query, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
