// Package webhook receives Credas process callbacks and reconciles them
// onto verification profiles. The endpoint always acknowledges: the
// provider retries on non-200s, and a retry storm cannot make a bad
// payload good.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	redisplatform "fundgate/internal/platform/redis"
	"fundgate/internal/verification"
	"fundgate/internal/webhook/metrics"
)

// statusComplete is the Credas process status meaning the journey finished.
const statusComplete = 2

// dedupeTTL bounds the replay fast-path markers in Redis. Replays beyond
// the TTL still resolve as duplicates through the store.
const dedupeTTL = 24 * time.Hour

// maxBody caps the callback body size.
const maxBody = 1 << 20

// Completer reconciles a completed provider process onto the profile.
type Completer interface {
	CompleteFromProvider(ctx context.Context, processID, statusDescription string) (verification.Outcome, error)
}

// EventSink attaches the inbound callback body to the originating
// integration event.
type EventSink interface {
	RecordInboundResponse(ctx context.Context, processID string, response json.RawMessage)
}

type Handler struct {
	logger    *slog.Logger
	completer Completer
	events    EventSink
	metrics   *metrics.Metrics
	cache     *redisplatform.Client
	tracer    trace.Tracer
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithMetrics wires the webhook counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithCache enables the Redis duplicate fast-path. Nil is tolerated.
func WithCache(c *redisplatform.Client) Option {
	return func(h *Handler) { h.cache = c }
}

func New(completer Completer, events EventSink, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		completer: completer,
		events:    events,
		tracer:    otel.Tracer("fundgate/webhook"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public callback route. No auth: the provider does
// not sign callbacks, so the handler trusts nothing in the body beyond the
// process id it can match to its own records.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhook", h.handleCallback)
}

type callbackPayload struct {
	ProcessID         string `json:"ProcessId"`
	Status            int    `json:"Status"`
	StatusDescription string `json:"StatusDescription"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.credas.callback")
	defer span.End()

	h.metrics.Received()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook body read failed", "error", err)
		h.metrics.Count(metrics.OutcomeMalformed)
		h.ack(w)
		return
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ProcessID == "" {
		h.logger.WarnContext(ctx, "malformed webhook payload",
			"error", err,
			"body_len", len(body),
		)
		h.metrics.Count(metrics.OutcomeMalformed)
		h.ack(w)
		return
	}

	span.SetAttributes(
		attribute.String("credas.process_id", payload.ProcessID),
		attribute.Int("credas.status", payload.Status),
	)

	if h.events != nil {
		h.events.RecordInboundResponse(ctx, payload.ProcessID, json.RawMessage(body))
	}

	if payload.Status != statusComplete {
		h.logger.InfoContext(ctx, "webhook ignored, process not complete",
			"process_id", payload.ProcessID,
			"status", payload.Status,
		)
		h.metrics.Count(metrics.OutcomeIgnored)
		h.ack(w)
		return
	}

	if h.seenBefore(ctx, payload.ProcessID) {
		h.metrics.Count(metrics.OutcomeDuplicate)
		h.ack(w)
		return
	}

	outcome, err := h.completer.CompleteFromProvider(ctx, payload.ProcessID, payload.StatusDescription)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook reconciliation failed",
			"process_id", payload.ProcessID,
			"error", err,
		)
		h.metrics.Count(metrics.OutcomeError)
		h.ack(w)
		return
	}

	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	switch outcome {
	case verification.OutcomeApplied:
		h.logger.InfoContext(ctx, "verification completed via webhook",
			"process_id", payload.ProcessID,
		)
		h.metrics.Count(metrics.OutcomeApplied)
		h.markSeen(ctx, payload.ProcessID)
	case verification.OutcomeDuplicate:
		h.metrics.Count(metrics.OutcomeDuplicate)
		h.markSeen(ctx, payload.ProcessID)
	case verification.OutcomeUnknownProcess:
		h.logger.WarnContext(ctx, "webhook for unknown process",
			"process_id", payload.ProcessID,
		)
		h.metrics.Count(metrics.OutcomeUnknown)
	}

	h.ack(w)
}

// ack is the unconditional 200 the provider expects.
func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

// seenBefore checks the Redis replay marker. Cache trouble means no
// fast-path; the store-level conditional update still guarantees a single
// application.
func (h *Handler) seenBefore(ctx context.Context, processID string) bool {
	if h.cache == nil {
		return false
	}
	_, err := h.cache.Get(ctx, dedupeKey(processID)).Result()
	if err == nil {
		return true
	}
	if !errors.Is(err, goredis.Nil) {
		h.logger.WarnContext(ctx, "webhook dedupe read failed", "error", err)
	}
	return false
}

func (h *Handler) markSeen(ctx context.Context, processID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, dedupeKey(processID), "1", dedupeTTL).Err(); err != nil {
		h.logger.WarnContext(ctx, "webhook dedupe write failed", "error", err)
	}
}

func dedupeKey(processID string) string {
	return "webhook:seen:" + processID
}
