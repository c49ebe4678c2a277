package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"fundgate/internal/audit"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

var (
	errInvalidResendState = errors.New("event is not in failed status")
	errRetryExhausted     = errors.New("retry limit reached")
)

// Store persists integration events. Execute runs validate-then-mutate
// atomically (mutex in memory, FOR UPDATE in Postgres) so two concurrent
// transitions cannot both succeed against a stale status.
type Store interface {
	Create(ctx context.Context, event *Event) error
	FindByID(ctx context.Context, eventID id.EventID) (*Event, error)
	FindByProviderProcessID(ctx context.Context, processID string) (*Event, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Event, error)
	Execute(ctx context.Context, eventID id.EventID, validate func(*Event) error, mutate func(*Event)) (*Event, error)
}

// Dispatcher re-issues the underlying provider call for a resent event.
// The verification client implements this for credas_process events.
//
//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Dispatcher
type Dispatcher interface {
	Dispatch(ctx context.Context, event *Event) (processID string, response json.RawMessage, err error)
}

// Service is the integration event queue: every outbound call and inbound
// acknowledgement is individually observable and retryable without relying
// on in-memory state a restart would lose.
type Service struct {
	store      Store
	dispatcher Dispatcher
	recorder   *audit.Recorder
	logger     *slog.Logger
	maxRetries int
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithDispatcher enables Resend to re-issue the provider call.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithAuditRecorder wires the audit ledger.
func WithAuditRecorder(r *audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMaxRetries caps automatic resends. Default 3.
func WithMaxRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     logger,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates a queued event for an outbound call about to be made.
func (s *Service) Enqueue(ctx context.Context, subjectType SubjectType, subjectID string, target Target, payload Payload) (*Event, error) {
	now := requestcontext.Now(ctx)
	event := &Event{
		ID:          id.NewEventID(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Target:      target,
		Status:      StatusQueued,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create integration event")
	}
	return event, nil
}

// MarkSent records a successful dispatch, attaching the provider process id
// learned from the response.
func (s *Service) MarkSent(ctx context.Context, eventID id.EventID, processID string, response json.RawMessage) (*Event, error) {
	now := requestcontext.Now(ctx)
	event, err := s.store.Execute(ctx, eventID,
		func(e *Event) error {
			if !e.CanMarkSent() {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot mark %s event as sent", e.Status)
			}
			return nil
		},
		func(e *Event) {
			e.ApplySent(processID, response, now)
		},
	)
	if err != nil {
		return nil, wrapEventErr(err)
	}
	return event, nil
}

// MarkFailed records a failed or timed-out dispatch. Events never stay
// queued after an attempt: timeouts are failures, not limbo.
func (s *Service) MarkFailed(ctx context.Context, eventID id.EventID, response json.RawMessage) (*Event, error) {
	now := requestcontext.Now(ctx)
	event, err := s.store.Execute(ctx, eventID,
		func(e *Event) error {
			if !e.CanMarkFailed() {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot mark %s event as failed", e.Status)
			}
			return nil
		},
		func(e *Event) {
			e.ApplyFailed(response, now)
		},
	)
	if err != nil {
		return nil, wrapEventErr(err)
	}
	return event, nil
}

// Resend transitions a failed event to resent, re-dispatches the underlying
// call and settles the event according to the outcome. Valid only from
// failed and only under the retry cap; beyond the cap the event stays
// failed for manual operator intervention.
func (s *Service) Resend(ctx context.Context, eventID id.EventID, actorID id.UserID) (*Event, error) {
	if s.dispatcher == nil {
		return nil, dErrors.New(dErrors.CodeConfigurationMissing, "no dispatcher configured for resend")
	}

	now := requestcontext.Now(ctx)
	event, err := s.store.Execute(ctx, eventID,
		func(e *Event) error {
			if err := e.CanResend(s.maxRetries); err != nil {
				if errors.Is(err, errRetryExhausted) {
					return dErrors.Newf(dErrors.CodeConflict, "retry limit of %d reached; manual intervention required", s.maxRetries)
				}
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot resend %s event", e.Status)
			}
			return nil
		},
		func(e *Event) {
			e.ApplyResend(now)
		},
	)
	if err != nil {
		return nil, wrapEventErr(err)
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionIntegrationEventResent,
			ResourceType: audit.ResourceIntegrationEvent,
			ResourceID:   event.ID.String(),
			Details:      fmt.Sprintf("Resend attempt %d of %d for target %s", event.RetryCount, s.maxRetries, event.Target),
		})
	}

	processID, response, dispatchErr := s.dispatcher.Dispatch(ctx, event)
	if dispatchErr != nil {
		s.logger.WarnContext(ctx, "resend dispatch failed",
			"event_id", event.ID,
			"target", event.Target,
			"retry_count", event.RetryCount,
			"error", dispatchErr,
		)
		if _, err := s.MarkFailed(ctx, event.ID, response); err != nil {
			s.logger.ErrorContext(ctx, "failed to settle resent event as failed",
				"event_id", event.ID,
				"error", err,
			)
		}
		return nil, dErrors.Wrap(dispatchErr, dErrors.CodeUnavailable, "provider dispatch failed")
	}

	settled, err := s.MarkSent(ctx, event.ID, processID, response)
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// RecordInboundResponse attaches an inbound callback body to the event that
// originated the process, making inbound attempts observable alongside
// outbound ones. Missing events are not an error: callbacks can outlive
// their originating record's visibility.
func (s *Service) RecordInboundResponse(ctx context.Context, processID string, response json.RawMessage) {
	event, err := s.store.FindByProviderProcessID(ctx, processID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "lookup event for inbound callback failed",
				"provider_process_id", processID,
				"error", err,
			)
		}
		return
	}

	now := requestcontext.Now(ctx)
	_, err = s.store.Execute(ctx, event.ID,
		func(*Event) error { return nil },
		func(e *Event) {
			e.Response = response
			e.UpdatedAt = now
		},
	)
	if err != nil {
		s.logger.WarnContext(ctx, "record inbound callback failed",
			"event_id", event.ID,
			"error", err,
		)
	}
}

// Get returns a single event.
func (s *Service) Get(ctx context.Context, eventID id.EventID) (*Event, error) {
	event, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		return nil, wrapEventErr(err)
	}
	return event, nil
}

// ListByStatus serves the operator surface (typically status=failed).
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list integration events")
	}
	return events, nil
}

// MaxRetries exposes the configured cap for operator responses.
func (s *Service) MaxRetries() int { return s.maxRetries }

func wrapEventErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "integration event not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "integration event store failure")
	}
}
