package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fundgate/internal/audit"
	"fundgate/internal/integration"
	"fundgate/internal/platform/redis"
	"fundgate/internal/verification/credas"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// Store persists verification profiles. Execute runs validate-then-mutate
// atomically so concurrent completions resolve to a single winner.
type Store interface {
	FindByUserID(ctx context.Context, userID id.UserID) (*Profile, error)
	FindByProcessID(ctx context.Context, processID string) (*Profile, error)
	Create(ctx context.Context, profile *Profile) error
	Execute(ctx context.Context, userID id.UserID, validate func(*Profile) error, mutate func(*Profile)) (*Profile, error)
}

// ContactDirectory resolves the contact details a provider process needs.
// Backed by whatever user/profile system the deployment runs.
type ContactDirectory interface {
	Contact(ctx context.Context, userID id.UserID) (Contact, error)
}

// Provider abstracts the identity-verification provider; credas.Client is
// the production implementation.
type Provider interface {
	Configured() bool
	JourneyID() string
	WebhookURL() string
	CreateProcess(ctx context.Context, person credas.Person) (*credas.Process, error)
	FetchSummary(ctx context.Context, entityID string) (*credas.Summary, error)
}

// FailMode decides what a completed process means when the check summary
// cannot be fetched.
type FailMode string

const (
	// FailOpen treats an unfetchable summary as passed. Matches the
	// historical behavior this service replaced.
	FailOpen FailMode = "fail_open"

	// FailManualReview parks the profile for an operator instead of
	// passing it blind.
	FailManualReview FailMode = "manual_review"
)

// Outcome of applying a provider completion callback.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnknownProcess Outcome = "unknown_process"
)

const liveStatusTTL = 30 * time.Second

// Service owns verification profile lifecycle: requesting a provider
// process, reconciling its completion, serving status reads and admin
// resets.
type Service struct {
	store     Store
	directory ContactDirectory
	provider  Provider
	events    *integration.Service
	recorder  *audit.Recorder
	cache     *redis.Client
	logger    *slog.Logger
	failMode  FailMode
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithAuditRecorder wires the audit ledger.
func WithAuditRecorder(r *audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithCache enables the live-status read cache. Nil is tolerated so main
// can pass an unconfigured client through.
func WithCache(c *redis.Client) Option {
	return func(s *Service) { s.cache = c }
}

// WithFailMode overrides the summary-failure policy. Default FailOpen.
func WithFailMode(m FailMode) Option {
	return func(s *Service) {
		if m == FailManualReview {
			s.failMode = m
		}
	}
}

func NewService(store Store, directory ContactDirectory, provider Provider, events *integration.Service, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		provider:  provider,
		events:    events,
		logger:    logger,
		failMode:  FailOpen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestVerification opens a provider process for the user and moves their
// profile to in_progress. The outbound call is recorded as an integration
// event either way: sent with the provider response, or failed with the
// profile left at not_started so the user can retry.
func (s *Service) RequestVerification(ctx context.Context, userID id.UserID) (string, error) {
	if s.provider == nil || !s.provider.Configured() {
		return "", dErrors.New(dErrors.CodeConfigurationMissing, "identity provider is not configured")
	}

	now := requestcontext.Now(ctx)
	profile, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification profile")
		}
		profile = NewProfile(userID, now)
		if err := s.store.Create(ctx, profile); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification profile")
		}
	}
	if !profile.CanStart() {
		return "", dErrors.Newf(dErrors.CodeConflict, "verification is already %s", profile.Status)
	}

	contact, err := s.directory.Contact(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "contact details not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contact details")
	}

	// Claim the profile before dispatching: of two concurrent requests only
	// one passes this CAS, so the loser fails here instead of after a second
	// provider process already exists.
	if _, err := s.store.Execute(ctx, userID,
		func(p *Profile) error {
			if !p.CanStart() {
				return dErrors.Newf(dErrors.CodeConflict, "verification is already %s", p.Status)
			}
			return nil
		},
		func(p *Profile) {
			p.ApplyClaimed(now)
		},
	); err != nil {
		return "", err
	}

	event, err := s.events.Enqueue(ctx, integration.SubjectVerificationProfile, userID.String(),
		integration.TargetCredasProcess, integration.Payload{
			CredasProcess: &integration.CredasProcessPayload{
				JourneyID:  s.provider.JourneyID(),
				Title:      fmt.Sprintf("Verification - %s %s", contact.FirstName, contact.Surname),
				WebhookURL: s.provider.WebhookURL(),
				Email:      contact.Email,
				FirstName:  contact.FirstName,
				Surname:    contact.Surname,
			},
		})
	if err != nil {
		s.releaseClaim(ctx, userID, now)
		return "", err
	}

	process, err := s.provider.CreateProcess(ctx, credas.Person{
		Email:     contact.Email,
		FirstName: contact.FirstName,
		Surname:   contact.Surname,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "credas process creation failed",
			"user_id", userID,
			"event_id", event.ID,
			"error", err,
		)
		if _, mfErr := s.events.MarkFailed(ctx, event.ID, errorResponse(err)); mfErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark integration event failed",
				"event_id", event.ID,
				"error", mfErr,
			)
		}
		s.releaseClaim(ctx, userID, now)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "identity provider unavailable")
	}

	if _, msErr := s.events.MarkSent(ctx, event.ID, process.ProcessID, process.Raw); msErr != nil {
		s.logger.ErrorContext(ctx, "failed to mark integration event sent",
			"event_id", event.ID,
			"error", msErr,
		)
	}

	journeyID := s.provider.JourneyID()
	if _, err := s.store.Execute(ctx, userID,
		func(p *Profile) error {
			if !p.Claimed() {
				return dErrors.Newf(dErrors.CodeConflict, "verification is already %s", p.Status)
			}
			return nil
		},
		func(p *Profile) {
			p.ApplyStarted(process.ProcessID, process.EntityID, journeyID, now)
		},
	); err != nil {
		return "", err
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      userID,
			Action:       audit.ActionVerificationRequested,
			ResourceType: audit.ResourceVerificationProfile,
			ResourceID:   userID.String(),
			Details:      fmt.Sprintf("Verification invite sent for process %s", process.ProcessID),
		})
	}

	return process.ProcessID, nil
}

// releaseClaim returns a claimed profile to not_started after a dispatch that
// never produced a provider process. Best effort: a leftover claim is still
// recoverable through Reset.
func (s *Service) releaseClaim(ctx context.Context, userID id.UserID, now time.Time) {
	if _, err := s.store.Execute(ctx, userID,
		func(*Profile) error { return nil },
		func(p *Profile) {
			if p.Claimed() {
				p.ApplyReset(now)
			}
		},
	); err != nil {
		s.logger.ErrorContext(ctx, "failed to release verification claim",
			"user_id", userID,
			"error", err,
		)
	}
}

// LiveStatus returns the profile snapshot, enriched with the provider's
// live summary when the verification is in flight. Provider trouble never
// fails this read; callers just get local state.
func (s *Service) LiveStatus(ctx context.Context, userID id.UserID) (*Snapshot, error) {
	profile, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &Snapshot{Status: StatusNotStarted}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification profile")
	}

	snapshot := &Snapshot{
		Status:      profile.Status,
		KYCStatus:   profile.KYCStatus,
		HasProcess:  profile.ProviderProcessID != "",
		CompletedAt: profile.CompletedAt,
	}

	if profile.Status != StatusInProgress || profile.ProviderEntityID == "" {
		return snapshot, nil
	}
	if s.provider == nil || !s.provider.Configured() {
		return snapshot, nil
	}

	snapshot.Live = s.liveSummary(ctx, profile.ProviderEntityID)
	return snapshot, nil
}

func (s *Service) liveSummary(ctx context.Context, entityID string) json.RawMessage {
	cacheKey := "verification:live:" + entityID

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			return json.RawMessage(cached)
		}
		if !errors.Is(err, goredis.Nil) {
			s.logger.WarnContext(ctx, "live-status cache read failed", "error", err)
		}
	}

	summary, err := s.provider.FetchSummary(ctx, entityID)
	if err != nil {
		s.logger.WarnContext(ctx, "live summary fetch failed, serving local state",
			"entity_id", entityID,
			"error", err,
		)
		return nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, string(summary.Raw), liveStatusTTL).Err(); err != nil {
			s.logger.WarnContext(ctx, "live-status cache write failed", "error", err)
		}
	}
	return summary.Raw
}

// CompleteFromProvider reconciles a provider completion callback onto the
// matching profile. It is idempotent: replays and concurrent deliveries
// settle as OutcomeDuplicate with no second mutation and no second audit
// entry.
func (s *Service) CompleteFromProvider(ctx context.Context, processID, statusDescription string) (Outcome, error) {
	profile, err := s.store.FindByProcessID(ctx, processID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return OutcomeUnknownProcess, nil
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up profile by process")
	}
	if profile.Status.Terminal() {
		return OutcomeDuplicate, nil
	}

	result := s.classifyResult(ctx, profile)
	now := requestcontext.Now(ctx)

	if _, err := s.store.Execute(ctx, profile.UserID,
		func(p *Profile) error {
			if !p.CanComplete() {
				return dErrors.Newf(dErrors.CodeConflict, "profile already %s", p.Status)
			}
			return nil
		},
		func(p *Profile) {
			p.ApplyResult(result, now)
		},
	); err != nil {
		// A concurrent delivery won the race; this one is a duplicate.
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      profile.UserID,
			Action:       audit.ActionVerificationComplete,
			ResourceType: audit.ResourceVerificationProfile,
			ResourceID:   profile.UserID.String(),
			Details:      fmt.Sprintf("Credas verification %s. Status: %s", result, statusDescription),
		})
	}

	return OutcomeApplied, nil
}

// classifyResult turns the provider's check summary into a terminal status.
// No summary available falls back per the configured FailMode.
func (s *Service) classifyResult(ctx context.Context, profile *Profile) Status {
	if s.provider == nil || !s.provider.Configured() || profile.ProviderEntityID == "" {
		return s.fallbackResult(ctx, profile, "no entity summary available")
	}

	summary, err := s.provider.FetchSummary(ctx, profile.ProviderEntityID)
	if err != nil {
		return s.fallbackResult(ctx, profile, err.Error())
	}
	if summary.HasFailedCheck() {
		return StatusFailed
	}
	return StatusPassed
}

func (s *Service) fallbackResult(ctx context.Context, profile *Profile, reason string) Status {
	if s.failMode == FailManualReview {
		s.logger.WarnContext(ctx, "summary unavailable, parking profile for manual review",
			"user_id", profile.UserID,
			"reason", reason,
		)
		return StatusManualReview
	}
	s.logger.WarnContext(ctx, "summary unavailable, failing open to passed",
		"user_id", profile.UserID,
		"reason", reason,
	)
	return StatusPassed
}

// Reset returns a terminal profile to not_started so verification can be
// requested again. Admin only; enforced at the transport layer.
func (s *Service) Reset(ctx context.Context, userID, actorID id.UserID) (*Profile, error) {
	now := requestcontext.Now(ctx)
	profile, err := s.store.Execute(ctx, userID,
		func(p *Profile) error {
			if !p.CanReset() {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot reset %s verification", p.Status)
			}
			return nil
		},
		func(p *Profile) {
			p.ApplyReset(now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification profile not found")
		}
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionVerificationReset,
			ResourceType: audit.ResourceVerificationProfile,
			ResourceID:   userID.String(),
			Details:      "Verification profile reset to not_started",
		})
	}

	return profile, nil
}

// Profile exposes the stored profile for owner/admin reads.
func (s *Service) Profile(ctx context.Context, userID id.UserID) (*Profile, error) {
	profile, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification profile")
	}
	return profile, nil
}

// IsPassed is the gate applications consult before accepting a submit.
func (s *Service) IsPassed(ctx context.Context, userID id.UserID) (bool, error) {
	profile, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification profile")
	}
	return profile.Status == StatusPassed, nil
}

func errorResponse(err error) json.RawMessage {
	encoded, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return nil
	}
	return encoded
}
