package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fundgate/internal/audit"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// Store persists applications. Execute runs validate-then-mutate atomically
// so two concurrent advances against the same status cannot both win.
type Store interface {
	Create(ctx context.Context, app *Application) error
	FindByID(ctx context.Context, appID id.ApplicationID) (*Application, error)
	ListByDeveloper(ctx context.Context, developerID id.UserID) ([]*Application, error)
	ListByBroker(ctx context.Context, brokerID id.UserID) ([]*Application, error)
	Execute(ctx context.Context, appID id.ApplicationID, validate func(*Application) error, mutate func(*Application)) (*Application, error)
}

// VerificationGate answers whether a developer has passed identity
// verification. The verification service implements it.
type VerificationGate interface {
	IsPassed(ctx context.Context, userID id.UserID) (bool, error)
}

// Service drives the application lifecycle.
type Service struct {
	store    Store
	gate     VerificationGate
	recorder *audit.Recorder
	logger   *slog.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithAuditRecorder wires the audit ledger.
func WithAuditRecorder(r *audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(store Store, gate VerificationGate, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		gate:   gate,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraft opens a new draft application for the developer.
func (s *Service) CreateDraft(ctx context.Context, developerID id.UserID, title string) (*Application, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "application title is required")
	}

	now := requestcontext.Now(ctx)
	app := NewDraft(developerID, title, now)
	if err := s.store.Create(ctx, app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create application")
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      developerID,
			Action:       audit.ActionApplicationCreated,
			ResourceType: audit.ResourceApplication,
			ResourceID:   app.ID.String(),
			Details:      fmt.Sprintf("Draft application %q created", title),
		})
	}
	return app, nil
}

// Submit moves the developer's draft to submitted. It is gated on a passed
// identity verification; an unverified developer is rejected with no side
// effects and no audit entry.
func (s *Service) Submit(ctx context.Context, appID id.ApplicationID, actorID id.UserID) (*Application, error) {
	app, err := s.findApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.DeveloperID != actorID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the application owner can submit")
	}

	passed, err := s.gate.IsPassed(ctx, app.DeveloperID)
	if err != nil {
		return nil, err
	}
	if !passed {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "identity verification must be passed before submitting")
	}

	now := requestcontext.Now(ctx)
	app, err = s.store.Execute(ctx, appID,
		func(a *Application) error {
			if !a.CanSubmit() {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot submit %s application", a.Status)
			}
			return nil
		},
		func(a *Application) {
			a.ApplySubmit(actorID, now)
		},
	)
	if err != nil {
		return nil, s.wrapAppErr(err)
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionApplicationSubmitted,
			ResourceType: audit.ResourceApplication,
			ResourceID:   app.ID.String(),
			Details:      fmt.Sprintf("Application %q submitted", app.Title),
		})
	}
	return app, nil
}

// Advance moves the application along one edge of the status graph. Only
// the assigned broker or an admin may advance; an illegal edge is rejected
// with no side effects and no audit entry.
func (s *Service) Advance(ctx context.Context, appID id.ApplicationID, actorID id.UserID, role id.Role, next Status, note string) (*Application, error) {
	if !next.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown status %q", next)
	}

	app, err := s.findApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !s.canAdvance(app, actorID, role) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the assigned broker or an admin can advance this application")
	}

	now := requestcontext.Now(ctx)
	var from Status
	app, err = s.store.Execute(ctx, appID,
		func(a *Application) error {
			if !a.Status.CanTransitionTo(next) {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot move %s application to %s", a.Status, next)
			}
			from = a.Status
			return nil
		},
		func(a *Application) {
			a.ApplyAdvance(next, actorID, note, now)
		},
	)
	if err != nil {
		return nil, s.wrapAppErr(err)
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionApplicationStatusChange,
			ResourceType: audit.ResourceApplication,
			ResourceID:   app.ID.String(),
			Details:      fmt.Sprintf("Status changed from %s to %s", from, next),
		})
	}
	return app, nil
}

func (s *Service) canAdvance(app *Application, actorID id.UserID, role id.Role) bool {
	if role == id.RoleAdmin {
		return true
	}
	return role == id.RoleBroker && !app.AssignedBrokerID.IsNil() && app.AssignedBrokerID == actorID
}

// AssignBroker puts a broker in charge of the application. Admin only;
// enforced at the transport layer. Terminal applications cannot be
// reassigned.
func (s *Service) AssignBroker(ctx context.Context, appID id.ApplicationID, brokerID, actorID id.UserID) (*Application, error) {
	now := requestcontext.Now(ctx)
	app, err := s.store.Execute(ctx, appID,
		func(a *Application) error {
			if a.Status.Terminal() {
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot assign a broker to a %s application", a.Status)
			}
			return nil
		},
		func(a *Application) {
			a.ApplyAssignBroker(brokerID, now)
		},
	)
	if err != nil {
		return nil, s.wrapAppErr(err)
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionBrokerAssigned,
			ResourceType: audit.ResourceApplication,
			ResourceID:   app.ID.String(),
			Details:      fmt.Sprintf("Broker %s assigned", brokerID),
		})
	}
	return app, nil
}

// Get returns the application when the actor may see it: the owning
// developer, the assigned broker, or an admin.
func (s *Service) Get(ctx context.Context, appID id.ApplicationID, actorID id.UserID, role id.Role) (*Application, error) {
	app, err := s.findApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	switch {
	case role == id.RoleAdmin:
	case app.DeveloperID == actorID:
	case !app.AssignedBrokerID.IsNil() && app.AssignedBrokerID == actorID:
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "no access to this application")
	}
	return app, nil
}

// List returns the applications visible to the actor: own applications for
// developers, assigned ones for brokers.
func (s *Service) List(ctx context.Context, actorID id.UserID, role id.Role) ([]*Application, error) {
	var (
		apps []*Application
		err  error
	)
	if role == id.RoleBroker {
		apps, err = s.store.ListByBroker(ctx, actorID)
	} else {
		apps, err = s.store.ListByDeveloper(ctx, actorID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list applications")
	}
	return apps, nil
}

func (s *Service) findApp(ctx context.Context, appID id.ApplicationID) (*Application, error) {
	app, err := s.store.FindByID(ctx, appID)
	if err != nil {
		return nil, s.wrapAppErr(err)
	}
	return app, nil
}

func (s *Service) wrapAppErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "application store failure")
}
