package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fundgate/internal/integration"
	"fundgate/internal/verification/credas"
	id "fundgate/pkg/domain"
	"fundgate/pkg/requestcontext"
)

// Dispatcher re-issues failed credas_process events for the integration
// queue. It is constructed from the store and provider directly so the
// queue and the verification service can be wired in either order.
type Dispatcher struct {
	store    Store
	provider Provider
	logger   *slog.Logger
}

func NewDispatcher(store Store, provider Provider, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, provider: provider, logger: logger}
}

// Dispatch re-creates the provider process described by the event payload.
// On success it also moves the subject's profile to in_progress when the
// profile is still waiting; a profile that advanced in the meantime is left
// alone.
func (d *Dispatcher) Dispatch(ctx context.Context, event *integration.Event) (string, json.RawMessage, error) {
	if event.Target != integration.TargetCredasProcess || event.Payload.CredasProcess == nil {
		return "", nil, fmt.Errorf("no dispatcher for target %q", event.Target)
	}
	if d.provider == nil || !d.provider.Configured() {
		return "", nil, fmt.Errorf("identity provider is not configured")
	}

	payload := event.Payload.CredasProcess
	process, err := d.provider.CreateProcess(ctx, credas.Person{
		Email:     payload.Email,
		FirstName: payload.FirstName,
		Surname:   payload.Surname,
	})
	if err != nil {
		return "", errorResponse(err), err
	}

	d.applyToProfile(ctx, event.SubjectID, process)
	return process.ProcessID, process.Raw, nil
}

func (d *Dispatcher) applyToProfile(ctx context.Context, subjectID string, process *credas.Process) {
	userID, err := id.ParseUserID(subjectID)
	if err != nil {
		d.logger.WarnContext(ctx, "resend subject is not a user id", "subject_id", subjectID)
		return
	}

	now := requestcontext.Now(ctx)
	journeyID := d.provider.JourneyID()
	if _, err := d.store.Execute(ctx, userID,
		func(p *Profile) error {
			// A leftover claim from a dispatch that never settled may also
			// take the resent process.
			if !p.CanStart() && !p.Claimed() {
				return fmt.Errorf("profile already %s", p.Status)
			}
			return nil
		},
		func(p *Profile) {
			p.ApplyStarted(process.ProcessID, process.EntityID, journeyID, now)
		},
	); err != nil {
		d.logger.WarnContext(ctx, "resent process not applied to profile",
			"user_id", userID,
			"process_id", process.ProcessID,
			"error", err,
		)
	}
}
