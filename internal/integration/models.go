package integration

import (
	"encoding/json"
	"time"

	id "fundgate/pkg/domain"
)

// Target identifies the external system an event talks to.
type Target string

const (
	// TargetCredasProcess covers verification-process creation calls to
	// the Credas API.
	TargetCredasProcess Target = "credas_process"
)

// SubjectType tells which aggregate an event belongs to.
type SubjectType string

const (
	SubjectVerificationProfile SubjectType = "verification_profile"
	SubjectApplication         SubjectType = "application"
)

// Status of an integration event.
//
// Events are never deleted: the table is the durable record of "did we
// already try this", which is what prevents duplicate verification-process
// creation when a request is retried client-side.
type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
	StatusResent Status = "resent"
)

// statusTransitions is the allowed edge set. RetryCount increments only on
// the failed -> resent edge.
var statusTransitions = map[Status][]Status{
	StatusQueued: {StatusSent, StatusFailed},
	StatusSent:   {StatusFailed},
	StatusFailed: {StatusResent},
	StatusResent: {StatusSent, StatusFailed},
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is an allowed edge.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CredasProcessPayload is the known payload shape for TargetCredasProcess.
type CredasProcessPayload struct {
	JourneyID  string `json:"journey_id"`
	Title      string `json:"title"`
	WebhookURL string `json:"webhook_url"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	Surname    string `json:"surname"`
}

// Payload is a closed tagged union of known event payload shapes per
// target, with an opaque fallback for shapes the engine does not model.
// Exactly one field should be set.
type Payload struct {
	CredasProcess *CredasProcessPayload `json:"credas_process,omitempty"`
	Raw           json.RawMessage       `json:"raw,omitempty"`
}

// Event is one durable record of an outbound or inbound integration
// attempt, with retry bookkeeping.
type Event struct {
	ID                id.EventID
	SubjectType       SubjectType
	SubjectID         string
	Target            Target
	ProviderProcessID string
	Status            Status
	RetryCount        int
	LastAttemptedAt   *time.Time
	Payload           Payload
	Response          json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanMarkSent validates the transition to sent.
func (e *Event) CanMarkSent() bool {
	return e.Status.CanTransitionTo(StatusSent)
}

// ApplySent records a successful dispatch.
func (e *Event) ApplySent(processID string, response json.RawMessage, now time.Time) {
	e.Status = StatusSent
	if processID != "" {
		e.ProviderProcessID = processID
	}
	e.Response = response
	e.LastAttemptedAt = &now
	e.UpdatedAt = now
}

// CanMarkFailed validates the transition to failed.
func (e *Event) CanMarkFailed() bool {
	return e.Status.CanTransitionTo(StatusFailed)
}

// ApplyFailed records a failed dispatch.
func (e *Event) ApplyFailed(response json.RawMessage, now time.Time) {
	e.Status = StatusFailed
	e.Response = response
	e.LastAttemptedAt = &now
	e.UpdatedAt = now
}

// CanResend validates the failed -> resent transition against the retry cap.
func (e *Event) CanResend(maxRetries int) error {
	if !e.Status.CanTransitionTo(StatusResent) {
		return errInvalidResendState
	}
	if e.RetryCount >= maxRetries {
		return errRetryExhausted
	}
	return nil
}

// ApplyResend increments the retry counter and marks the event resent.
func (e *Event) ApplyResend(now time.Time) {
	e.Status = StatusResent
	e.RetryCount++
	e.LastAttemptedAt = &now
	e.UpdatedAt = now
}
