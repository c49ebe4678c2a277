package verification

import (
	"encoding/json"
	"time"

	id "fundgate/pkg/domain"
)

// Status of a verification profile. A profile is created lazily on the
// first verification request; absence is equivalent to not_started.
type Status string

const (
	StatusNotStarted   Status = "not_started"
	StatusInProgress   Status = "in_progress"
	StatusPassed       Status = "passed"
	StatusFailed       Status = "failed"
	StatusManualReview Status = "manual_review"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPassed, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// Terminal statuses never change again except through an explicit admin
// reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// Profile is one user's identity-verification state against the provider.
// A profile with a process id is by definition at least in_progress; an
// in_progress profile without one is a claim whose dispatch has not
// settled yet.
type Profile struct {
	UserID            id.UserID
	Status            Status
	KYCStatus         Status
	ProviderProcessID string
	ProviderEntityID  string
	JourneyID         string
	CompletedAt       *time.Time
	KYCCheckedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewProfile returns a fresh not_started profile for userID.
func NewProfile(userID id.UserID, now time.Time) *Profile {
	return &Profile{
		UserID:    userID,
		Status:    StatusNotStarted,
		KYCStatus: StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanStart reports whether a new provider process may be created.
func (p *Profile) CanStart() bool {
	return p.Status == StatusNotStarted
}

// ApplyClaimed reserves the profile for a dispatch in flight: CanStart goes
// false before the provider call is made, so a concurrent request cannot
// open a second process. ApplyStarted settles the claim; a failed dispatch
// releases it with ApplyReset.
func (p *Profile) ApplyClaimed(now time.Time) {
	p.Status = StatusInProgress
	p.UpdatedAt = now
}

// Claimed reports a reserved profile whose dispatch has not settled yet.
func (p *Profile) Claimed() bool {
	return p.Status == StatusInProgress && p.ProviderProcessID == ""
}

// ApplyStarted records a successfully created provider process.
func (p *Profile) ApplyStarted(processID, entityID, journeyID string, now time.Time) {
	p.Status = StatusInProgress
	p.ProviderProcessID = processID
	p.ProviderEntityID = entityID
	p.JourneyID = journeyID
	p.UpdatedAt = now
}

// CanComplete reports whether a provider result may still land on this
// profile. Terminal profiles reject further results: completion is
// first-writer-wins.
func (p *Profile) CanComplete() bool {
	return p.Status == StatusInProgress
}

// ApplyResult records the provider's terminal outcome, mirroring it onto
// the KYC columns the way downstream consumers expect.
func (p *Profile) ApplyResult(result Status, now time.Time) {
	p.Status = result
	p.KYCStatus = result
	p.CompletedAt = &now
	p.KYCCheckedAt = &now
	p.UpdatedAt = now
}

// CanReset reports whether an admin reset is allowed. Resetting an
// in_progress profile would orphan its live provider process, so in flight
// only an unsettled claim (no process recorded) may be reset.
func (p *Profile) CanReset() bool {
	return p.Status.Terminal() || p.Claimed()
}

// ApplyReset returns the profile to not_started, clearing provider ids so
// a new process can be requested.
func (p *Profile) ApplyReset(now time.Time) {
	p.Status = StatusNotStarted
	p.KYCStatus = StatusNotStarted
	p.ProviderProcessID = ""
	p.ProviderEntityID = ""
	p.JourneyID = ""
	p.CompletedAt = nil
	p.KYCCheckedAt = nil
	p.UpdatedAt = now
}

// Contact is the slice of user identity needed to open a provider process.
type Contact struct {
	Email     string
	FirstName string
	Surname   string
}

// Snapshot is the read model returned to status pollers. Live carries the
// provider's raw summary when the profile is in flight and the provider was
// reachable; it is nil on any degradation.
type Snapshot struct {
	Status      Status          `json:"verification_status"`
	KYCStatus   Status          `json:"kyc_status,omitempty"`
	HasProcess  bool            `json:"has_process"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Live        json.RawMessage `json:"live_status,omitempty"`
}
