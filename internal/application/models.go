package application

import (
	"time"

	id "fundgate/pkg/domain"
)

// Status of a funding application.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusUnderReview   Status = "under_review"
	StatusInfoRequested Status = "info_requested"
	StatusApproved      Status = "approved"
	StatusDeclined      Status = "declined"
	StatusCompleted     Status = "completed"
)

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal statuses end the application's life; no edges leave them.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0 && s.Valid()
}

// statusTransitions is the full lifecycle graph. under_review and
// info_requested cycle while the broker gathers documents; nothing ever
// returns to draft.
var statusTransitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusUnderReview},
	StatusUnderReview:   {StatusInfoRequested, StatusApproved, StatusDeclined},
	StatusInfoRequested: {StatusUnderReview},
	StatusApproved:      {StatusCompleted},
	StatusDeclined:      {},
	StatusCompleted:     {},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TimelineEntry is one append-only status change record.
type TimelineEntry struct {
	Status  Status    `json:"status"`
	ActorID id.UserID `json:"actor_id"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Application is a developer's funding application. The timeline's last
// entry always matches Status; every mutation appends exactly one entry.
type Application struct {
	ID               id.ApplicationID
	DeveloperID      id.UserID
	AssignedBrokerID id.UserID
	Title            string
	Status           Status
	Timeline         []TimelineEntry
	SubmittedAt      *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDraft creates a draft application with its opening timeline entry.
func NewDraft(developerID id.UserID, title string, now time.Time) *Application {
	return &Application{
		ID:          id.NewApplicationID(),
		DeveloperID: developerID,
		Title:       title,
		Status:      StatusDraft,
		Timeline: []TimelineEntry{{
			Status:  StatusDraft,
			ActorID: developerID,
			At:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Application) appendTimeline(status Status, actorID id.UserID, note string, now time.Time) {
	a.Timeline = append(a.Timeline, TimelineEntry{
		Status:  status,
		ActorID: actorID,
		Note:    note,
		At:      now,
	})
}

// CanSubmit reports whether the developer may submit.
func (a *Application) CanSubmit() bool {
	return a.Status == StatusDraft
}

// ApplySubmit moves a draft to submitted.
func (a *Application) ApplySubmit(actorID id.UserID, now time.Time) {
	a.Status = StatusSubmitted
	a.SubmittedAt = &now
	a.UpdatedAt = now
	a.appendTimeline(StatusSubmitted, actorID, "", now)
}

// ApplyAdvance moves the application along a validated edge.
func (a *Application) ApplyAdvance(next Status, actorID id.UserID, note string, now time.Time) {
	a.Status = next
	if next == StatusCompleted {
		a.CompletedAt = &now
	}
	a.UpdatedAt = now
	a.appendTimeline(next, actorID, note, now)
}

// ApplyAssignBroker records the broker responsible for advancement.
func (a *Application) ApplyAssignBroker(brokerID id.UserID, now time.Time) {
	a.AssignedBrokerID = brokerID
	a.UpdatedAt = now
}
