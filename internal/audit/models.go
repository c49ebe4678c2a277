package audit

import (
	"time"

	"github.com/google/uuid"

	id "fundgate/pkg/domain"
)

// Action names a meaningful state change. Values are stable identifiers
// consumed by the admin dashboard; renaming one is a breaking change.
type Action string

const (
	// Verification events
	ActionVerificationRequested Action = "credas_verification_requested"
	ActionVerificationComplete  Action = "credas_verification_complete"
	ActionVerificationReset     Action = "credas_verification_reset"

	// Application events
	ActionApplicationCreated      Action = "application_created"
	ActionApplicationSubmitted    Action = "application_submitted"
	ActionApplicationStatusChange Action = "application_status_change"
	ActionBrokerAssigned          Action = "application_broker_assigned"

	// Integration events
	ActionIntegrationEventResent Action = "integration_event_resent"
)

// Resource types referenced by audit entries.
const (
	ResourceVerificationProfile = "verification_profile"
	ResourceApplication         = "application"
	ResourceIntegrationEvent    = "integration_event"
)

// Entry is an immutable audit fact. Entries are append-only: nothing in the
// engine updates or deletes one. Ordering by Timestamp is best-effort; there
// is no distributed clock guarantee.
//
// IPAddress and Device describe the client behind the acting request. The
// recorder fills them from the request context when the caller leaves them
// empty; system-originated entries (webhook callbacks) carry the provider's
// address.
type Entry struct {
	ID           uuid.UUID
	ActorID      id.UserID
	Action       Action
	ResourceType string
	ResourceID   string
	Details      string
	IPAddress    string
	Device       string
	Timestamp    time.Time
}

// Query filters the read-only audit surface consumed by the admin
// dashboard. Zero values mean "no filter".
type Query struct {
	ActorID      id.UserID
	Action       Action
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}
