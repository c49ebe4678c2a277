package domain

// Role is the coarse access role carried in the auth token. The console UI
// scopes navigation by role; the engine re-checks it on every mutation.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleBroker    Role = "broker"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDeveloper, RoleBroker, RoleAdmin:
		return true
	}
	return false
}
