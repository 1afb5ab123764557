package domain

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleDeveloper Role = "developer"
)

func ValidRole(r string) bool {
	switch Role(r) {
	case RoleAdmin, RoleUser, RoleDeveloper:
		return true
	}
	return false
}

// Elevated roles may act on memories they do not own.
func (r Role) Elevated() bool {
	return r == RoleAdmin
}

// Actor is a resolved identity. The engine trusts it for every authorization
// decision.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActorID identifies engine-initiated writes (auto-commit, sweeps).
const SystemActorID = "system"

var SystemActor = Actor{ID: SystemActorID, Role: RoleAdmin}

// CanAccess reports whether the actor may read or change data owned by ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.ID == ownerID || a.Role.Elevated()
}
