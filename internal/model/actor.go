package model

// Roles supplied by the authentication collaborator.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleStaff    = "staff"
	RoleDelivery = "delivery_service"
	RoleSystem   = "system"
)

// Actor is the acting principal of a call. The core trusts the identity and
// only enforces role-within-workflow guards.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is used for scheduler-driven operations.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
