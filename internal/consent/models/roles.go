package models

// Role identifies what a governance actor is allowed to do. Role resolution
// happens outside this core; the JWT middleware injects the role string and
// these predicates are the single place that interprets it.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleDataSteward Role = "data-steward"
	RoleAppOwner    Role = "app-owner"
	RoleCTO         Role = "cto-user"
	RoleDPO         Role = "dpo-user"
	RoleCSIO        Role = "csio-user"
)

// Actor is the current governance actor as supplied by the identity provider.
type Actor struct {
	ID   string
	Role Role
}

// CanApprove reports whether a role may approve or reject consent requests.
// Centralized here so authorization logic is never duplicated at call sites.
func CanApprove(r Role) bool {
	switch r {
	case RoleAdmin, RoleDataSteward, RoleDPO:
		return true
	default:
		return false
	}
}

const (
	ApproverGroupAdmin = "ADMIN-GROUP"
	ApproverGroupDPO   = "DPO-GROUP"
)

// ApproverGroupFor derives the approver-group label recorded with each
// decision. DPO approvals are segregated in the audit trail even though the
// authorization rule itself treats all approving roles alike.
func ApproverGroupFor(r Role) string {
	if r == RoleDPO {
		return ApproverGroupDPO
	}
	return ApproverGroupAdmin
}
