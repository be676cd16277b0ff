// Package rbac decides what a caller may do with a project based on how
// they relate to it.
package rbac

type Role string
type Action string

const (
	RoleAnonymous Role = "anonymous"
	RoleReviewer  Role = "reviewer"
	RoleOwner     Role = "owner"
	RoleOperator  Role = "operator"
)

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionSubmit Action = "submit"
	ActionGrade  Action = "grade"

	// ActionConfigure changes service-wide settings such as phase durations.
	ActionConfigure Action = "configure"
)

// RoleOf returns caller's role on a project owned by owner.
func RoleOf(owner, caller string) Role {
	switch {
	case caller == "":
		return RoleAnonymous
	case caller == owner:
		return RoleOwner
	default:
		return RoleReviewer
	}
}

// Can reports whether role may perform action. Owners edit and close their
// own phases but never grade them; reviewers only read and grade.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return action == ActionRead || action == ActionEdit || action == ActionSubmit
	case RoleReviewer:
		return action == ActionRead || action == ActionGrade
	case RoleOperator:
		return action == ActionRead || action == ActionConfigure
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

// Operators is the set of callers allowed to reconfigure the service.
type Operators map[string]bool

func NewOperators(ids []string) Operators {
	ops := make(Operators, len(ids))
	for _, id := range ids {
		if id != "" {
			ops[id] = true
		}
	}
	return ops
}

// RoleOf returns RoleOperator for listed callers. Anyone else is treated
// like a project outsider.
func (o Operators) RoleOf(caller string) Role {
	switch {
	case caller == "":
		return RoleAnonymous
	case o[caller]:
		return RoleOperator
	default:
		return RoleReviewer
	}
}
