package natours

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role for new accounts
	RoleUser UserRole = "user"
	// RoleGuide leads tours
	RoleGuide UserRole = "guide"
	// RoleLeadGuide manages tours and guides
	RoleLeadGuide UserRole = "lead-guide"
	// RoleAdmin has full access
	RoleAdmin UserRole = "admin"
)

// AllRoles lists every valid role
var AllRoles = []UserRole{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer
func (r UserRole) String() string {
	return string(r)
}

// In reports whether the role is part of allowed
func (r UserRole) In(allowed ...UserRole) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

func roleValues() []any {
	out := make([]any, 0, len(AllRoles))
	for _, r := range AllRoles {
		out = append(out, r)
	}
	return out
}
