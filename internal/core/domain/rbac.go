package domain

// Role is the coarse privilege tier attached to every account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRanks = map[Role]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

// Rank returns the position of the role in the hierarchy. Unknown roles rank 0.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether the role is part of the hierarchy.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// HasPermission reports whether actual satisfies required.
func HasPermission(actual, required Role) bool {
	return actual.Rank() >= required.Rank()
}
