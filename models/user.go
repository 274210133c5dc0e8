package models

// Role names a permission level carried in JWT claims.
type Role string

const (
	// RoleAdmin may do everything, including entity deletion and cleanup.
	RoleAdmin Role = "admin"

	// RoleOperator may mutate rules and alerts and ingest metrics.
	RoleOperator Role = "operator"

	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

// User is an operator account. Accounts are defined in the server
// configuration; PasswordHash is a bcrypt digest and never serialized.
type User struct {
	Username     string `json:"username" mapstructure:"username"`
	PasswordHash string `json:"-" mapstructure:"password_hash"`
	Roles        []Role `json:"roles" mapstructure:"roles"`
	Disabled     bool   `json:"disabled,omitempty" mapstructure:"disabled"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
