package identity

import "strings"

// Built-in role names. The allowed set is configurable per Registry but
// defaults to exactly these three.
const (
	RoleAdmin  = "admin"
	RoleMentor = "mentor"
	RoleUser   = "user"
)

// DefaultRole is assigned to every account at registration.
const DefaultRole = RoleUser

// ClaimTypePermission is the claim type conventionally naming an allowed
// action, e.g. {permission, user.ban}.
const ClaimTypePermission = "permission"

// Permission claim values gating privileged operations.
const (
	PermissionUserCreate = "user.create"
	PermissionUserUpdate = "user.update"
	PermissionUserDelete = "user.delete"
	PermissionUserBan    = "user.ban"
	PermissionUserUnban  = "user.unban"
	PermissionRoleCreate = "role.create"
	PermissionRoleUpdate = "role.update"
	PermissionRoleDelete = "role.delete"
	PermissionRoleAssign = "role.assign"
)

// AllPermissions returns every permission claim value the policy knows about.
func AllPermissions() []string {
	return []string{
		PermissionUserCreate,
		PermissionUserUpdate,
		PermissionUserDelete,
		PermissionUserBan,
		PermissionUserUnban,
		PermissionRoleCreate,
		PermissionRoleUpdate,
		PermissionRoleDelete,
		PermissionRoleAssign,
	}
}

// PermissionClaim builds the role claim carrying a permission value.
func PermissionClaim(value string) Claim {
	return Claim{Type: ClaimTypePermission, Value: value}
}

// DefaultAllowedRoles returns the built-in role-name whitelist.
func DefaultAllowedRoles() []string {
	return []string{RoleAdmin, RoleMentor, RoleUser}
}

// roleSet is a case-insensitive role-name membership set.
type roleSet map[string]struct{}

func newRoleSet(names ...string) roleSet {
	set := make(roleSet, len(names))
	for _, name := range names {
		set[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return set
}

func (s roleSet) contains(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
