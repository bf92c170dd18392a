package auth

// Permission represents a named capability on the fleet dashboard API.
type Permission string

// Permission constants.
const (
	PermDisplayRead    Permission = "display:read"
	PermDisplayPair    Permission = "display:pair"
	PermDisplayCommand Permission = "display:command"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions is the single source of truth for the dashboard role model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDisplayRead,
	},
	RoleManager: {
		PermDisplayRead,
		PermDisplayPair,
		PermDisplayCommand,
	},
	RoleAdmin: {
		PermDisplayRead,
		PermDisplayPair,
		PermDisplayCommand,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
