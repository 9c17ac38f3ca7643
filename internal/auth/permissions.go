package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read the registry and follow the event stream.
	RoleViewer Role = "viewer"

	// RoleAdmin may additionally open the network for joining and remove devices.
	RoleAdmin Role = "admin"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleViewer || r == RoleAdmin
}

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceRemove  Permission = "device:remove"
	PermNetworkPermit Permission = "network:permit"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceRemove,
		PermNetworkPermit,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
