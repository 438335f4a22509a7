package rbac

import "github.com/pilab-dev/shadow-auth/domain"

// GroupAdmin is the operator group. Every account also carries domain.DefaultGroup.
const GroupAdmin = "ADMIN"

// Account self-service
const (
	PermProfileReadSelf   = "profile:read_self"
	PermProfileUpdateSelf = "profile:update_self"
	PermOAuthBindSelf     = "oauth:bind_self"
	PermEmailBindSelf     = "email:bind_self"
	PermSessionsClearSelf = "sessions:clear_self"
)

// Operator permissions
const (
	PermUsersReadAll     = "users:read_all"
	PermUsersUpdateAll   = "users:update_all"
	PermGroupsManage     = "groups:manage"
	PermSessionsClearAll = "sessions:clear_all"
)

// DefaultGroupPermissions seeds the group permission store at startup.
var DefaultGroupPermissions = map[string][]string{
	domain.DefaultGroup: {
		PermProfileReadSelf,
		PermProfileUpdateSelf,
		PermOAuthBindSelf,
		PermEmailBindSelf,
		PermSessionsClearSelf,
	},
	GroupAdmin: {
		PermUsersReadAll,
		PermUsersUpdateAll,
		PermGroupsManage,
		PermSessionsClearAll,
	},
}

// HasPermission reports whether required is among permissions.
func HasPermission(permissions []string, required string) bool {
	for _, perm := range permissions {
		if perm == required {
			return true
		}
	}
	return false
}
