package auth

// Permission represents a named capability.
type Permission string

const (
	PermDeviceRead         Permission = "device:read"
	PermDeviceManage       Permission = "device:manage"
	PermCommandRead        Permission = "command:read"
	PermCommandDispatch    Permission = "command:dispatch"
	PermActivityRead       Permission = "activity:read"
	PermRegistrationManage Permission = "registration:manage"
	PermUserManage         Permission = "user:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermCommandRead,
		PermActivityRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermCommandRead,
		PermActivityRead,
		PermCommandDispatch,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermCommandRead,
		PermActivityRead,
		PermCommandDispatch,
		PermDeviceManage,
		PermRegistrationManage,
		PermUserManage,
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
