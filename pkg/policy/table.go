package policy

import (
	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/auth"
)

// rule lists what a permission requires. A nil role set admits any role.
type rule struct {
	view  bool
	edit  bool
	roles []auth.SystemRole
}

// permissionTable is the only place permissions are resolved. Approve needs an
// elevated membership role on top of the edit flag.
var permissionTable = map[Permission]rule{
	PermissionRead:    {view: true},
	PermissionWrite:   {edit: true},
	PermissionExport:  {view: true},
	PermissionDelete:  {edit: true},
	PermissionApprove: {edit: true, roles: []auth.SystemRole{auth.RoleAdmin, auth.RoleStaff}},
}

// Satisfies reports whether access and the membership role grant permission
func Satisfies(access *ModuleAccess, role auth.SystemRole, permission Permission) bool {
	return denial(access, role, permission) == ""
}

// denial returns the code explaining why permission is not granted, or ""
func denial(access *ModuleAccess, role auth.SystemRole, permission Permission) apperrors.Code {
	r, ok := permissionTable[permission]
	if !ok || access == nil {
		return apperrors.CodePermissionDenied
	}
	if r.view && !access.CanView {
		return apperrors.CodePermissionDenied
	}
	if r.edit && !access.CanEdit {
		return apperrors.CodePermissionDenied
	}
	if r.roles != nil && !roleIn(role, r.roles) {
		return apperrors.CodeApprovalRequiresRole
	}
	return ""
}

func roleIn(role auth.SystemRole, roles []auth.SystemRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionsFor returns every permission granted by access under role, in table order
func PermissionsFor(access *ModuleAccess, role auth.SystemRole) []Permission {
	perms := make([]Permission, 0, len(permissionTable))
	for _, p := range AllPermissions() {
		if Satisfies(access, role, p) {
			perms = append(perms, p)
		}
	}
	return perms
}
