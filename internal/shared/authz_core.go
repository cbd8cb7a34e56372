package shared

import "strings"

// Modules gating the dashboard's own administration pages.
const (
	ModuleUsers       = "users"
	ModuleRoles       = "roles"
	ModulePermissions = "permissions"
)

// Scopes checked by the administration handlers, in "module.action" form.
const (
	PermUsersView = ModuleUsers + ".view"
	PermUsersEdit = ModuleUsers + ".edit"

	PermRolesView = ModuleRoles + ".view"
	PermRolesEdit = ModuleRoles + ".edit"

	PermPermissionsView = ModulePermissions + ".view"
	PermPermissionsEdit = ModulePermissions + ".edit"
)

// Scope joins a module id and an action into a permission scope.
func Scope(moduleID, action string) string {
	return moduleID + "." + action
}

// SplitScope is the inverse of Scope. Module ids never contain dots, so the
// split happens at the first one.
func SplitScope(scope string) (moduleID, action string, ok bool) {
	moduleID, action, ok = strings.Cut(scope, ".")
	if !ok || moduleID == "" || action == "" {
		return "", "", false
	}
	return moduleID, action, true
}
