package editor

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
)

// AllRoles selects every role column.
const AllRoles = "all"

// Filter narrows the rendered matrix.
type Filter struct {
	Search string
	RoleID string
}

// View is the projection of a session through a Filter.
type View struct {
	Modules []permissions.Module `json:"modules"`
	Roles   []permissions.Role   `json:"roles"`
}

// Apply projects the state through f. Modules match when their name or
// description contains the search text, compared case-folded; an empty
// search keeps every module. An empty or "all" role keeps every role.
func (f Filter) Apply(state State) View {
	folder := cases.Fold()
	query := folder.String(strings.TrimSpace(f.Search))

	modules := make([]permissions.Module, 0, len(state.Modules))
	for _, m := range state.Modules {
		if query == "" ||
			strings.Contains(folder.String(m.Name), query) ||
			strings.Contains(folder.String(m.Description), query) {
			modules = append(modules, m)
		}
	}

	roles := make([]permissions.Role, 0, len(state.Roles))
	for _, r := range state.Roles {
		if f.RoleID == "" || f.RoleID == AllRoles || r.ID == f.RoleID {
			roles = append(roles, r)
		}
	}
	return View{Modules: modules, Roles: roles}
}
