package permissions

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// Action is an operation within a module's vocabulary.
type Action string

const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionApprove Action = "approve"
)

// DefaultActions is the vocabulary used when the catalog does not declare one.
func DefaultActions() []Action {
	return []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport, ActionApprove}
}

var actionRank = map[Action]int{
	ActionView:    0,
	ActionCreate:  1,
	ActionEdit:    2,
	ActionDelete:  3,
	ActionExport:  4,
	ActionApprove: 5,
}

var (
	// ErrNotFound indicates that a role or module does not exist.
	ErrNotFound = errors.New("permissions: not found")
	// ErrInvalidTable is returned when a table references unknown roles, modules or actions.
	ErrInvalidTable = errors.New("permissions: invalid table")
)

// Role is a permission subject.
type Role struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Code        string              `json:"code"`
	Color       string              `json:"color"`
	Permissions map[string][]Action `json:"permissions"`
}

// Module is a permission object together with its action vocabulary.
type Module struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
}

// Supports reports whether the action belongs to the module vocabulary.
func (m Module) Supports(action Action) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Catalog is the set of modules known at a point in time.
type Catalog struct {
	Modules []Module `json:"modules"`
	Actions []Action `json:"actions"`
}

// Module returns the module with the given id.
func (c Catalog) Module(id string) (Module, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

// WithInheritedActions fills the vocabulary gaps: an empty global list becomes
// DefaultActions and a module declaring no action inherits the global list.
// The receiver's module slice is not modified.
func (c Catalog) WithInheritedActions() Catalog {
	actions := c.Actions
	if len(actions) == 0 {
		actions = DefaultActions()
	}
	modules := make([]Module, len(c.Modules))
	copy(modules, c.Modules)
	for i := range modules {
		if len(modules[i].Actions) == 0 {
			modules[i].Actions = append([]Action(nil), actions...)
		}
	}
	return Catalog{Modules: modules, Actions: actions}
}

// GrantSet is the set of actions one role holds on one module. The zero
// value is an empty set; methods never mutate the receiver.
type GrantSet map[Action]struct{}

// NewGrantSet builds a set from the given actions, dropping duplicates.
func NewGrantSet(actions ...Action) GrantSet {
	set := make(GrantSet, len(actions))
	for _, a := range actions {
		a = Action(strings.TrimSpace(string(a)))
		if a == "" {
			continue
		}
		set[a] = struct{}{}
	}
	return set
}

// Has reports membership.
func (g GrantSet) Has(action Action) bool {
	_, ok := g[action]
	return ok
}

// With returns a copy containing action.
func (g GrantSet) With(action Action) GrantSet {
	out := g.Clone()
	out[action] = struct{}{}
	return out
}

// Without returns a copy lacking action.
func (g GrantSet) Without(action Action) GrantSet {
	out := g.Clone()
	delete(out, action)
	return out
}

// Clone returns an independent copy.
func (g GrantSet) Clone() GrantSet {
	out := make(GrantSet, len(g))
	for a := range g {
		out[a] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same actions.
func (g GrantSet) Equal(other GrantSet) bool {
	if len(g) != len(other) {
		return false
	}
	for a := range g {
		if _, ok := other[a]; !ok {
			return false
		}
	}
	return true
}

// Sorted lists the actions in vocabulary order, unknown actions last and lexically.
func (g GrantSet) Sorted() []Action {
	out := make([]Action, 0, len(g))
	for a := range g {
		out = append(out, a)
	}
	SortActions(out)
	return out
}

// MarshalJSON encodes the set as an ordered array.
func (g GrantSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Sorted())
}

// UnmarshalJSON decodes an array, collapsing duplicates.
func (g *GrantSet) UnmarshalJSON(data []byte) error {
	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return err
	}
	*g = NewGrantSet(actions...)
	return nil
}

// SortActions orders actions in place by the default vocabulary order.
func SortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		ri, iok := actionRank[actions[i]]
		rj, jok := actionRank[actions[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return actions[i] < actions[j]
		}
	})
}

// Cell addresses one (role, module) GrantSet.
type Cell struct {
	RoleID   string `json:"role_id"`
	ModuleID string `json:"module_id"`
}

// CellChange describes how one cell differs between two tables.
type CellChange struct {
	RoleID   string   `json:"role_id"`
	ModuleID string   `json:"module_id"`
	Added    []Action `json:"added,omitempty"`
	Removed  []Action `json:"removed,omitempty"`
}
