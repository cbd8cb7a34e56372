package permissions

import (
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// Table maps role id -> module id -> GrantSet. Missing entries read as empty.
// Mutating helpers return a new Table and leave the receiver untouched; only
// the maps along the changed path are copied.
type Table map[string]map[string]GrantSet

// Hydrate builds a table from the permissions embedded in each role.
func Hydrate(roles []Role) Table {
	table := make(Table, len(roles))
	for _, role := range roles {
		modules := make(map[string]GrantSet, len(role.Permissions))
		for moduleID, actions := range role.Permissions {
			modules[moduleID] = NewGrantSet(actions...)
		}
		table[role.ID] = modules
	}
	return table
}

// Conform returns a copy of the table restricted to the catalog: cells of
// unknown modules and actions outside a module's vocabulary are dropped. Role
// keys are kept. The second result counts the dropped grants.
func (t Table) Conform(catalog Catalog) (Table, int) {
	out := make(Table, len(t))
	dropped := 0
	for roleID, modules := range t {
		kept := make(map[string]GrantSet, len(modules))
		for moduleID, set := range modules {
			module, ok := catalog.Module(moduleID)
			if !ok {
				dropped += len(set)
				continue
			}
			next := make(GrantSet, len(set))
			for action := range set {
				if module.Supports(action) {
					next[action] = struct{}{}
					continue
				}
				dropped++
			}
			kept[moduleID] = next
		}
		out[roleID] = kept
	}
	return out, dropped
}

// Get returns the GrantSet for a cell, empty when absent.
func (t Table) Get(roleID, moduleID string) GrantSet {
	if modules, ok := t[roleID]; ok {
		if set, ok := modules[moduleID]; ok {
			return set
		}
	}
	return GrantSet{}
}

// Has reports whether roleID holds action on moduleID.
func (t Table) Has(roleID, moduleID string, action Action) bool {
	return t.Get(roleID, moduleID).Has(action)
}

// Set returns a table whose (roleID, moduleID) cell is replaced by set.
func (t Table) Set(roleID, moduleID string, set GrantSet) Table {
	out := make(Table, len(t)+1)
	for id, modules := range t {
		out[id] = modules
	}
	modules := make(map[string]GrantSet, len(t[roleID])+1)
	for id, existing := range t[roleID] {
		modules[id] = existing
	}
	modules[moduleID] = set.Clone()
	out[roleID] = modules
	return out
}

// Toggle flips membership of action in one cell.
func (t Table) Toggle(roleID, moduleID string, action Action) Table {
	current := t.Get(roleID, moduleID)
	if current.Has(action) {
		return t.Set(roleID, moduleID, current.Without(action))
	}
	return t.Set(roleID, moduleID, current.With(action))
}

// GrantAll replaces a cell with the full vocabulary.
func (t Table) GrantAll(roleID, moduleID string, vocabulary []Action) Table {
	return t.Set(roleID, moduleID, NewGrantSet(vocabulary...))
}

// RevokeAll replaces a cell with the empty set.
func (t Table) RevokeAll(roleID, moduleID string) Table {
	return t.Set(roleID, moduleID, GrantSet{})
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for roleID, modules := range t {
		copied := make(map[string]GrantSet, len(modules))
		for moduleID, set := range modules {
			copied[moduleID] = set.Clone()
		}
		out[roleID] = copied
	}
	return out
}

// RoleIDs lists the role keys in lexical order.
func (t Table) RoleIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Permissions renders one role row in the wire shape embedded in Role.
func (t Table) Permissions(roleID string) map[string][]Action {
	modules := t[roleID]
	out := make(map[string][]Action, len(modules))
	for moduleID, set := range modules {
		if len(set) == 0 {
			continue
		}
		out[moduleID] = set.Sorted()
	}
	return out
}

// Validate checks that every key references a known role or module and that
// every granted action belongs to its module vocabulary.
func (t Table) Validate(roleIDs map[string]struct{}, catalog Catalog) error {
	for roleID, modules := range t {
		if _, ok := roleIDs[roleID]; !ok {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidTable, roleID)
		}
		for moduleID, set := range modules {
			module, ok := catalog.Module(moduleID)
			if !ok {
				return fmt.Errorf("%w: unknown module %q", ErrInvalidTable, moduleID)
			}
			for action := range set {
				if !module.Supports(action) {
					return fmt.Errorf("%w: action %q not declared by module %q", ErrInvalidTable, action, moduleID)
				}
			}
		}
	}
	return nil
}

// Diff lists the cells whose membership differs between before and after,
// ordered by role then module.
func Diff(before, after Table) []CellChange {
	cells := make(map[Cell]struct{})
	for _, t := range []Table{before, after} {
		for roleID, modules := range t {
			for moduleID := range modules {
				cells[Cell{RoleID: roleID, ModuleID: moduleID}] = struct{}{}
			}
		}
	}
	var changes []CellChange
	for cell := range cells {
		prev := before.Get(cell.RoleID, cell.ModuleID)
		next := after.Get(cell.RoleID, cell.ModuleID)
		if prev.Equal(next) {
			continue
		}
		change := CellChange{RoleID: cell.RoleID, ModuleID: cell.ModuleID}
		for a := range next {
			if !prev.Has(a) {
				change.Added = append(change.Added, a)
			}
		}
		for a := range prev {
			if !next.Has(a) {
				change.Removed = append(change.Removed, a)
			}
		}
		SortActions(change.Added)
		SortActions(change.Removed)
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].RoleID != changes[j].RoleID {
			return changes[i].RoleID < changes[j].RoleID
		}
		return changes[i].ModuleID < changes[j].ModuleID
	})
	return changes
}

// Scopes flattens the modules granted to the given roles into "module.action"
// strings, deduplicated and sorted.
func (t Table) Scopes(roleIDs ...string) []string {
	seen := make(map[string]struct{})
	for _, roleID := range roleIDs {
		for moduleID, set := range t[roleID] {
			for action := range set {
				seen[shared.Scope(moduleID, string(action))] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for scope := range seen {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
