// Package editor implements the permission matrix editing session behind the
// dashboard's settings page: hydrate from the catalog, toggle and bulk-edit
// cells, track unsaved changes and persist the whole table.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
)

var (
	// ErrNotLoaded is returned by mutations before a successful Load.
	ErrNotLoaded = errors.New("editor: permissions not loaded")
	// ErrUnknownCell is returned when a role, module or action is not part of
	// the loaded catalog. The table is left untouched.
	ErrUnknownCell = errors.New("editor: unknown role, module or action")
	// ErrSaveInProgress is returned when Save is called while another save is in flight.
	ErrSaveInProgress = errors.New("editor: save already in progress")
	// ErrSaveFailed wraps the saver error of a failed Save.
	ErrSaveFailed = errors.New("editor: save failed")
)

// Loader fetches the catalog and roles the editor is hydrated from.
type Loader interface {
	ListModules(ctx context.Context) (permissions.Catalog, error)
	ListRoles(ctx context.Context) ([]permissions.Role, error)
}

// Saver persists a whole permission table.
type Saver interface {
	SavePermissions(ctx context.Context, table permissions.Table) error
}

// Editor holds one matrix editing session. It is safe for concurrent use;
// every mutation is applied atomically under the editor's lock.
type Editor struct {
	loader Loader
	saver  Saver

	mu       sync.Mutex
	loaded   bool
	catalog  permissions.Catalog
	roles    []permissions.Role
	table    permissions.Table
	dirty    bool
	saving   bool
	stale    bool
	revision uint64
}

// New builds an editor over the given collaborators.
func New(loader Loader, saver Saver) *Editor {
	return &Editor{loader: loader, saver: saver}
}

// Load fetches modules and roles and rebuilds the table from the roles'
// embedded permissions, discarding unsaved edits. Grants on unknown modules or
// outside a module's vocabulary are left out of the table. When either fetch fails the
// editor is left unloaded and mutations return ErrNotLoaded.
func (e *Editor) Load(ctx context.Context) error {
	var (
		catalog permissions.Catalog
		roles   []permissions.Role
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, err = e.loader.ListModules(gctx)
		if err != nil {
			return fmt.Errorf("editor: load modules: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		roles, err = e.loader.ListRoles(gctx)
		if err != nil {
			return fmt.Errorf("editor: load roles: %w", err)
		}
		return nil
	})
	err := g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.revision++
	if err != nil {
		e.loaded = false
		e.catalog = permissions.Catalog{}
		e.roles = nil
		e.table = nil
		e.dirty = false
		e.stale = false
		return err
	}
	e.catalog = catalog.WithInheritedActions()
	e.roles = roles
	e.table, _ = permissions.Hydrate(roles).Conform(e.catalog)
	e.loaded = true
	e.dirty = false
	e.stale = false
	return nil
}

// MarkStale flags a loaded editor whose catalog or roles changed server-side.
// The working table is kept; the next Load clears the flag.
func (e *Editor) MarkStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return false
	}
	e.stale = true
	return true
}

// Toggle flips membership of action in the (roleID, moduleID) cell.
func (e *Editor) Toggle(roleID, moduleID string, action permissions.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	module, ok := e.cell(roleID, moduleID)
	if !ok || !module.Supports(action) {
		return ErrUnknownCell
	}
	e.apply(e.table.Toggle(roleID, moduleID, action))
	return nil
}

// GrantAll sets the cell to the module's current vocabulary.
func (e *Editor) GrantAll(moduleID, roleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	module, ok := e.cell(roleID, moduleID)
	if !ok {
		return ErrUnknownCell
	}
	e.apply(e.table.GrantAll(roleID, moduleID, module.Actions))
	return nil
}

// RevokeAll empties the cell.
func (e *Editor) RevokeAll(moduleID, roleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if _, ok := e.cell(roleID, moduleID); !ok {
		return ErrUnknownCell
	}
	e.apply(e.table.RevokeAll(roleID, moduleID))
	return nil
}

// Save submits the whole table in one call. On success the dirty flag is
// cleared unless the table was edited while the request was in flight. On
// failure the table and dirty flag are kept so Save can simply be retried.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if e.saving {
		e.mu.Unlock()
		return ErrSaveInProgress
	}
	e.saving = true
	snapshot := e.table
	revision := e.revision
	e.mu.Unlock()

	err := e.saver.SavePermissions(ctx, snapshot)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saving = false
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if e.revision == revision {
		e.dirty = false
	}
	return nil
}

// Has reports whether roleID holds action on moduleID in the working table.
func (e *Editor) Has(roleID, moduleID string, action permissions.Action) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Has(roleID, moduleID, action)
}

// Dirty reports whether the working table has unsaved edits.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// State is a point-in-time copy of the session.
type State struct {
	Loaded  bool                 `json:"loaded"`
	Dirty   bool                 `json:"dirty"`
	Saving  bool                 `json:"saving"`
	Stale   bool                 `json:"stale"`
	Actions []permissions.Action `json:"actions"`
	Modules []permissions.Module `json:"modules"`
	Roles   []permissions.Role   `json:"roles"`
	Table   permissions.Table    `json:"permissions"`
}

// Snapshot returns a copy of the session safe to hand to other goroutines.
func (e *Editor) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Loaded:  e.loaded,
		Dirty:   e.dirty,
		Saving:  e.saving,
		Stale:   e.stale,
		Actions: append([]permissions.Action(nil), e.catalog.Actions...),
		Modules: append([]permissions.Module(nil), e.catalog.Modules...),
		Roles:   append([]permissions.Role(nil), e.roles...),
		Table:   e.table.Clone(),
	}
}

func (e *Editor) cell(roleID, moduleID string) (permissions.Module, bool) {
	if !e.knownRole(roleID) {
		return permissions.Module{}, false
	}
	return e.catalog.Module(moduleID)
}

func (e *Editor) knownRole(roleID string) bool {
	for _, r := range e.roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

func (e *Editor) apply(next permissions.Table) {
	e.table = next
	e.dirty = true
	e.revision++
}
