package permissions

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() Catalog {
	crud := []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}
	return Catalog{
		Actions: crud,
		Modules: []Module{
			{ID: "inventory", Name: "Inventory", Actions: crud},
			{ID: "reports", Name: "Reports", Actions: []Action{ActionView, ActionExport}},
		},
	}
}

func TestHydrateFromRoles(t *testing.T) {
	table := Hydrate([]Role{
		{ID: "r1", Permissions: map[string][]Action{"inventory": {ActionView, ActionView, ActionEdit}}},
		{ID: "r2"},
	})

	assert.True(t, table.Has("r1", "inventory", ActionView))
	assert.True(t, table.Has("r1", "inventory", ActionEdit))
	assert.Len(t, table.Get("r1", "inventory"), 2)
	assert.Contains(t, table, "r2")
	assert.Empty(t, table.Get("r2", "inventory"))
	assert.Empty(t, table.Get("missing", "inventory"))
}

func TestToggleIsSelfInverse(t *testing.T) {
	base := Hydrate([]Role{{ID: "r1", Permissions: map[string][]Action{"inventory": {ActionView}}}})

	for _, action := range DefaultActions() {
		once := base.Toggle("r1", "inventory", action)
		assert.NotEqual(t, base.Has("r1", "inventory", action), once.Has("r1", "inventory", action))
		twice := once.Toggle("r1", "inventory", action)
		assert.True(t, base.Get("r1", "inventory").Equal(twice.Get("r1", "inventory")), "action %s", action)
	}
}

func TestMutationsDoNotAliasReceiver(t *testing.T) {
	base := Hydrate([]Role{{ID: "r1", Permissions: map[string][]Action{"inventory": {ActionView}}}})

	next := base.GrantAll("r1", "inventory", sampleCatalog().Actions)
	next = next.RevokeAll("r1", "reports")

	assert.Len(t, base.Get("r1", "inventory"), 1)
	_, ok := base["r1"]["reports"]
	assert.False(t, ok)
	assert.Len(t, next.Get("r1", "inventory"), 4)
}

func TestGrantAllAndRevokeAllAreIdempotent(t *testing.T) {
	vocab := sampleCatalog().Actions
	table := Table{}

	once := table.GrantAll("r1", "inventory", vocab)
	twice := once.GrantAll("r1", "inventory", vocab)
	assert.Empty(t, Diff(once, twice))
	assert.True(t, once.Get("r1", "inventory").Equal(NewGrantSet(vocab...)))

	empty := twice.RevokeAll("r1", "inventory").RevokeAll("r1", "inventory")
	assert.Empty(t, empty.Get("r1", "inventory"))
}

func TestCellLocality(t *testing.T) {
	base := Hydrate([]Role{
		{ID: "r1", Permissions: map[string][]Action{"inventory": {ActionView}, "reports": {ActionExport}}},
		{ID: "r2", Permissions: map[string][]Action{"inventory": {ActionEdit}}},
	})

	next := base.Toggle("r1", "inventory", ActionDelete)
	changes := Diff(base, next)

	require.Len(t, changes, 1)
	assert.Equal(t, CellChange{RoleID: "r1", ModuleID: "inventory", Added: []Action{ActionDelete}}, changes[0])
}

func TestDiffOrdersAndSplitsChanges(t *testing.T) {
	before := Hydrate([]Role{
		{ID: "b", Permissions: map[string][]Action{"inventory": {ActionView, ActionEdit}}},
		{ID: "a", Permissions: map[string][]Action{"reports": {ActionView}}},
	})
	after := Hydrate([]Role{
		{ID: "b", Permissions: map[string][]Action{"inventory": {ActionView, ActionDelete}}},
		{ID: "a", Permissions: map[string][]Action{}},
	})

	changes := Diff(before, after)
	assert.Equal(t, []CellChange{
		{RoleID: "a", ModuleID: "reports", Removed: []Action{ActionView}},
		{RoleID: "b", ModuleID: "inventory", Added: []Action{ActionDelete}, Removed: []Action{ActionEdit}},
	}, changes)
}

func TestValidate(t *testing.T) {
	roles := map[string]struct{}{"r1": {}}
	catalog := sampleCatalog()

	cases := []struct {
		name  string
		table Table
		valid bool
	}{
		{"empty", Table{}, true},
		{"valid grant", Table{}.Toggle("r1", "reports", ActionExport), true},
		{"empty cell", Table{}.RevokeAll("r1", "inventory"), true},
		{"unknown role", Table{}.Toggle("r9", "reports", ActionView), false},
		{"unknown module", Table{}.Toggle("r1", "payroll", ActionView), false},
		{"action outside module vocabulary", Table{}.Toggle("r1", "reports", ActionDelete), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.table.Validate(roles, catalog)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidTable))
		})
	}
}

func TestScopes(t *testing.T) {
	table := Hydrate([]Role{
		{ID: "r1", Permissions: map[string][]Action{"permissions": {ActionView}, "roles": {ActionView}}},
		{ID: "r2", Permissions: map[string][]Action{"permissions": {ActionView, ActionEdit}}},
	})

	assert.Equal(t, []string{"permissions.edit", "permissions.view", "roles.view"}, table.Scopes("r1", "r2"))
	assert.Equal(t, []string{}, table.Scopes("r3"))
}

func TestPermissionsSkipsEmptyCells(t *testing.T) {
	table := Table{}.GrantAll("r1", "reports", []Action{ActionExport, ActionView}).RevokeAll("r1", "inventory")

	assert.Equal(t, map[string][]Action{"reports": {ActionView, ActionExport}}, table.Permissions("r1"))
}

func TestGrantSetJSONIsOrderedAndDeduplicated(t *testing.T) {
	var set GrantSet
	require.NoError(t, json.Unmarshal([]byte(`["edit","view","edit","custom"," "]`), &set))
	assert.Len(t, set, 3)

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["view","edit","custom"]`, string(raw))

	raw, err = json.Marshal(GrantSet{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestConformDropsGrantsOutsideCatalog(t *testing.T) {
	table := Hydrate([]Role{
		{ID: "r1", Permissions: map[string][]Action{
			"inventory": {ActionView, ActionApprove},
			"payroll":   {ActionView, ActionEdit},
		}},
		{ID: "r2"},
	})

	conformed, dropped := table.Conform(sampleCatalog())
	assert.Equal(t, 3, dropped)
	assert.True(t, conformed.Get("r1", "inventory").Equal(NewGrantSet(ActionView)))
	assert.NotContains(t, conformed["r1"], "payroll")
	assert.Contains(t, conformed, "r2")
	assert.True(t, table.Has("r1", "inventory", ActionApprove), "receiver untouched")
	assert.NoError(t, conformed.Validate(map[string]struct{}{"r1": {}, "r2": {}}, sampleCatalog()))
}

func TestCatalogWithInheritedActions(t *testing.T) {
	catalog := Catalog{Modules: []Module{
		{ID: "inventory", Actions: []Action{ActionView}},
		{ID: "sales"},
	}}

	filled := catalog.WithInheritedActions()
	assert.Equal(t, DefaultActions(), filled.Actions)
	sales, ok := filled.Module("sales")
	require.True(t, ok)
	assert.Equal(t, DefaultActions(), sales.Actions)
	inventory, _ := filled.Module("inventory")
	assert.Equal(t, []Action{ActionView}, inventory.Actions)
	assert.Empty(t, catalog.Modules[1].Actions)

	scoped := Catalog{Actions: []Action{ActionView, ActionExport}, Modules: []Module{{ID: "reports"}}}.WithInheritedActions()
	assert.Equal(t, []Action{ActionView, ActionExport}, scoped.Modules[0].Actions)
}
