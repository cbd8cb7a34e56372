package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	actions   []Action
	modules   []Module
	roles     []Role
	table     Table
	userRoles map[int64][]string

	txError      error
	replaceError error
	replaceCalls int
	upserted     []string
}

func newMockRepository() *mockRepository {
	catalog := sampleCatalog()
	return &mockRepository{
		actions: catalog.Actions,
		modules: catalog.Modules,
		roles: []Role{
			{ID: "r1", Name: "Admin", Code: "ADMIN"},
			{ID: "r2", Name: "Viewer", Code: "VIEWER"},
		},
		table:     Hydrate([]Role{{ID: "r1", Permissions: map[string][]Action{"inventory": {ActionView}}}}),
		userRoles: map[int64][]string{},
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) ListActions(ctx context.Context) ([]Action, error) {
	return m.actions, nil
}

func (m *mockRepository) ListModules(ctx context.Context) ([]Module, error) {
	out := make([]Module, len(m.modules))
	copy(out, m.modules)
	return out, nil
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		r.Permissions = m.table.Permissions(r.ID)
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepository) LoadTable(ctx context.Context) (Table, error) {
	return m.table.Clone(), nil
}

func (m *mockRepository) UserRoleIDs(ctx context.Context, userID int64) ([]string, error) {
	return m.userRoles[userID], nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) LoadTable(ctx context.Context) (Table, error) {
	return t.mock.table.Clone(), nil
}

func (t *mockTxRepo) ReplaceGrants(ctx context.Context, table Table) error {
	t.mock.replaceCalls++
	if t.mock.replaceError != nil {
		return t.mock.replaceError
	}
	t.mock.table = table.Clone()
	return nil
}

func (t *mockTxRepo) ReplaceRoleGrants(ctx context.Context, roleID string, modules map[string]GrantSet) error {
	next := t.mock.table.Clone()
	next[roleID] = modules
	t.mock.table = next
	return nil
}

func (t *mockTxRepo) UpsertAction(ctx context.Context, action Action, position int) error {
	t.mock.upserted = append(t.mock.upserted, "action:"+string(action))
	return nil
}

func (t *mockTxRepo) UpsertModule(ctx context.Context, module Module, position int) error {
	t.mock.upserted = append(t.mock.upserted, "module:"+module.ID)
	return nil
}

func (t *mockTxRepo) UpsertRole(ctx context.Context, role Role) error {
	t.mock.upserted = append(t.mock.upserted, "role:"+role.ID+":"+role.Color)
	return nil
}

type recordingEvents struct {
	events []GrantsReplacedEvent
}

func (r *recordingEvents) PublishGrantsReplaced(ctx context.Context, event GrantsReplacedEvent) error {
	r.events = append(r.events, event)
	return nil
}

type memoryIdempotency struct {
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type recordingMetrics struct {
	outcomes []string
	changed  []int
}

func (r *recordingMetrics) RecordPermissionSave(outcome string, changedCells int) {
	r.outcomes = append(r.outcomes, outcome)
	r.changed = append(r.changed, changedCells)
}

type serviceFixture struct {
	repo        *mockRepository
	events      *recordingEvents
	idempotency *memoryIdempotency
	metrics     *recordingMetrics
	service     *Service
}

func newServiceFixture() serviceFixture {
	f := serviceFixture{
		repo:        newMockRepository(),
		events:      &recordingEvents{},
		idempotency: &memoryIdempotency{keys: map[string]struct{}{}},
		metrics:     &recordingMetrics{},
	}
	f.service = NewService(f.repo, ServiceConfig{
		Events:      f.events,
		Idempotency: f.idempotency,
		Metrics:     f.metrics,
	})
	return f
}

// ============================================================================
// TESTS
// ============================================================================

func TestServiceCatalogInheritsGlobalVocabulary(t *testing.T) {
	f := newServiceFixture()
	f.repo.modules = append(f.repo.modules, Module{ID: "sales", Name: "Sales"})

	catalog, err := f.service.Catalog(context.Background())
	require.NoError(t, err)
	sales, ok := catalog.Module("sales")
	require.True(t, ok)
	assert.Equal(t, f.repo.actions, sales.Actions)
}

func TestServiceCatalogFallsBackToDefaultActions(t *testing.T) {
	f := newServiceFixture()
	f.repo.actions = nil

	catalog, err := f.service.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultActions(), catalog.Actions)
}

func TestServiceListRolesEmbedsPermissions(t *testing.T) {
	f := newServiceFixture()

	roles, err := f.service.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, []Action{ActionView}, roles[0].Permissions["inventory"])
	assert.Empty(t, roles[1].Permissions)
}

func TestServiceReplaceTable(t *testing.T) {
	f := newServiceFixture()
	next := f.repo.table.Toggle("r2", "reports", ActionExport)

	result, err := f.service.ReplaceTable(context.Background(), ReplaceInput{ActorID: 7, Table: next})
	require.NoError(t, err)

	assert.Equal(t, []CellChange{{RoleID: "r2", ModuleID: "reports", Added: []Action{ActionExport}}}, result.Changes)
	assert.True(t, f.repo.table.Has("r2", "reports", ActionExport))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, int64(7), f.events.events[0].ActorID)
	assert.Equal(t, []string{"success"}, f.metrics.outcomes)
	assert.Equal(t, []int{1}, f.metrics.changed)
}

func TestServiceReplaceTableWithoutChangesSkipsEvent(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.ReplaceTable(context.Background(), ReplaceInput{Table: f.repo.table.Clone()})
	require.NoError(t, err)
	assert.Empty(t, result.Changes)
	assert.Empty(t, f.events.events)
	assert.Equal(t, 1, f.repo.replaceCalls)
}

func TestServiceReplaceTableRejectsInvalidTable(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.ReplaceTable(context.Background(), ReplaceInput{Table: Table{}.Toggle("ghost", "inventory", ActionView)})
	require.ErrorIs(t, err, ErrInvalidTable)
	assert.Zero(t, f.repo.replaceCalls)
	assert.Equal(t, []string{"failure"}, f.metrics.outcomes)

	_, err = f.service.ReplaceTable(context.Background(), ReplaceInput{})
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestServiceReplaceTableIdempotency(t *testing.T) {
	f := newServiceFixture()
	input := ReplaceInput{IdempotencyKey: "k-1", Table: f.repo.table.Toggle("r1", "inventory", ActionEdit)}

	_, err := f.service.ReplaceTable(context.Background(), input)
	require.NoError(t, err)

	_, err = f.service.ReplaceTable(context.Background(), input)
	require.ErrorIs(t, err, ErrReplayed)
	assert.Equal(t, 1, f.repo.replaceCalls)
}

func TestServiceReplaceTableReleasesKeyOnFailure(t *testing.T) {
	f := newServiceFixture()
	f.repo.replaceError = errors.New("serialization failure")
	input := ReplaceInput{IdempotencyKey: "k-2", Table: f.repo.table.Clone()}

	_, err := f.service.ReplaceTable(context.Background(), input)
	require.Error(t, err)
	assert.NotContains(t, f.idempotency.keys, "k-2")

	f.repo.replaceError = nil
	_, err = f.service.ReplaceTable(context.Background(), input)
	require.NoError(t, err)
}

func TestServiceEffectivePermissions(t *testing.T) {
	f := newServiceFixture()
	f.repo.userRoles[7] = []string{"r1"}

	scopes, err := f.service.EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory.view"}, scopes)

	scopes, err = f.service.EffectivePermissions(context.Background(), 8)
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

func TestServiceSeed(t *testing.T) {
	f := newServiceFixture()
	file := SeedFile{
		Modules: []SeedModule{
			{ID: "inventory", Name: "Inventory", Actions: []Action{ActionView, ActionEdit}},
			{ID: "reports", Name: "Reports"},
		},
		Roles: []SeedRole{
			{ID: "r3", Name: "Auditor", Code: "AUDIT", Grants: map[string][]Action{
				"inventory": {Wildcard},
				"reports":   {ActionExport},
			}},
		},
	}

	summary, err := f.service.Seed(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Actions: len(DefaultActions()), Modules: 2, Roles: 1}, summary)
	assert.Contains(t, f.repo.upserted, "role:r3:#64748b")
	assert.True(t, f.repo.table.Get("r3", "inventory").Equal(NewGrantSet(ActionView, ActionEdit)))
	assert.True(t, f.repo.table.Has("r3", "reports", ActionExport))
}

func TestServiceSeedRejectsUndeclaredAction(t *testing.T) {
	f := newServiceFixture()
	file := SeedFile{
		Modules: []SeedModule{{ID: "inventory", Actions: []Action{ActionView}}},
		Roles:   []SeedRole{{ID: "r3", Grants: map[string][]Action{"inventory": {ActionDelete}}}},
	}

	_, err := f.service.Seed(context.Background(), file)
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestSeedFromCatalogRoundTrips(t *testing.T) {
	f := newServiceFixture()
	catalog, err := f.service.Catalog(context.Background())
	require.NoError(t, err)
	roles, err := f.service.ListRoles(context.Background())
	require.NoError(t, err)

	file := SeedFromCatalog(catalog, roles)
	require.Len(t, file.Modules, 2)
	require.Len(t, file.Roles, 2)
	assert.Equal(t, map[string][]Action{"inventory": {ActionView}}, file.Roles[0].Grants)

	_, err = newServiceFixture().service.Seed(context.Background(), file)
	require.NoError(t, err)
}

func TestServicePruneOrphansFollowsInheritedVocabulary(t *testing.T) {
	f := newServiceFixture()
	f.repo.modules = append(f.repo.modules, Module{ID: "sales", Name: "Sales"})
	f.repo.table = Hydrate([]Role{{ID: "r1", Permissions: map[string][]Action{
		"inventory": {ActionView, ActionApprove},
		"reports":   {ActionExport},
		"sales":     {ActionView, ActionDelete},
		"payroll":   {ActionView},
	}}})

	removed, err := f.service.PruneOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, f.repo.replaceCalls)

	assert.True(t, f.repo.table.Get("r1", "inventory").Equal(NewGrantSet(ActionView)))
	assert.True(t, f.repo.table.Has("r1", "reports", ActionExport))
	assert.True(t, f.repo.table.Get("r1", "sales").Equal(NewGrantSet(ActionView, ActionDelete)))
	assert.NotContains(t, f.repo.table["r1"], "payroll")
	require.NoError(t, f.repo.table.Validate(map[string]struct{}{"r1": {}}, mustCatalog(t, f.service)))
}

func TestServicePruneOrphansWithoutOrphansSkipsWrite(t *testing.T) {
	f := newServiceFixture()

	removed, err := f.service.PruneOrphans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Zero(t, f.repo.replaceCalls)
}

func mustCatalog(t *testing.T, s *Service) Catalog {
	t.Helper()
	catalog, err := s.Catalog(context.Background())
	require.NoError(t, err)
	return catalog
}
