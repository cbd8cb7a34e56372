package roles

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

type mockRepository struct {
	roles map[string]Role
}

func newMockRepository() *mockRepository {
	return &mockRepository{roles: map[string]Role{
		"admin": {ID: "admin", Name: "Administrator", Code: "ADMIN", Color: DefaultColor},
	}}
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id string) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	for _, r := range m.roles {
		if r.Code == role.Code {
			return Role{}, ErrDuplicateCode
		}
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockRepository) DeleteRole(ctx context.Context, id string) error {
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func TestCreateRoleDefaults(t *testing.T) {
	repo := newMockRepository()
	inv := &countingInvalidator{}
	svc := NewService(repo, inv, nil)
	svc.newID = func() string { return "generated" }

	role, err := svc.CreateRole(context.Background(), CreateInput{Name: " Planner ", Code: "plan"})
	require.NoError(t, err)
	assert.Equal(t, Role{ID: "generated", Name: "Planner", Code: "PLAN", Color: DefaultColor}, role)
	assert.Equal(t, 1, inv.calls)
}

func TestCreateRoleDuplicateCode(t *testing.T) {
	inv := &countingInvalidator{}
	svc := NewService(newMockRepository(), inv, nil)

	_, err := svc.CreateRole(context.Background(), CreateInput{ID: "admin2", Name: "Admin", Code: "ADMIN"})
	require.ErrorIs(t, err, ErrDuplicateCode)
	assert.Zero(t, inv.calls)
}

func TestDeleteRole(t *testing.T) {
	repo := newMockRepository()
	inv := &countingInvalidator{}
	svc := NewService(repo, inv, nil)

	require.NoError(t, svc.DeleteRole(context.Background(), "admin"))
	assert.Empty(t, repo.roles)
	assert.Equal(t, 1, inv.calls)
	assert.ErrorIs(t, svc.DeleteRole(context.Background(), "admin"), ErrNotFound)
}

type staticScopes []string

func (s staticScopes) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s, nil
}

func newRolesRouter(t *testing.T, scopes ...string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("1")

	handler := NewHandler(slog.Default(), NewService(newMockRepository(), nil, nil), rbac.Middleware{Source: staticScopes(scopes)})
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	router.Route("/api/roles", handler.MountRoutes)
	return router
}

func TestHandlerCreateRoleValidation(t *testing.T) {
	router := newRolesRouter(t, shared.PermRolesEdit)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"name":"Planner","code":"PLAN","color":"#22c55e"}`, http.StatusCreated},
		{"missing name", `{"code":"PLAN2"}`, http.StatusBadRequest},
		{"lowercase code", `{"name":"Ops","code":"ops"}`, http.StatusBadRequest},
		{"bad color", `{"name":"Ops","code":"OPS","color":"green"}`, http.StatusBadRequest},
		{"duplicate code", `{"name":"Admin 2","code":"ADMIN"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/roles", strings.NewReader(tc.body))
			res := httptest.NewRecorder()
			router.ServeHTTP(res, req)
			assert.Equal(t, tc.status, res.Code, res.Body.String())
		})
	}
}

func TestHandlerReadOnlyScope(t *testing.T) {
	router := newRolesRouter(t, shared.PermRolesView)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"code":"ADMIN"`)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/api/roles/admin", nil))
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/roles/ghost", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}
