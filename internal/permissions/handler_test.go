package permissions

import (
	"context"
	"encoding/json"
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

type staticScopes []string

func (s staticScopes) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s, nil
}

func newCatalogRouter(t *testing.T, f serviceFixture, scopes ...string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("7")

	handler := NewHandler(slog.Default(), f.service, rbac.Middleware{Source: staticScopes(scopes)})
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	router.Route("/api/permissions", handler.MountRoutes)
	return router
}

func serve(router http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestHandlerListModules(t *testing.T) {
	router := newCatalogRouter(t, newServiceFixture(), shared.PermPermissionsView)

	res := serve(router, http.MethodGet, "/api/permissions/modules", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body modulesResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "inventory", body.Data[0].ID)
	assert.Equal(t, sampleCatalog().Actions, body.Actions)
}

func TestHandlerListRoles(t *testing.T) {
	router := newCatalogRouter(t, newServiceFixture(), shared.PermPermissionsEdit)

	res := serve(router, http.MethodGet, "/api/permissions/roles", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body rolesResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, []Action{ActionView}, body.Data[0].Permissions["inventory"])
}

func TestHandlerReplaceRequiresEditScope(t *testing.T) {
	router := newCatalogRouter(t, newServiceFixture(), shared.PermPermissionsView)

	res := serve(router, http.MethodPut, "/api/permissions", `{"permissions":{}}`, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestHandlerReplace(t *testing.T) {
	f := newServiceFixture()
	router := newCatalogRouter(t, f, shared.PermPermissionsEdit)
	body := `{"permissions":{"r1":{"inventory":["view","edit"]},"r2":{"reports":["export"]}}}`
	header := map[string]string{IdempotencyHeader: "save-1"}

	res := serve(router, http.MethodPut, "/api/permissions", body, header)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"status":"ok"`)
	assert.True(t, f.repo.table.Has("r1", "inventory", ActionEdit))
	assert.True(t, f.repo.table.Has("r2", "reports", ActionExport))

	res = serve(router, http.MethodPut, "/api/permissions", body, header)
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestHandlerReplaceRejectsInvalidPayload(t *testing.T) {
	router := newCatalogRouter(t, newServiceFixture(), shared.PermPermissionsEdit)

	res := serve(router, http.MethodPut, "/api/permissions", `{"permissions":`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = serve(router, http.MethodPut, "/api/permissions", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = serve(router, http.MethodPut, "/api/permissions", `{"permissions":{"r1":{"payroll":["view"]}}}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}
