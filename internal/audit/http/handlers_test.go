package audithttp

import (
	"context"
	"encoding/json"
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

	"github.com/odyssey-erp/odyssey-dashboard/internal/audit"
	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type staticScopes []string

func (s staticScopes) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s, nil
}

func newAuditRouter(t *testing.T, service *stubTimelineService, scopes ...string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("7")

	handler := NewHandler(nil, service, rbac.Middleware{Source: staticScopes(scopes)})
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	router.Route("/api/audit", handler.MountRoutes)
	return router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	return res
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.TimelineRow{{Action: "permissions.update", EntityID: "r1:inventory", Added: []string{"view"}}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	router := newAuditRouter(t, service, shared.PermPermissionsView)

	res := get(router, "/api/audit?role=r1")
	require.Equal(t, http.StatusOK, res.Code)

	var body audit.Result
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, []string{"view"}, body.Rows[0].Added)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
	assert.Equal(t, "r1", service.lastFilters.RoleID)
	assert.Equal(t, 1, service.lastFilters.Page)
}

func TestTimelineRejectsInvalidFilters(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, shared.PermPermissionsView)

	for _, query := range []string{
		"from=2026-13-01",
		"from=2026-03-10&to=2026-03-01",
		"from=2025-01-01&to=2026-03-01",
		"page=0",
		"page_size=abc",
	} {
		res := get(router, "/api/audit?"+query)
		assert.Equal(t, http.StatusBadRequest, res.Code, query)
	}
}

func TestTimelineRequiresPermission(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, shared.PermUsersView)

	res := get(router, "/api/audit")
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{
		At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 7, Actor: "admin@example.com",
		Action: "permissions.update", Entity: "role_grant", EntityID: "r1:inventory",
		RoleID: "r1", ModuleID: "inventory", Added: []string{"view"},
	}}}
	router := newAuditRouter(t, service, shared.PermPermissionsEdit)

	res := get(router, "/api/audit/export.csv?from=2026-03-01&to=2026-03-15&module=inventory")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "text/csv; charset=utf-8", res.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(res.Body.String(), "at,actor_id,actor"))
	assert.Contains(t, res.Body.String(), "r1:inventory")
	assert.Equal(t, "inventory", service.lastFilters.ModuleID)
}
