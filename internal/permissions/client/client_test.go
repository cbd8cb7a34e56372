package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions/editor"
)

type fakeAPI struct {
	loginCSRF  string
	saved      permissions.Table
	saveKey    string
	saveCSRF   string
	saveStatus int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "odyssey_session", Value: "anon-1", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]string{"csrf_token": "tok-0"})
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCSRF = r.Header.Get(CSRFHeader)
		http.SetCookie(w, &http.Cookie{Name: "odyssey_session", Value: "sess-1", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]string{"csrf_token": "tok-1"})
	})
	mux.HandleFunc("/api/permissions/modules", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"inventory","name":"Inventory","description":"Stock","actions":["view","edit"]}],"actions":["view","edit"]}`))
	})
	mux.HandleFunc("/api/permissions/roles", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("odyssey_session"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"r1","name":"Admin","code":"ADMIN","color":"#64748b","permissions":{"inventory":["view"]}}]}`))
	})
	mux.HandleFunc("/api/permissions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		f.saveKey = r.Header.Get(permissions.IdempotencyHeader)
		f.saveCSRF = r.Header.Get(CSRFHeader)
		var body struct {
			Permissions permissions.Table `json:"permissions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.saved = body.Permissions
		if f.saveStatus != 0 {
			w.WriteHeader(f.saveStatus)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c := New(srv.URL + "/")
	c.newKey = func() string { return "key-1" }
	require.NoError(t, c.Login(context.Background(), "admin@example.com", "secret"))
	return c
}

func TestClientDrivesEditor(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	ed := editor.New(c, c)
	require.NoError(t, ed.Load(context.Background()))
	require.NoError(t, ed.Toggle("r1", "inventory", permissions.ActionEdit))
	require.NoError(t, ed.Save(context.Background()))

	assert.False(t, ed.Dirty())
	assert.Equal(t, "key-1", api.saveKey)
	assert.Equal(t, "tok-0", api.loginCSRF)
	assert.Equal(t, "tok-1", api.saveCSRF)
	assert.True(t, api.saved.Get("r1", "inventory").Equal(permissions.NewGrantSet(permissions.ActionView, permissions.ActionEdit)))
}

func TestClientSaveFailure(t *testing.T) {
	api := &fakeAPI{saveStatus: http.StatusInternalServerError}
	c := newTestClient(t, api)

	err := c.SavePermissions(context.Background(), permissions.Table{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
}

func TestClientListModules(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	catalog, err := c.ListModules(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Modules, 1)
	assert.Equal(t, []permissions.Action{permissions.ActionView, permissions.ActionEdit}, catalog.Modules[0].Actions)
	assert.Equal(t, []permissions.Action{permissions.ActionView, permissions.ActionEdit}, catalog.Actions)
}
