// Package client talks to the dashboard permissions API over HTTP. It
// satisfies the editor's Loader and Saver so operator tooling can drive the
// same editing session the dashboard uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
)

// ErrStatus is wrapped by every non-2xx response.
var ErrStatus = errors.New("permissions api: unexpected status")

// CSRFHeader carries the session CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// Client wraps interactions with the permissions API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	csrfToken  string
	newKey     func() string
}

// New constructs a client with its own cookie jar so the session cookie set
// by Login is replayed on later calls.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		newKey: func() string { return uuid.NewString() },
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// Login fetches a CSRF token for a fresh session, authenticates against
// /auth/login and keeps the token issued for the logged-in session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var token loginResponse
	if err := c.do(ctx, http.MethodGet, "/auth/csrf", nil, nil, &token); err != nil {
		return err
	}
	c.csrfToken = token.CSRFToken

	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, loginRequest{Email: email, Password: password}, &out); err != nil {
		return err
	}
	c.csrfToken = out.CSRFToken
	return nil
}

type modulesResponse struct {
	Data    []permissions.Module `json:"data"`
	Actions []permissions.Action `json:"actions"`
}

// ListModules fetches the module catalog.
func (c *Client) ListModules(ctx context.Context) (permissions.Catalog, error) {
	var out modulesResponse
	if err := c.do(ctx, http.MethodGet, "/api/permissions/modules", nil, nil, &out); err != nil {
		return permissions.Catalog{}, err
	}
	return permissions.Catalog{Modules: out.Data, Actions: out.Actions}, nil
}

type rolesResponse struct {
	Data []permissions.Role `json:"data"`
}

// ListRoles fetches roles with their embedded permissions.
func (c *Client) ListRoles(ctx context.Context) ([]permissions.Role, error) {
	var out rolesResponse
	if err := c.do(ctx, http.MethodGet, "/api/permissions/roles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type replaceRequest struct {
	Permissions permissions.Table `json:"permissions"`
}

// SavePermissions replaces the stored table. Every call carries a fresh
// idempotency key.
func (c *Client) SavePermissions(ctx context.Context, table permissions.Table) error {
	header := http.Header{}
	header.Set(permissions.IdempotencyHeader, c.newKey())
	return c.do(ctx, http.MethodPut, "/api/permissions", header, replaceRequest{Permissions: table}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && c.csrfToken != "" {
		req.Header.Set(CSRFHeader, c.csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w %d on %s %s: %s", ErrStatus, resp.StatusCode, method, path, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
