package editor

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// Notification messages returned by the save endpoint.
const (
	SaveSucceededMessage = "Permissions saved successfully"
	SaveFailedMessage    = "Failed to save permissions"
)

// Handler exposes per-session editors over HTTP.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, registry: registry, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers routes under /api/permissions/editor.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPermissionsEdit))
		r.Get("/", h.show)
		r.Post("/load", h.load)
		r.Post("/toggle", h.toggle)
		r.Post("/grant-all", h.grantAll)
		r.Post("/revoke-all", h.revokeAll)
		r.Post("/save", h.save)
	})
}

// ToggleRequest identifies one cell and action.
type ToggleRequest struct {
	RoleID   string             `json:"role_id" validate:"required"`
	ModuleID string             `json:"module_id" validate:"required"`
	Action   permissions.Action `json:"action" validate:"required"`
}

// CellRequest identifies one cell.
type CellRequest struct {
	RoleID   string `json:"role_id" validate:"required"`
	ModuleID string `json:"module_id" validate:"required"`
}

type stateResponse struct {
	State
	View View `json:"view"`
}

type notification struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	h.respondState(w, r, ed)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	if err := ed.Load(r.Context()); err != nil {
		h.logger.Error("load permission editor", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUpstream)
		return
	}
	h.respondState(w, r, ed)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	var req ToggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ed.Toggle(req.RoleID, req.ModuleID, req.Action); err != nil {
		respondError(w, err)
		return
	}
	h.respondState(w, r, ed)
}

func (h *Handler) grantAll(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	var req CellRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ed.GrantAll(req.ModuleID, req.RoleID); err != nil {
		respondError(w, err)
		return
	}
	h.respondState(w, r, ed)
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	var req CellRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ed.RevokeAll(req.ModuleID, req.RoleID); err != nil {
		respondError(w, err)
		return
	}
	h.respondState(w, r, ed)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	ed, ok := h.editor(w, r)
	if !ok {
		return
	}
	err := ed.Save(r.Context())
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, notification{Status: "success", Message: SaveSucceededMessage})
	case errors.Is(err, ErrSaveFailed):
		h.logger.Error("save permissions", slog.Any("error", err))
		httpx.JSON(w, http.StatusBadGateway, notification{Status: "error", Message: SaveFailedMessage})
	default:
		respondError(w, err)
	}
}

func (h *Handler) editor(w http.ResponseWriter, r *http.Request) (*Editor, bool) {
	sess := shared.SessionFromContext(r.Context())
	actorID, ok := shared.CurrentUserID(r.Context())
	if sess == nil || !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil, false
	}
	return h.registry.Get(sess.ID, actorID), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.ValidationProblem(w, err)
		return false
	}
	return true
}

func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, ed *Editor) {
	state := ed.Snapshot()
	filter := Filter{Search: r.URL.Query().Get("q"), RoleID: r.URL.Query().Get("role")}
	httpx.JSON(w, http.StatusOK, stateResponse{State: state, View: filter.Apply(state)})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrSaveInProgress):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnknownCell):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Cell", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
