package permissions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// Handler exposes the catalog endpoints consumed by the dashboard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers the catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView, shared.PermPermissionsEdit))
		r.Get("/modules", h.listModules)
		r.Get("/roles", h.listRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPermissionsEdit))
		r.Put("/", h.replace)
	})
}

type modulesResponse struct {
	Data    []Module `json:"data"`
	Actions []Action `json:"actions"`
}

type rolesResponse struct {
	Data []Role `json:"data"`
}

// ReplaceRequest is the body of a whole-table save.
type ReplaceRequest struct {
	Permissions Table `json:"permissions" validate:"required"`
}

type replaceResponse struct {
	Status  string       `json:"status"`
	Changes []CellChange `json:"changes"`
}

// IdempotencyHeader carries an optional client-generated save key.
const IdempotencyHeader = "Idempotency-Key"

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.Catalog(r.Context())
	if err != nil {
		h.logger.Error("list permission modules", slog.Any("error", err))
		respondError(w, err)
		return
	}
	modules := catalog.Modules
	if modules == nil {
		modules = []Module{}
	}
	httpx.JSON(w, http.StatusOK, modulesResponse{Data: modules, Actions: catalog.Actions})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list permission roles", slog.Any("error", err))
		respondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, rolesResponse{Data: roles})
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed permissions payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	actorID, _ := shared.CurrentUserID(r.Context())
	result, err := h.service.ReplaceTable(r.Context(), ReplaceInput{
		ActorID:        actorID,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Table:          req.Permissions,
	})
	if err != nil {
		h.logger.Error("replace permissions", slog.Any("error", err), slog.Int64("actor_id", actorID))
		respondError(w, err)
		return
	}
	changes := result.Changes
	if changes == nil {
		changes = []CellChange{}
	}
	httpx.JSON(w, http.StatusOK, replaceResponse{Status: "ok", Changes: changes})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Permissions", err.Error())
	case errors.Is(err, ErrReplayed):
		httpx.RespondError(w, httpx.ErrConflict)
	case errors.Is(err, db.ErrSerialization):
		httpx.Problem(w, http.StatusConflict, "Conflict", "permissions changed concurrently, retry the save")
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		httpx.RespondError(w, err)
	}
}
