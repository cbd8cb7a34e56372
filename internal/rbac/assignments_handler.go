package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// AssignmentsHandler manages user-role assignment endpoints.
type AssignmentsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewAssignmentsHandler builds AssignmentsHandler instance.
func NewAssignmentsHandler(logger *slog.Logger, service *Service, rbac Middleware) *AssignmentsHandler {
	return &AssignmentsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes under /api/users.
func (h *AssignmentsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
		r.Get("/{userID}/roles", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit))
		r.Post("/{userID}/roles/{roleID}", h.assign)
		r.Delete("/{userID}/roles/{roleID}", h.remove)
	})
}

func (h *AssignmentsHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	roles, err := h.service.ListUserRoles(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user roles", slog.Any("error", err), slog.Int64("user_id", userID))
		httpx.RespondError(w, err)
		return
	}
	if roles == nil {
		roles = []UserRole{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roles})
}

func (h *AssignmentsHandler) assign(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.AssignRole(r.Context(), userID, roleID); err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Subject", err.Error())
			return
		}
		h.logger.Error("assign role", slog.Any("error", err), slog.Int64("user_id", userID), slog.String("role_id", roleID))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssignmentsHandler) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("remove role", slog.Any("error", err), slog.Int64("user_id", userID), slog.String("role_id", roleID))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}
