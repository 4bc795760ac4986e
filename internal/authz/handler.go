package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JohnPitter/church-management-sub010/internal/platform/httpx"
	"github.com/JohnPitter/church-management-sub010/internal/shared"
)

// Handler exposes the administrative permission API: the role matrix, role
// permission edits, custom role lifecycle, user overrides and role assignment.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ModuleSettings, ActionView))
		r.Get("/matrix", h.matrix)
		r.Get("/users/{userID}", h.userPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ModuleSettings, ActionManage))
		r.Put("/roles/{role}", h.updateRolePermissions)
		r.Delete("/roles/{role}", h.resetRole)
		r.Post("/custom-roles", h.createCustomRole)
		r.Patch("/custom-roles/{id}", h.updateCustomRole)
		r.Delete("/custom-roles/{id}", h.deleteCustomRole)
		r.Put("/users/{userID}/override", h.updateOverride)
		r.Put("/users/{userID}/role", h.assignRole)
	})
}

func (h *Handler) matrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.service.GetPermissionMatrix(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": matrix})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ps, err := h.service.GetEffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": ps})
}

type updateRoleRequest struct {
	Permissions PermissionSet `json:"permissions" validate:"required"`
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role := chi.URLParam(r, "role")
	if err := h.service.UpdateRolePermissions(r.Context(), role, req.Permissions, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "permissions": req.Permissions})
}

func (h *Handler) resetRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if err := h.service.ResetRoleToDefault(r.Context(), role, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "permissions": DefaultPermissionSet(role)})
}

type createCustomRoleRequest struct {
	Name        string        `json:"name" validate:"required"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	Permissions PermissionSet `json:"permissions" validate:"required"`
}

func (h *Handler) createCustomRole(w http.ResponseWriter, r *http.Request) {
	var req createCustomRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateCustomRole(r.Context(), CreateCustomRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: req.Permissions,
		CreatedBy:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateCustomRoleRequest struct {
	DisplayName *string        `json:"display_name"`
	Description *string        `json:"description"`
	Permissions *PermissionSet `json:"permissions"`
	IsActive    *bool          `json:"is_active"`
}

func (h *Handler) updateCustomRole(w http.ResponseWriter, r *http.Request) {
	var req updateCustomRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateCustomRole(r.Context(), chi.URLParam(r, "id"), CustomRoleUpdate{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteCustomRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteCustomRole(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

type updateOverrideRequest struct {
	Granted PermissionSet `json:"granted"`
	Revoked PermissionSet `json:"revoked"`
}

func (h *Handler) updateOverride(w http.ResponseWriter, r *http.Request) {
	var req updateOverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.service.UpdateUserOverride(r.Context(), userID, req.Granted, req.Revoked, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID})
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.service.AssignRoleToUser(r.Context(), userID, req.Role, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role": req.Role})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrStoreUnavailable) || IsTimeout(err):
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	default:
		if h.logger != nil {
			h.logger.Error("permission request failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
