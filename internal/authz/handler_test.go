package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/JohnPitter/church-management-sub010/internal/shared"
)

func newHandlerFixture(t *testing.T) (*serviceFixture, http.Handler) {
	t.Helper()
	f := newServiceFixture(t)
	logger := testLogger()
	guard := Middleware{Service: f.service, Logger: logger}
	h := NewHandler(logger, f.service, guard)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor := req.Header.Get("X-User-ID"); actor != "" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/permissions", h.MountRoutes)
	return f, r
}

func doJSON(t *testing.T, h http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-User-ID", actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireSettingsAccess(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)
	f.profiles.add("member-1", RoleMember, StatusApproved)

	rec := doJSON(t, h, http.MethodGet, "/api/permissions/matrix", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "anonymous requests are denied")

	rec = doJSON(t, h, http.MethodGet, "/api/permissions/matrix", "member-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "members lack settings.view")

	rec = doJSON(t, h, http.MethodGet, "/api/permissions/matrix", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Roles map[string]PermissionSet `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Contains(t, payload.Roles, RoleAdmin)
	require.Contains(t, payload.Roles, RoleMember)
}

func TestUserPermissionsEndpoint(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)
	f.profiles.add("member-1", RoleMember, StatusApproved)

	rec := doJSON(t, h, http.MethodGet, "/api/permissions/users/member-1", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		UserID      string        `json:"user_id"`
		Permissions PermissionSet `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "member-1", payload.UserID)
	require.True(t, payload.Permissions.Has(ModuleEvents, ActionView))

	rec = doJSON(t, h, http.MethodGet, "/api/permissions/users/nobody", "admin-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRoleEndpoint(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)
	f.profiles.add("member-1", RoleMember, StatusApproved)

	body := map[string]any{"permissions": map[string][]string{
		"events":  {"view"},
		"members": {"view"},
	}}
	rec := doJSON(t, h, http.MethodPut, "/api/permissions/roles/member", "admin-1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/permissions/users/member-1", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Permissions PermissionSet `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Permissions.Has(ModuleMembers, ActionView))

	rec = doJSON(t, h, http.MethodPut, "/api/permissions/roles/ghost", "admin-1", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	bad := map[string]any{"permissions": map[string][]string{"legacy": {"view"}}}
	rec = doJSON(t, h, http.MethodPut, "/api/permissions/roles/member", "admin-1", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetRoleEndpoint(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)

	body := map[string]any{"permissions": map[string][]string{"events": {"view", "create"}}}
	rec := doJSON(t, h, http.MethodPut, "/api/permissions/roles/member", "admin-1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/permissions/roles/member", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Permissions PermissionSet `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Permissions.Equal(DefaultPermissionSet(RoleMember)))
}

func TestCustomRoleEndpoints(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)

	create := map[string]any{
		"name":        "Event Coordinator",
		"description": "Plans weekly events.",
		"permissions": map[string][]string{"events": {"view", "create"}},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/permissions/custom-roles", "admin-1", create)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created CustomRole
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "event_coordinator", created.ID)

	rec = doJSON(t, h, http.MethodPost, "/api/permissions/custom-roles", "admin-1", create)
	require.Equal(t, http.StatusBadRequest, rec.Code, "duplicate ids are rejected")

	rec = doJSON(t, h, http.MethodPost, "/api/permissions/custom-roles", "admin-1", map[string]any{
		"permissions": map[string][]string{"events": {"view"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, "name is required")

	update := map[string]any{"display_name": "Coordinator"}
	rec = doJSON(t, h, http.MethodPatch, "/api/permissions/custom-roles/event_coordinator", "admin-1", update)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/permissions/custom-roles/missing", "admin-1", update)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/permissions/custom-roles/event_coordinator", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	role, err := f.customs.GetCustomRole(context.Background(), "event_coordinator")
	require.NoError(t, err)
	require.False(t, role.IsActive)
}

func TestOverrideAndAssignEndpoints(t *testing.T) {
	f, h := newHandlerFixture(t)
	f.profiles.add("admin-1", RoleAdmin, StatusApproved)
	f.profiles.add("member-1", RoleMember, StatusApproved)

	override := map[string]any{
		"granted": map[string][]string{"members": {"view"}},
		"revoked": map[string][]string{"events": {"view"}},
	}
	rec := doJSON(t, h, http.MethodPut, "/api/permissions/users/member-1/override", "admin-1", override)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/permissions/users/member-1", "admin-1", nil)
	var payload struct {
		Permissions PermissionSet `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Permissions.Has(ModuleMembers, ActionView))
	require.False(t, payload.Permissions.Has(ModuleEvents, ActionView))

	rec = doJSON(t, h, http.MethodPut, "/api/permissions/users/nobody/override", "admin-1", override)
	require.Equal(t, http.StatusNotFound, rec.Code)

	assign := map[string]any{"role": "secretary"}
	rec = doJSON(t, h, http.MethodPut, "/api/permissions/users/member-1/role", "admin-1", assign)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/api/permissions/users/nobody/role", "admin-1", assign)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuardDeniesOnServiceError(t *testing.T) {
	_, h := newHandlerFixture(t)
	// No profile exists for the actor, so the permission check itself errors.
	rec := doJSON(t, h, http.MethodGet, "/api/permissions/matrix", "ghost-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "check errors must read as deny, never allow")
}
