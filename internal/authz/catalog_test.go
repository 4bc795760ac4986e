package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPermissionSet(t *testing.T) {
	member := DefaultPermissionSet(RoleMember)
	require.True(t, member.Equal(PermissionSet{ModuleEvents: {ActionView}}))

	admin := DefaultPermissionSet(RoleAdmin)
	for _, m := range ValidModules() {
		for _, a := range ValidActions() {
			require.True(t, admin.Has(m, a), "admin must hold %s.%s", m, a)
		}
	}

	require.True(t, DefaultPermissionSet("ghost").IsEmpty(), "unknown roles deny by default")
}

func TestDefaultPermissionSetReturnsCopies(t *testing.T) {
	first := DefaultPermissionSet(RoleMember)
	first.Grant(ModuleFinance, ActionManage)

	second := DefaultPermissionSet(RoleMember)
	require.False(t, second.Has(ModuleFinance, ActionManage), "callers must not be able to poison the catalog")
}

func TestIsBuiltinRole(t *testing.T) {
	for _, role := range BuiltinRoles() {
		require.True(t, IsBuiltinRole(role))
	}
	require.False(t, IsBuiltinRole("event_coordinator"))
	require.False(t, IsBuiltinRole(""))
}

func TestCatalogMembership(t *testing.T) {
	require.True(t, IsValidModule(ModuleAssistance))
	require.False(t, IsValidModule(Module("inventory")))
	require.True(t, IsValidAction(ActionApprove))
	require.False(t, IsValidAction(Action("publish")))
}

func TestSanitizePermissionSet(t *testing.T) {
	clean, changed := SanitizePermissionSet(PermissionSet{ModuleEvents: {ActionView}})
	require.False(t, changed)
	require.True(t, clean.Equal(PermissionSet{ModuleEvents: {ActionView}}))

	clean, changed = SanitizePermissionSet(PermissionSet{
		ModuleEvents:     {ActionView, "publish"},
		Module("legacy"): {ActionView},
	})
	require.True(t, changed)
	require.True(t, clean.Equal(PermissionSet{ModuleEvents: {ActionView}}))

	// A module whose every action was retired disappears entirely.
	clean, changed = SanitizePermissionSet(PermissionSet{ModuleReports: {"fax"}})
	require.True(t, changed)
	require.True(t, clean.IsEmpty())

	clean, changed = SanitizePermissionSet(PermissionSet{})
	require.False(t, changed)
	require.True(t, clean.IsEmpty())
}
