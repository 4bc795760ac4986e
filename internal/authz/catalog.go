package authz

// Built-in role names. Closed list; administrator-defined roles live in the
// custom role store instead.
const (
	RoleAdmin        = "admin"
	RoleSecretary    = "secretary"
	RoleProfessional = "professional"
	RoleLeader       = "leader"
	RoleMember       = "member"
	RoleFinance      = "finance"
)

// SystemActor marks store rewrites performed by the catalog migration rather
// than a human administrator.
const SystemActor = "system:catalog_migration"

var validModules = []Module{
	ModuleMembers,
	ModuleEvents,
	ModuleAssistance,
	ModuleProjects,
	ModuleFinance,
	ModuleUsers,
	ModuleReports,
	ModuleSettings,
}

var validActions = []Action{
	ActionView,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionExport,
	ActionImport,
	ActionApprove,
	ActionManage,
}

// roleDefaults is the hard-coded base permission table. Persisted role configs
// override these entries; the table itself only changes with a release.
var roleDefaults = map[string]PermissionSet{
	RoleAdmin: {
		ModuleMembers:    validActions,
		ModuleEvents:     validActions,
		ModuleAssistance: validActions,
		ModuleProjects:   validActions,
		ModuleFinance:    validActions,
		ModuleUsers:      validActions,
		ModuleReports:    validActions,
		ModuleSettings:   validActions,
	},
	RoleSecretary: {
		ModuleMembers:  {ActionView, ActionCreate, ActionUpdate, ActionExport},
		ModuleEvents:   {ActionView, ActionCreate, ActionUpdate},
		ModuleProjects: {ActionView, ActionCreate, ActionUpdate},
		ModuleReports:  {ActionView, ActionExport},
		ModuleUsers:    {ActionView},
	},
	RoleProfessional: {
		ModuleAssistance: {ActionView, ActionCreate, ActionUpdate, ActionApprove},
		ModuleMembers:    {ActionView},
		ModuleReports:    {ActionView},
	},
	RoleLeader: {
		ModuleMembers:  {ActionView},
		ModuleEvents:   {ActionView, ActionCreate, ActionUpdate},
		ModuleProjects: {ActionView, ActionUpdate},
		ModuleReports:  {ActionView},
	},
	RoleMember: {
		ModuleEvents: {ActionView},
	},
	RoleFinance: {
		ModuleFinance: {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionExport, ActionApprove, ActionManage},
		ModuleReports: {ActionView, ActionExport},
	},
}

// BuiltinRoles returns the built-in role names in declaration order.
func BuiltinRoles() []string {
	return []string{RoleAdmin, RoleSecretary, RoleProfessional, RoleLeader, RoleMember, RoleFinance}
}

// IsBuiltinRole reports whether name is one of the built-in roles.
func IsBuiltinRole(name string) bool {
	_, ok := roleDefaults[name]
	return ok
}

// DefaultPermissionSet returns the hard-coded base set for a built-in role.
// Unknown role names resolve to the empty set: deny by default.
func DefaultPermissionSet(role string) PermissionSet {
	if defaults, ok := roleDefaults[role]; ok {
		return defaults.Clone()
	}
	return PermissionSet{}
}

// ValidModules returns the closed module enumeration.
func ValidModules() []Module {
	return append([]Module(nil), validModules...)
}

// ValidActions returns the closed action enumeration.
func ValidActions() []Action {
	return append([]Action(nil), validActions...)
}

// IsValidModule reports whether m is part of the current catalog.
func IsValidModule(m Module) bool {
	for _, got := range validModules {
		if got == m {
			return true
		}
	}
	return false
}

// IsValidAction reports whether a is part of the current catalog.
func IsValidAction(a Action) bool {
	for _, got := range validActions {
		if got == a {
			return true
		}
	}
	return false
}

// SanitizePermissionSet strips modules and actions that are no longer part of
// the catalog, pruning modules left empty. Persisted records predating a
// catalog change may still reference retired actions; resolution cleans them
// before use and schedules a rewrite of the stored record.
func SanitizePermissionSet(ps PermissionSet) (PermissionSet, bool) {
	clean := PermissionSet{}
	changed := false
	for m, actions := range ps {
		if !IsValidModule(m) {
			changed = true
			continue
		}
		for _, a := range actions {
			if !IsValidAction(a) {
				changed = true
				continue
			}
			clean.Grant(m, a)
		}
		if _, ok := clean[m]; !ok {
			changed = true
		}
	}
	return clean, changed
}
