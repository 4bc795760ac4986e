package authz

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Module names a protected area of application functionality.
type Module string

// Action names an operation class applicable within a module.
type Action string

// Protected modules. The set is closed; adding a module is a code change.
const (
	ModuleMembers    Module = "members"
	ModuleEvents     Module = "events"
	ModuleAssistance Module = "assistance"
	ModuleProjects   Module = "projects"
	ModuleFinance    Module = "finance"
	ModuleUsers      Module = "users"
	ModuleReports    Module = "reports"
	ModuleSettings   Module = "settings"
)

// Operation classes. "manage" is a superset marker by convention only; it is
// never expanded into the other actions and must be listed explicitly wherever
// full control is intended.
const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
	ActionApprove Action = "approve"
	ActionManage  Action = "manage"
)

// PermissionSet maps a module to the actions allowed on it. A module present
// in the map always carries at least one action; revoking the last action of a
// module removes the module entry entirely.
type PermissionSet map[Module][]Action

// Has reports whether the set allows action a on module m.
func (ps PermissionSet) Has(m Module, a Action) bool {
	for _, got := range ps[m] {
		if got == a {
			return true
		}
	}
	return false
}

// Grant adds action a to module m, keeping the action list deduplicated and sorted.
func (ps PermissionSet) Grant(m Module, a Action) {
	if ps.Has(m, a) {
		return
	}
	actions := append(ps[m], a)
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	ps[m] = actions
}

// Revoke removes action a from module m, pruning the module when it ends up empty.
func (ps PermissionSet) Revoke(m Module, a Action) {
	actions, ok := ps[m]
	if !ok {
		return
	}
	kept := actions[:0]
	for _, got := range actions {
		if got != a {
			kept = append(kept, got)
		}
	}
	if len(kept) == 0 {
		delete(ps, m)
		return
	}
	ps[m] = kept
}

// Clone returns a deep copy. Cached values are cloned on both Put and Get so
// a caller can never mutate a value another caller already holds.
func (ps PermissionSet) Clone() PermissionSet {
	if ps == nil {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(ps))
	for m, actions := range ps {
		out[m] = append([]Action(nil), actions...)
	}
	return out
}

// IsEmpty reports whether no module carries any action.
func (ps PermissionSet) IsEmpty() bool {
	for _, actions := range ps {
		if len(actions) > 0 {
			return false
		}
	}
	return true
}

// Equal compares two sets ignoring action order.
func (ps PermissionSet) Equal(other PermissionSet) bool {
	if len(ps) != len(other) {
		return false
	}
	for m, actions := range ps {
		got, ok := other[m]
		if !ok || len(got) != len(actions) {
			return false
		}
		for _, a := range actions {
			if !other.Has(m, a) {
				return false
			}
		}
	}
	return true
}

// Modules returns the module keys in sorted order.
func (ps PermissionSet) Modules() []Module {
	mods := make([]Module, 0, len(ps))
	for m := range ps {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return mods
}

// UnmarshalPermissionSet is the single deserialization boundary for persisted
// permission documents. Malformed payloads surface as errors, never as
// silently defaulted fields. Modules stored with an empty action list are
// pruned on the way in.
func UnmarshalPermissionSet(raw []byte) (PermissionSet, error) {
	if len(raw) == 0 {
		return PermissionSet{}, nil
	}
	var decoded map[Module][]Action
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("authz: decode permission set: %w", err)
	}
	ps := PermissionSet{}
	for m, actions := range decoded {
		for _, a := range actions {
			ps.Grant(m, a)
		}
	}
	return ps, nil
}

// RoleConfig is a persisted, admin-edited permission set for a built-in role.
// Until an administrator persists one, the catalog default is authoritative.
type RoleConfig struct {
	Role           string
	Permissions    PermissionSet
	LastModifiedBy string
	LastModifiedAt time.Time
}

// CustomRole is an administrator-defined role, independent of the built-in
// roles. Deactivation is a soft delete: the record stays, but the role grants
// nothing while inactive.
type CustomRole struct {
	ID             string
	Name           string
	DisplayName    string
	Description    string
	Permissions    PermissionSet
	IsActive       bool
	CreatedBy      string
	CreatedAt      time.Time
	LastModifiedBy string
	LastModifiedAt time.Time
}

// Override is a per-user grant/revoke delta applied on top of the role base.
// The same (module, action) pair may legally appear on both sides; revocation
// wins during resolution.
type Override struct {
	Granted        PermissionSet
	Revoked        PermissionSet
	LastModifiedBy string
	LastModifiedAt time.Time
}

// IsZero reports whether the override grants and revokes nothing.
func (o *Override) IsZero() bool {
	return o == nil || (o.Granted.IsEmpty() && o.Revoked.IsEmpty())
}

// ApprovalStatus tracks the registration state of a profile.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Profile is the authorization view of a user record: the assigned role name,
// an optional denormalized snapshot of that role's permissions, an optional
// grant/revoke override and the approval status.
type Profile struct {
	UserID       string
	Role         string
	RoleSnapshot PermissionSet
	Override     *Override
	Status       ApprovalStatus
}

// Check pairs a module with an action for batch permission queries.
type Check struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}
