package authz

// ApplyOverride merges a user's grant/revoke delta onto a base permission set.
// Grants are applied first, revocations strictly after, so a revocation always
// wins over a grant for the same (module, action) pair regardless of how the
// override was declared. The function is total: it always returns a valid,
// possibly empty, permission set and never mutates base.
func ApplyOverride(base PermissionSet, override *Override) PermissionSet {
	effective := base.Clone()
	if override == nil {
		return effective
	}
	for m, actions := range override.Granted {
		for _, a := range actions {
			effective.Grant(m, a)
		}
	}
	for m, actions := range override.Revoked {
		for _, a := range actions {
			effective.Revoke(m, a)
		}
	}
	return effective
}
