package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RoleStore persists admin-edited permission sets for built-in roles.
type RoleStore interface {
	GetRoleConfig(ctx context.Context, role string) (*RoleConfig, error)
	PutRoleConfig(ctx context.Context, cfg RoleConfig) error
	DeleteRoleConfig(ctx context.Context, role string) error
	ListRoleConfigs(ctx context.Context) ([]RoleConfig, error)
}

// CustomRoleStore persists administrator-defined roles.
type CustomRoleStore interface {
	GetCustomRole(ctx context.Context, id string) (*CustomRole, error)
	PutCustomRole(ctx context.Context, role CustomRole) error
	ListCustomRoles(ctx context.Context) ([]CustomRole, error)
}

// CleanupQueue schedules the fire-and-forget rewrite of a persisted record
// whose permission set referenced retired catalog entries.
type CleanupQueue interface {
	EnqueueRoleCleanup(ctx context.Context, kind CleanupKind, key string, cleaned PermissionSet) error
}

// CleanupKind distinguishes which store holds the record to rewrite.
type CleanupKind string

const (
	CleanupRoleConfig CleanupKind = "role_config"
	CleanupCustomRole CleanupKind = "custom_role"
)

// Resolver computes the effective base permission set for a role name,
// consulting in priority order the profile's denormalized snapshot, the custom
// role store, the role config store and the catalog defaults.
type Resolver struct {
	roles   RoleStore
	customs CustomRoleStore
	cleanup CleanupQueue
	logger  *slog.Logger
}

// NewResolver constructs a Resolver. cleanup may be nil, in which case stale
// records are cleaned in memory but never rewritten in the store.
func NewResolver(roles RoleStore, customs CustomRoleStore, cleanup CleanupQueue, logger *slog.Logger) *Resolver {
	return &Resolver{roles: roles, customs: customs, cleanup: cleanup, logger: logger}
}

// ResolveRoleBase returns the base permission set for role, before any user
// override is applied. profile may be nil when resolving a role on its own,
// e.g. for the administrative permission matrix.
//
// Priority order, first match wins:
//  1. a non-empty denormalized snapshot on the profile
//  2. the custom role store (inactive roles resolve to the empty set)
//  3. a persisted config for a built-in role
//  4. the catalog default; unknown names resolve to the empty set
func (r *Resolver) ResolveRoleBase(ctx context.Context, role string, profile *Profile) (PermissionSet, error) {
	if profile != nil && !profile.RoleSnapshot.IsEmpty() {
		clean, _ := SanitizePermissionSet(profile.RoleSnapshot)
		return clean, nil
	}

	if !IsBuiltinRole(role) {
		custom, err := r.customs.GetCustomRole(ctx, role)
		switch {
		case err == nil:
			if !custom.IsActive {
				return PermissionSet{}, nil
			}
			return r.sanitized(ctx, CleanupCustomRole, role, custom.Permissions), nil
		case errors.Is(err, ErrNotFound) || IsStoreMisconfigured(err):
			// Fall through to the catalog, which denies unknown names.
		default:
			return nil, fmt.Errorf("authz: resolve custom role %q: %w", role, err)
		}
		return DefaultPermissionSet(role), nil
	}

	cfg, err := r.roles.GetRoleConfig(ctx, role)
	switch {
	case err == nil:
		return r.sanitized(ctx, CleanupRoleConfig, role, cfg.Permissions), nil
	case errors.Is(err, ErrNotFound) || IsStoreMisconfigured(err):
		return DefaultPermissionSet(role), nil
	default:
		return nil, fmt.Errorf("authz: resolve role config %q: %w", role, err)
	}
}

// CleanStored strips retired catalog entries from a permission set that was
// just read from a store, scheduling the record rewrite when needed. Used by
// read paths that already hold the record and must not re-fetch it.
func (r *Resolver) CleanStored(ctx context.Context, kind CleanupKind, key string, ps PermissionSet) PermissionSet {
	return r.sanitized(ctx, kind, key, ps)
}

// sanitized strips retired catalog entries from a stored set and, when
// anything was stripped, schedules the persisted record to be rewritten. The
// cleaned set is returned immediately; the rewrite never blocks resolution.
func (r *Resolver) sanitized(ctx context.Context, kind CleanupKind, key string, ps PermissionSet) PermissionSet {
	clean, changed := SanitizePermissionSet(ps)
	if !changed || r.cleanup == nil {
		return clean
	}
	if err := r.cleanup.EnqueueRoleCleanup(ctx, kind, key, clean); err != nil && r.logger != nil {
		r.logger.Warn("enqueue permission cleanup",
			slog.String("kind", string(kind)),
			slog.String("key", key),
			slog.Any("error", err))
	}
	return clean
}
