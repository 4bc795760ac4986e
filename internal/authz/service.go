package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JohnPitter/church-management-sub010/internal/shared"
)

// ProfileStore persists user profile documents.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SetOverride(ctx context.Context, userID string, override Override) error
	SetRoleSnapshot(ctx context.Context, userID string, snapshot PermissionSet) error
	AssignRole(ctx context.Context, userID, role string, snapshot PermissionSet) error
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
}

// ServiceConfig groups the dependencies of the authorization service.
type ServiceConfig struct {
	Logger   *slog.Logger
	Resolver *Resolver
	Roles    RoleStore
	Customs  CustomRoleStore
	Profiles ProfileStore
	Cache    *Cache
	Audit    *shared.AuditLogger
}

// Service is the single entry point for permission checks and permission
// mutations. All reads go through the injected process-wide Cache; mutations
// invalidate the relevant entries synchronously before returning, so a check
// issued after a completed mutation always sees its effect within one process.
type Service struct {
	logger   *slog.Logger
	resolver *Resolver
	roles    RoleStore
	customs  CustomRoleStore
	profiles ProfileStore
	cache    *Cache
	audit    *shared.AuditLogger
	flight   singleflight.Group
}

// NewService constructs the Service. Audit may be nil in tests.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		logger:   cfg.Logger,
		resolver: cfg.Resolver,
		roles:    cfg.Roles,
		customs:  cfg.Customs,
		profiles: cfg.Profiles,
		cache:    cfg.Cache,
		audit:    cfg.Audit,
	}
}

// HasPermission reports whether the user may perform action on module.
// Callers must treat an error as deny, never as allow.
func (s *Service) HasPermission(ctx context.Context, userID string, module Module, action Action) (bool, error) {
	ps, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return ps.Has(module, action), nil
}

// HasAnyPermission reports whether at least one of the checks passes.
func (s *Service) HasAnyPermission(ctx context.Context, userID string, checks []Check) (bool, error) {
	if len(checks) == 0 {
		return true, nil
	}
	ps, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range checks {
		if ps.Has(c.Module, c.Action) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every check passes.
func (s *Service) HasAllPermissions(ctx context.Context, userID string, checks []Check) (bool, error) {
	if len(checks) == 0 {
		return true, nil
	}
	ps, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range checks {
		if !ps.Has(c.Module, c.Action) {
			return false, nil
		}
	}
	return true, nil
}

// GetEffectivePermissions returns the effective permission set for one user.
// Concurrent misses for the same user collapse onto a single resolution.
//
// The flight key carries the cache's invalidation generation: a check that
// starts after a mutation has completed can never join an older in-flight
// resolution whose profile read may predate that mutation. The generation is
// re-checked before the write-back, so an invalidation landing mid-flight
// (including a full user-cache flush) is never overwritten with a stale set.
func (s *Service) GetEffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	if ps, ok := s.cache.GetUser(userID); ok {
		return ps, nil
	}
	gen := s.cache.UserGeneration(userID)
	key := userID + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		ps, err := s.resolveUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.cache.UserGeneration(userID) == gen {
			s.cache.PutUser(userID, ps)
		}
		return ps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet).Clone(), nil
}

// GetPermissionMatrix returns the resolved permission set of every role,
// built-in and custom, for the administrative matrix view. Inactive custom
// roles appear with an empty set.
func (s *Service) GetPermissionMatrix(ctx context.Context) (map[string]PermissionSet, error) {
	configs, err := s.roles.ListRoleConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: list role configs: %w", err)
	}
	matrix := make(map[string]PermissionSet, len(configs))
	overridden := make(map[string]PermissionSet, len(configs))
	for _, cfg := range configs {
		overridden[cfg.Role] = s.resolver.CleanStored(ctx, CleanupRoleConfig, cfg.Role, cfg.Permissions)
	}
	for _, role := range BuiltinRoles() {
		base, ok := overridden[role]
		if !ok {
			base = DefaultPermissionSet(role)
		}
		matrix[role] = base
		s.cache.PutRole(role, base)
	}

	customs, err := s.customs.ListCustomRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: list custom roles: %w", err)
	}
	for _, cr := range customs {
		if !cr.IsActive {
			matrix[cr.ID] = PermissionSet{}
			continue
		}
		base := s.resolver.CleanStored(ctx, CleanupCustomRole, cr.ID, cr.Permissions)
		matrix[cr.ID] = base
		s.cache.PutRole(cr.ID, base)
	}
	return matrix, nil
}

// UpdateRolePermissions persists an administrator edit of a built-in role's
// permission set and invalidates every cached resolution it may affect.
func (s *Service) UpdateRolePermissions(ctx context.Context, role string, ps PermissionSet, updatedBy string) error {
	if !IsBuiltinRole(role) {
		return fmt.Errorf("%w: %q is not a built-in role", ErrValidation, role)
	}
	if err := ValidatePermissionSet(ps); err != nil {
		return err
	}
	cfg := RoleConfig{
		Role:           role,
		Permissions:    ps.Clone(),
		LastModifiedBy: updatedBy,
		LastModifiedAt: time.Now().UTC(),
	}
	if err := s.roles.PutRoleConfig(ctx, cfg); err != nil {
		return fmt.Errorf("authz: update role permissions %q: %w", role, err)
	}
	s.cache.InvalidateRole(role)
	s.cache.InvalidateAllUsers()
	s.recordAudit(ctx, updatedBy, "role.permissions.update", "role_config", role, map[string]any{"modules": ps.Modules()})
	return nil
}

// ResetRoleToDefault removes the persisted override of a built-in role so
// resolution falls back to the catalog default.
func (s *Service) ResetRoleToDefault(ctx context.Context, role, updatedBy string) error {
	if !IsBuiltinRole(role) {
		return fmt.Errorf("%w: %q is not a built-in role", ErrValidation, role)
	}
	if err := s.roles.DeleteRoleConfig(ctx, role); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("authz: reset role %q: %w", role, err)
	}
	s.cache.InvalidateRole(role)
	s.cache.InvalidateAllUsers()
	s.recordAudit(ctx, updatedBy, "role.permissions.reset", "role_config", role, nil)
	return nil
}

// UpdateUserOverride replaces the user's grant/revoke delta. Passing two empty
// sets clears the override.
func (s *Service) UpdateUserOverride(ctx context.Context, userID string, granted, revoked PermissionSet, updatedBy string) error {
	if err := ValidatePermissionSet(granted); err != nil {
		return err
	}
	if err := ValidatePermissionSet(revoked); err != nil {
		return err
	}
	if _, err := s.profiles.GetProfile(ctx, userID); err != nil {
		return fmt.Errorf("authz: update override for %q: %w", userID, err)
	}
	override := Override{
		Granted:        granted.Clone(),
		Revoked:        revoked.Clone(),
		LastModifiedBy: updatedBy,
		LastModifiedAt: time.Now().UTC(),
	}
	if err := s.profiles.SetOverride(ctx, userID, override); err != nil {
		return fmt.Errorf("authz: update override for %q: %w", userID, err)
	}
	s.cache.InvalidateUser(userID)
	s.recordAudit(ctx, updatedBy, "user.override.update", "user_profile", userID, map[string]any{
		"granted": granted.Modules(),
		"revoked": revoked.Modules(),
	})
	return nil
}

// CreateCustomRoleInput carries the fields of a new administrator-defined role.
type CreateCustomRoleInput struct {
	Name        string
	DisplayName string
	Description string
	Permissions PermissionSet
	CreatedBy   string
}

// CreateCustomRole persists a new active custom role. The id is the
// normalized role name; collisions with built-in names or existing custom
// roles are rejected.
func (s *Service) CreateCustomRole(ctx context.Context, input CreateCustomRoleInput) (*CustomRole, error) {
	id := NormalizeRoleName(input.Name)
	if id == "" {
		return nil, fmt.Errorf("%w: custom role name must not be blank", ErrValidation)
	}
	if IsBuiltinRole(id) {
		return nil, fmt.Errorf("%w: %q collides with a built-in role", ErrValidation, id)
	}
	if err := ValidatePermissionSet(input.Permissions); err != nil {
		return nil, err
	}
	if _, err := s.customs.GetCustomRole(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: custom role %q already exists", ErrValidation, id)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("authz: create custom role %q: %w", id, err)
	}

	now := time.Now().UTC()
	role := CustomRole{
		ID:             id,
		Name:           strings.TrimSpace(input.Name),
		DisplayName:    strings.TrimSpace(input.DisplayName),
		Description:    strings.TrimSpace(input.Description),
		Permissions:    input.Permissions.Clone(),
		IsActive:       true,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      now,
		LastModifiedBy: input.CreatedBy,
		LastModifiedAt: now,
	}
	if role.DisplayName == "" {
		role.DisplayName = role.Name
	}
	if err := s.customs.PutCustomRole(ctx, role); err != nil {
		return nil, fmt.Errorf("authz: create custom role %q: %w", id, err)
	}
	s.cache.InvalidateRole(id)
	s.recordAudit(ctx, input.CreatedBy, "custom_role.create", "custom_role", id, nil)
	return &role, nil
}

// CustomRoleUpdate lists the fields an administrator may change. Nil fields
// are left untouched.
type CustomRoleUpdate struct {
	DisplayName *string
	Description *string
	Permissions *PermissionSet
	IsActive    *bool
}

// UpdateCustomRole applies a partial edit. When the permission set or the
// active flag changed, every user assigned to the role has their denormalized
// snapshot rewritten eagerly and their cache entry invalidated.
func (s *Service) UpdateCustomRole(ctx context.Context, id string, update CustomRoleUpdate, updatedBy string) (*CustomRole, error) {
	role, err := s.customs.GetCustomRole(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("authz: update custom role %q: %w", id, err)
	}

	permissionsChanged := false
	activeChanged := false
	if update.DisplayName != nil {
		role.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Description != nil {
		role.Description = strings.TrimSpace(*update.Description)
	}
	if update.Permissions != nil {
		if err := ValidatePermissionSet(*update.Permissions); err != nil {
			return nil, err
		}
		if !role.Permissions.Equal(*update.Permissions) {
			role.Permissions = update.Permissions.Clone()
			permissionsChanged = true
		}
	}
	if update.IsActive != nil && role.IsActive != *update.IsActive {
		role.IsActive = *update.IsActive
		activeChanged = true
	}
	role.LastModifiedBy = updatedBy
	role.LastModifiedAt = time.Now().UTC()

	if err := s.customs.PutCustomRole(ctx, *role); err != nil {
		return nil, fmt.Errorf("authz: update custom role %q: %w", id, err)
	}
	s.cache.InvalidateRole(id)

	if permissionsChanged || activeChanged {
		if err := s.syncRoleUsers(ctx, role); err != nil {
			return nil, err
		}
	}
	s.recordAudit(ctx, updatedBy, "custom_role.update", "custom_role", id, map[string]any{
		"permissions_changed": permissionsChanged,
		"active_changed":      activeChanged,
	})
	return role, nil
}

// DeleteCustomRole deactivates a custom role. The record is kept; while
// inactive the role resolves to the empty set and assigned users have their
// snapshots cleared.
func (s *Service) DeleteCustomRole(ctx context.Context, id, deletedBy string) error {
	inactive := false
	_, err := s.UpdateCustomRole(ctx, id, CustomRoleUpdate{IsActive: &inactive}, deletedBy)
	return err
}

// AssignRoleToUser changes a user's role. Assigning a built-in role clears
// the denormalized snapshot so resolution consults the role config store;
// assigning a custom role copies its current permission set into the snapshot,
// or clears it when the role is missing or inactive.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID, updatedBy string) error {
	if _, err := s.profiles.GetProfile(ctx, userID); err != nil {
		return fmt.Errorf("authz: assign role to %q: %w", userID, err)
	}

	var snapshot PermissionSet
	if !IsBuiltinRole(roleID) {
		role, err := s.customs.GetCustomRole(ctx, roleID)
		switch {
		case err == nil && role.IsActive:
			snapshot = s.resolver.CleanStored(ctx, CleanupCustomRole, roleID, role.Permissions)
		case err == nil || errors.Is(err, ErrNotFound):
			// Missing or inactive custom role: snapshot stays clear.
		default:
			return fmt.Errorf("authz: assign role to %q: %w", userID, err)
		}
	}

	if err := s.profiles.AssignRole(ctx, userID, roleID, snapshot); err != nil {
		return fmt.Errorf("authz: assign role to %q: %w", userID, err)
	}
	s.cache.InvalidateUser(userID)
	s.recordAudit(ctx, updatedBy, "user.role.assign", "user_profile", userID, map[string]any{"role": roleID})
	return nil
}

// ValidatePermissionSet rejects permission sets referencing modules or actions
// outside the catalog, or modules with an empty action list.
func ValidatePermissionSet(ps PermissionSet) error {
	for m, actions := range ps {
		if !IsValidModule(m) {
			return fmt.Errorf("%w: unknown module %q", ErrValidation, m)
		}
		if len(actions) == 0 {
			return fmt.Errorf("%w: module %q carries no actions", ErrValidation, m)
		}
		for _, a := range actions {
			if !IsValidAction(a) {
				return fmt.Errorf("%w: unknown action %q", ErrValidation, a)
			}
		}
	}
	return nil
}

// resolveUser is the single user-level resolution path: approval gate, role
// base (snapshot first, then cached role resolution), then override.
func (s *Service) resolveUser(ctx context.Context, userID string) (PermissionSet, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: load profile %q: %w", userID, err)
	}
	if profile.Status != StatusApproved {
		return PermissionSet{}, nil
	}
	base, err := s.roleBase(ctx, profile.Role, profile)
	if err != nil {
		return nil, err
	}
	return ApplyOverride(base, profile.Override), nil
}

// roleBase resolves the base set for a role, going through the role cache
// unless the profile carries a denormalized snapshot.
func (s *Service) roleBase(ctx context.Context, role string, profile *Profile) (PermissionSet, error) {
	if profile != nil && !profile.RoleSnapshot.IsEmpty() {
		return s.resolver.ResolveRoleBase(ctx, role, profile)
	}
	if ps, ok := s.cache.GetRole(role); ok {
		return ps, nil
	}
	ps, err := s.resolver.ResolveRoleBase(ctx, role, nil)
	if err != nil {
		return nil, err
	}
	s.cache.PutRole(role, ps)
	return ps, nil
}

// syncRoleUsers rewrites the denormalized snapshot of every user assigned to
// the role and invalidates each user's cache entry individually. Write errors
// propagate: silently dropping a permission sync is a security bug.
func (s *Service) syncRoleUsers(ctx context.Context, role *CustomRole) error {
	userIDs, err := s.profiles.ListUserIDsByRole(ctx, role.ID)
	if err != nil {
		return fmt.Errorf("authz: sync users of role %q: %w", role.ID, err)
	}
	var snapshot PermissionSet
	if role.IsActive {
		snapshot = role.Permissions.Clone()
	}
	for _, userID := range userIDs {
		if err := s.profiles.SetRoleSnapshot(ctx, userID, snapshot); err != nil {
			return fmt.Errorf("authz: sync snapshot of %q for role %q: %w", userID, role.ID, err)
		}
		s.cache.InvalidateUser(userID)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
