package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role configs and
// custom roles. It satisfies RoleStore and CustomRoleStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRoleConfig fetches the persisted override of a built-in role.
func (r *Repository) GetRoleConfig(ctx context.Context, role string) (*RoleConfig, error) {
	row := r.pool.QueryRow(ctx, `SELECT role_name, permissions, last_modified_by, last_modified_at FROM role_configs WHERE role_name = $1`, role)
	var cfg RoleConfig
	var rawPermissions []byte
	if err := row.Scan(&cfg.Role, &rawPermissions, &cfg.LastModifiedBy, &cfg.LastModifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("role config %q: %w", role, ErrNotFound)
		}
		return nil, fmt.Errorf("get role config %q: %w", role, err)
	}
	permissions, err := UnmarshalPermissionSet(rawPermissions)
	if err != nil {
		return nil, fmt.Errorf("role config %q: %w", role, err)
	}
	cfg.Permissions = permissions
	return &cfg, nil
}

// PutRoleConfig inserts or replaces the persisted override of a built-in role.
func (r *Repository) PutRoleConfig(ctx context.Context, cfg RoleConfig) error {
	raw, err := json.Marshal(cfg.Permissions)
	if err != nil {
		return fmt.Errorf("put role config %q: %w", cfg.Role, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO role_configs (role_name, permissions, last_modified_by, last_modified_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_name) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			last_modified_by = EXCLUDED.last_modified_by,
			last_modified_at = EXCLUDED.last_modified_at`,
		cfg.Role, raw, cfg.LastModifiedBy, cfg.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("put role config %q: %w", cfg.Role, err)
	}
	return nil
}

// DeleteRoleConfig removes the persisted override so the catalog default
// becomes authoritative again.
func (r *Repository) DeleteRoleConfig(ctx context.Context, role string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_configs WHERE role_name = $1`, role)
	if err != nil {
		return fmt.Errorf("delete role config %q: %w", role, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role config %q: %w", role, ErrNotFound)
	}
	return nil
}

// ListRoleConfigs enumerates all persisted built-in role overrides.
func (r *Repository) ListRoleConfigs(ctx context.Context) ([]RoleConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_name, permissions, last_modified_by, last_modified_at FROM role_configs ORDER BY role_name`)
	if err != nil {
		return nil, fmt.Errorf("list role configs: %w", err)
	}
	defer rows.Close()
	var configs []RoleConfig
	for rows.Next() {
		var cfg RoleConfig
		var rawPermissions []byte
		if err := rows.Scan(&cfg.Role, &rawPermissions, &cfg.LastModifiedBy, &cfg.LastModifiedAt); err != nil {
			return nil, fmt.Errorf("list role configs: %w", err)
		}
		permissions, err := UnmarshalPermissionSet(rawPermissions)
		if err != nil {
			return nil, fmt.Errorf("role config %q: %w", cfg.Role, err)
		}
		cfg.Permissions = permissions
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list role configs: %w", err)
	}
	return configs, nil
}

// GetCustomRole fetches one administrator-defined role by id.
func (r *Repository) GetCustomRole(ctx context.Context, id string) (*CustomRole, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, display_name, description, permissions, is_active, created_by, created_at, last_modified_by, last_modified_at
		FROM custom_roles WHERE id = $1`, id)
	role, err := scanCustomRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("custom role %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get custom role %q: %w", id, err)
	}
	return role, nil
}

// PutCustomRole inserts or replaces an administrator-defined role.
func (r *Repository) PutCustomRole(ctx context.Context, role CustomRole) error {
	raw, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("put custom role %q: %w", role.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO custom_roles (id, name, display_name, description, permissions, is_active, created_by, created_at, last_modified_by, last_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			permissions = EXCLUDED.permissions,
			is_active = EXCLUDED.is_active,
			last_modified_by = EXCLUDED.last_modified_by,
			last_modified_at = EXCLUDED.last_modified_at`,
		role.ID, role.Name, role.DisplayName, role.Description, raw, role.IsActive,
		role.CreatedBy, role.CreatedAt, role.LastModifiedBy, role.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("put custom role %q: %w", role.ID, err)
	}
	return nil
}

// ListCustomRoles enumerates all administrator-defined roles, active or not.
func (r *Repository) ListCustomRoles(ctx context.Context) ([]CustomRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, display_name, description, permissions, is_active, created_by, created_at, last_modified_by, last_modified_at
		FROM custom_roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list custom roles: %w", err)
	}
	defer rows.Close()
	var roles []CustomRole
	for rows.Next() {
		role, err := scanCustomRole(rows)
		if err != nil {
			return nil, fmt.Errorf("list custom roles: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list custom roles: %w", err)
	}
	return roles, nil
}

func scanCustomRole(row pgx.Row) (*CustomRole, error) {
	var role CustomRole
	var rawPermissions []byte
	if err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &rawPermissions,
		&role.IsActive, &role.CreatedBy, &role.CreatedAt, &role.LastModifiedBy, &role.LastModifiedAt); err != nil {
		return nil, err
	}
	permissions, err := UnmarshalPermissionSet(rawPermissions)
	if err != nil {
		return nil, err
	}
	role.Permissions = permissions
	return &role, nil
}
