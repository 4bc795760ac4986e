// Package profiles implements the user profile store consumed by the
// authorization subsystem: one document per user holding the assigned role,
// an optional denormalized snapshot of that role's permissions, an optional
// grant/revoke override and the approval status. Every write publishes a
// change notification on the user's redis channel so other processes can
// invalidate their caches.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JohnPitter/church-management-sub010/internal/authz"
)

const changeChannelPrefix = "profiles:changed:"

// ChangeChannel returns the redis pub/sub channel carrying change
// notifications for one user's profile document.
func ChangeChannel(userID string) string {
	return changeChannelPrefix + userID
}

// Repository provides PostgreSQL backed persistence plus redis change
// notifications. It satisfies authz.ProfileStore and authz.ProfileWatcher.
type Repository struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

// NewRepository constructs a repository. The redis client may be nil, in
// which case writes persist but no change notifications are published.
func NewRepository(pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, redis: redisClient, logger: logger}
}

// GetProfile reads one profile document by user id.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*authz.Profile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, role_name, role_permissions, granted_permissions, revoked_permissions,
		       override_modified_by, override_modified_at, approval_status
		FROM user_profiles WHERE user_id = $1`, userID)

	var (
		profile     authz.Profile
		rawSnapshot []byte
		rawGranted  []byte
		rawRevoked  []byte
		overrideBy  *string
		overrideAt  *time.Time
		status      string
	)
	if err := row.Scan(&profile.UserID, &profile.Role, &rawSnapshot, &rawGranted, &rawRevoked,
		&overrideBy, &overrideAt, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %q: %w", userID, authz.ErrNotFound)
		}
		return nil, fmt.Errorf("get profile %q: %w", userID, err)
	}
	profile.Status = authz.ApprovalStatus(status)

	snapshot, err := authz.UnmarshalPermissionSet(rawSnapshot)
	if err != nil {
		return nil, fmt.Errorf("profile %q snapshot: %w", userID, err)
	}
	profile.RoleSnapshot = snapshot

	granted, err := authz.UnmarshalPermissionSet(rawGranted)
	if err != nil {
		return nil, fmt.Errorf("profile %q override: %w", userID, err)
	}
	revoked, err := authz.UnmarshalPermissionSet(rawRevoked)
	if err != nil {
		return nil, fmt.Errorf("profile %q override: %w", userID, err)
	}
	if !granted.IsEmpty() || !revoked.IsEmpty() {
		override := authz.Override{Granted: granted, Revoked: revoked}
		if overrideBy != nil {
			override.LastModifiedBy = *overrideBy
		}
		if overrideAt != nil {
			override.LastModifiedAt = *overrideAt
		}
		profile.Override = &override
	}
	return &profile, nil
}

// SetOverride replaces the user's grant/revoke delta. Empty sets clear it.
func (r *Repository) SetOverride(ctx context.Context, userID string, override authz.Override) error {
	var rawGranted, rawRevoked any
	if !override.Granted.IsEmpty() {
		raw, err := json.Marshal(override.Granted)
		if err != nil {
			return fmt.Errorf("set override %q: %w", userID, err)
		}
		rawGranted = raw
	}
	if !override.Revoked.IsEmpty() {
		raw, err := json.Marshal(override.Revoked)
		if err != nil {
			return fmt.Errorf("set override %q: %w", userID, err)
		}
		rawRevoked = raw
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_profiles SET
			granted_permissions = $2,
			revoked_permissions = $3,
			override_modified_by = $4,
			override_modified_at = $5,
			updated_at = NOW()
		WHERE user_id = $1`,
		userID, rawGranted, rawRevoked, override.LastModifiedBy, override.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("set override %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", userID, authz.ErrNotFound)
	}
	r.publishChange(ctx, userID)
	return nil
}

// SetRoleSnapshot overwrites the denormalized role permission snapshot. A nil
// snapshot clears the column so resolution falls through to the role stores.
func (r *Repository) SetRoleSnapshot(ctx context.Context, userID string, snapshot authz.PermissionSet) error {
	raw, err := marshalNullable(snapshot)
	if err != nil {
		return fmt.Errorf("set snapshot %q: %w", userID, err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE user_profiles SET role_permissions = $2, updated_at = NOW() WHERE user_id = $1`, userID, raw)
	if err != nil {
		return fmt.Errorf("set snapshot %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", userID, authz.ErrNotFound)
	}
	r.publishChange(ctx, userID)
	return nil
}

// AssignRole changes the user's role and rewrites the snapshot in one update.
func (r *Repository) AssignRole(ctx context.Context, userID, role string, snapshot authz.PermissionSet) error {
	raw, err := marshalNullable(snapshot)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", userID, err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE user_profiles SET role_name = $2, role_permissions = $3, updated_at = NOW() WHERE user_id = $1`, userID, role, raw)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", userID, authz.ErrNotFound)
	}
	r.publishChange(ctx, userID)
	return nil
}

// ListUserIDsByRole returns the ids of every user currently assigned to role.
func (r *Repository) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_profiles WHERE role_name = $1 ORDER BY user_id`, role)
	if err != nil {
		return nil, fmt.Errorf("list users of role %q: %w", role, err)
	}
	defer rows.Close()
	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("list users of role %q: %w", role, err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users of role %q: %w", role, err)
	}
	return userIDs, nil
}

// WatchProfile subscribes to change notifications for one profile document.
// The returned channel receives one signal per notification, coalescing
// bursts, and closes when ctx is cancelled.
func (r *Repository) WatchProfile(ctx context.Context, userID string) (<-chan struct{}, error) {
	if r.redis == nil {
		return nil, errors.New("profiles: watch requires a redis client")
	}
	pubsub := r.redis.Subscribe(ctx, ChangeChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("watch profile %q: %w", userID, err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *Repository) publishChange(ctx context.Context, userID string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Publish(ctx, ChangeChannel(userID), time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil && r.logger != nil {
		r.logger.Warn("publish profile change", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func marshalNullable(ps authz.PermissionSet) (any, error) {
	if ps == nil || ps.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(ps)
}
