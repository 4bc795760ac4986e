package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/JohnPitter/church-management-sub010/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionCleanup rewrites a persisted role record whose permission
	// set referenced actions or modules retired from the catalog. Enqueued
	// fire-and-forget by the resolver; resolution never waits on it.
	TaskPermissionCleanup = "authz:permission_cleanup"
)

// PermissionCleanupPayload describes one stale record rewrite.
type PermissionCleanupPayload struct {
	Kind        authz.CleanupKind   `json:"kind"`
	Key         string              `json:"key"`
	Permissions authz.PermissionSet `json:"permissions"`
	TraceID     string              `json:"trace_id"`
}

// NewPermissionCleanupTask constructs an Asynq task.
func NewPermissionCleanupTask(payload PermissionCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionCleanup, data), nil
}

// CleanupHandler processes TaskPermissionCleanup tasks: it re-reads the
// record, strips retired catalog entries again and persists the result with
// the system attribution marker so the rewrite is distinguishable from a
// human edit.
type CleanupHandler struct {
	Roles   authz.RoleStore
	Customs authz.CustomRoleStore
	Logger  *slog.Logger
}

// HandlePermissionCleanup rewrites one stale record.
func (h CleanupHandler) HandlePermissionCleanup(ctx context.Context, t *asynq.Task) error {
	var payload PermissionCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("kind", string(payload.Kind)),
		slog.String("key", payload.Key),
		slog.String("trace_id", payload.TraceID))

	switch payload.Kind {
	case authz.CleanupRoleConfig:
		return h.rewriteRoleConfig(ctx, logger, payload)
	case authz.CleanupCustomRole:
		return h.rewriteCustomRole(ctx, logger, payload)
	default:
		logger.Warn("unknown cleanup kind")
		return asynq.SkipRetry
	}
}

func (h CleanupHandler) rewriteRoleConfig(ctx context.Context, logger *slog.Logger, payload PermissionCleanupPayload) error {
	cfg, err := h.Roles.GetRoleConfig(ctx, payload.Key)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			logger.Info("role config gone, skipping cleanup")
			return nil
		}
		return fmt.Errorf("cleanup role config %q: %w", payload.Key, err)
	}
	clean, changed := authz.SanitizePermissionSet(cfg.Permissions)
	if !changed {
		return nil
	}
	cfg.Permissions = clean
	cfg.LastModifiedBy = authz.SystemActor
	cfg.LastModifiedAt = time.Now().UTC()
	if err := h.Roles.PutRoleConfig(ctx, *cfg); err != nil {
		return fmt.Errorf("cleanup role config %q: %w", payload.Key, err)
	}
	logger.Info("rewrote stale role config")
	return nil
}

func (h CleanupHandler) rewriteCustomRole(ctx context.Context, logger *slog.Logger, payload PermissionCleanupPayload) error {
	role, err := h.Customs.GetCustomRole(ctx, payload.Key)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			logger.Info("custom role gone, skipping cleanup")
			return nil
		}
		return fmt.Errorf("cleanup custom role %q: %w", payload.Key, err)
	}
	clean, changed := authz.SanitizePermissionSet(role.Permissions)
	if !changed {
		return nil
	}
	role.Permissions = clean
	role.LastModifiedBy = authz.SystemActor
	role.LastModifiedAt = time.Now().UTC()
	if err := h.Customs.PutCustomRole(ctx, *role); err != nil {
		return fmt.Errorf("cleanup custom role %q: %w", payload.Key, err)
	}
	logger.Info("rewrote stale custom role")
	return nil
}

// Client submits jobs to the queue. It satisfies authz.CleanupQueue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRoleCleanup enqueues a permission cleanup task.
func (c *Client) EnqueueRoleCleanup(ctx context.Context, kind authz.CleanupKind, key string, cleaned authz.PermissionSet) error {
	task, err := NewPermissionCleanupTask(PermissionCleanupPayload{
		Kind:        kind,
		Key:         key,
		Permissions: cleaned,
		TraceID:     uuid.NewString(),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
