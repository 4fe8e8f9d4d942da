// Package jobs hosts the background worker: notification delivery and
// the pending-approvals digest.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier-erp/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeApprovalDigest is the task type for the daily digest scan.
	TaskTypeApprovalDigest = "approvals:digest"
)

// NewApprovalDigestTask constructs the digest task.
func NewApprovalDigestTask() *asynq.Task {
	return asynq.NewTask(TaskTypeApprovalDigest, nil)
}

// NotifyHandler persists queued notifications for in-app display.
type NotifyHandler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewNotifyHandler constructs a NotifyHandler.
func NewNotifyHandler(pool *pgxpool.Pool, logger *slog.Logger) *NotifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyHandler{pool: pool, logger: logger}
}

// HandleNotifyUser processes notify:user tasks.
func (h *NotifyHandler) HandleNotifyUser(ctx context.Context, t *asynq.Task) error {
	var payload notify.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	meta, err := json.Marshal(payload.Event.Meta)
	if err != nil {
		return asynq.SkipRetry
	}
	_, err = h.pool.Exec(ctx, `INSERT INTO notifications (user_id, kind, message, meta, created_at)
VALUES ($1, $2, $3, $4, NOW())`, payload.UserID, payload.Event.Kind, payload.Event.Message, meta)
	if err != nil {
		h.logger.Error("persist notification",
			slog.Int64("user_id", payload.UserID),
			slog.Any("error", err))
		return err
	}
	h.logger.Info("notification delivered",
		slog.Int64("user_id", payload.UserID),
		slog.String("kind", payload.Event.Kind))
	return nil
}
