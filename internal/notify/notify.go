// Package notify delivers user notifications through the background
// job queue. Delivery is fire-and-forget: enqueue failures are logged
// and never propagated to the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeNotifyUser is the task type for delivering one notification.
const TaskTypeNotifyUser = "notify:user"

// Event describes a single user-facing notification.
type Event struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Notification event kinds emitted by the approval and authz flows.
const (
	KindApprovalSubmitted  = "approval.submitted"
	KindApprovalApproved   = "approval.approved"
	KindApprovalRejected   = "approval.rejected"
	KindPermissionsChanged = "permissions.changed"
	KindApprovalDigest     = "approval.digest"
)

// TaskPayload is the wire form of a queued notification.
type TaskPayload struct {
	UserID int64 `json:"user_id"`
	Event  Event `json:"event"`
}

// NewNotifyUserTask constructs an Asynq task for one notification.
func NewNotifyUserTask(userID int64, event Event) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{UserID: userID, Event: event})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyUser, data), nil
}

// Notifier is the contract consumed by packages emitting notifications.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event Event)
}

// QueueNotifier enqueues notifications onto the Asynq queue.
type QueueNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client *asynq.Client, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{client: client, logger: logger}
}

// Notify enqueues the event for background delivery.
func (n *QueueNotifier) Notify(ctx context.Context, userID int64, event Event) {
	if n == nil || n.client == nil {
		return
	}
	task, err := NewNotifyUserTask(userID, event)
	if err != nil {
		n.logger.Error("marshal notification", slog.Any("error", err))
		return
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		n.logger.Error("enqueue notification",
			slog.Int64("user_id", userID),
			slog.String("kind", event.Kind),
			slog.Any("error", err))
	}
}
