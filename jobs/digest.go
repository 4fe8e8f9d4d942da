package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/atelier-erp/atelier-erp/internal/approval"
	"github.com/atelier-erp/atelier-erp/internal/authz"
	"github.com/atelier-erp/atelier-erp/internal/notify"
	"github.com/atelier-erp/atelier-erp/internal/users"
)

// DigestJob fans out a daily reminder of the pending-approval backlog
// to every user whose role may decide it.
type DigestJob struct {
	pool     *pgxpool.Pool
	users    *users.Service
	notifier notify.Notifier
	logger   *slog.Logger
	printer  *message.Printer
}

// NewDigestJob constructs a DigestJob.
func NewDigestJob(pool *pgxpool.Pool, users *users.Service, notifier notify.Notifier, logger *slog.Logger) *DigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestJob{
		pool:     pool,
		users:    users,
		notifier: notifier,
		logger:   logger,
		printer:  message.NewPrinter(language.English),
	}
}

// Handle processes approvals:digest tasks.
func (j *DigestJob) Handle(ctx context.Context, _ *asynq.Task) error {
	counts, err := j.pendingByResource(ctx)
	if err != nil {
		j.logger.Error("digest scan", slog.Any("error", err))
		return err
	}
	for resource, count := range counts {
		if count == 0 {
			continue
		}
		approvers, err := j.users.ApproverIDs(ctx, resource)
		if err != nil {
			j.logger.Error("digest approvers", slog.String("resource", string(resource)), slog.Any("error", err))
			continue
		}
		msg := j.printer.Sprintf("%d approval request(s) for %s are awaiting a decision.", count, string(resource))
		for _, userID := range approvers {
			j.notifier.Notify(ctx, userID, notify.Event{
				Kind:    notify.KindApprovalDigest,
				Message: msg,
				Meta:    map[string]any{"resource": string(resource), "count": count},
			})
		}
	}
	return nil
}

func (j *DigestJob) pendingByResource(ctx context.Context) (map[authz.Resource]int, error) {
	rows, err := j.pool.Query(ctx, `SELECT entity_type, COUNT(*) FROM pending_approvals WHERE status = $1 GROUP BY entity_type`, approval.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[authz.Resource]int)
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, err
		}
		counts[approval.EntityType(entityType).Resource()] += count
	}
	return counts, rows.Err()
}
