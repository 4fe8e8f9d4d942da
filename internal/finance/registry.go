package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Registry applies deferred mutations against finance documents. All
// writes run on the caller's transaction so an approval decision and
// its replayed mutation commit or roll back together.
type Registry struct {
	logger *slog.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Apply replays one mutation inside tx.
func (g *Registry) Apply(ctx context.Context, tx pgx.Tx, entityType, action string, actorID int64, raw json.RawMessage) error {
	if !KnownEntityType(entityType) {
		return fmt.Errorf("%w: %q", ErrUnknownEntity, entityType)
	}
	payload, err := decodeMutation(action, raw)
	if err != nil {
		return err
	}

	switch action {
	case "create":
		data, err := json.Marshal(payload.Fields)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO finance_documents (id, entity_type, status, data, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`, uuid.New(), entityType, DocumentStatusActive, data, actorID)
		return err
	case "update":
		data, err := json.Marshal(payload.Fields)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return g.exec(ctx, tx, `UPDATE finance_documents SET data = data || $3, updated_at = NOW()
WHERE id = $1 AND entity_type = $2`, payload.DocumentID, entityType, data)
	case "delete":
		return g.exec(ctx, tx, `DELETE FROM finance_documents WHERE id = $1 AND entity_type = $2`, payload.DocumentID, entityType)
	case "cancel":
		return g.status(ctx, tx, entityType, payload.DocumentID, DocumentStatusCancelled)
	case "approve":
		return g.status(ctx, tx, entityType, payload.DocumentID, DocumentStatusApproved)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (g *Registry) status(ctx context.Context, tx pgx.Tx, entityType string, id uuid.UUID, status DocumentStatus) error {
	return g.exec(ctx, tx, `UPDATE finance_documents SET status = $3, updated_at = NOW()
WHERE id = $1 AND entity_type = $2`, id, entityType, status)
}

func (g *Registry) exec(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
