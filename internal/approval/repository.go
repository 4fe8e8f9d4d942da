package approval

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier-erp/internal/platform/db"
)

// TxRepository exposes the operations available inside one decision
// transaction. ApplyMutation replays the deferred payload on the same
// transaction as the status change, so both commit or roll back as one
// unit.
type TxRepository interface {
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	InsertRequest(ctx context.Context, req Request) error
	MarkDecided(ctx context.Context, req Request) error
	ApplyMutation(ctx context.Context, req Request) error
}

// Repository persists approval requests.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	ListByStatus(ctx context.Context, status Status) ([]Request, error)
}

// Applier replays a deferred mutation against the entity services.
type Applier interface {
	Apply(ctx context.Context, tx pgx.Tx, entityType, action string, actorID int64, payload json.RawMessage) error
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool    *pgxpool.Pool
	applier Applier
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool, applier Applier) *PGRepository {
	return &PGRepository{pool: pool, applier: applier}
}

type pgTxRepository struct {
	tx      pgx.Tx
	applier Applier
}

// WithTx runs fn inside a read-committed transaction. Decisions lock
// the request row with FOR UPDATE; at ReadCommitted a raced decider
// rereads the winner's committed row once the lock clears, so the
// in-transaction pending re-check returns ErrInvalidState rather than
// a serialization failure escaping as an opaque error.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, applier: r.applier})
	})
}

const requestColumns = `id, entity_type, action, requested_by, requested_at, payload, status, decided_by, decided_at, notes`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.EntityType,
		&req.Action,
		&req.RequestedBy,
		&req.RequestedAt,
		&req.Payload,
		&req.Status,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	return req, nil
}

// GetRequest loads a request outside any transaction.
func (r *PGRepository) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM pending_approvals WHERE id = $1`, id)
	return scanRequest(row)
}

// ListByStatus returns requests in the given status, newest first.
func (r *PGRepository) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM pending_approvals WHERE status = $1 ORDER BY requested_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRequestForUpdate locks the request row for the decision.
func (t *pgTxRepository) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM pending_approvals WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

// InsertRequest persists a new request.
func (t *pgTxRepository) InsertRequest(ctx context.Context, req Request) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO pending_approvals (`+requestColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.EntityType, req.Action, req.RequestedBy, req.RequestedAt,
		req.Payload, req.Status, req.DecidedBy, req.DecidedAt, req.Notes)
	return err
}

// MarkDecided writes the terminal status. The pending guard keeps a
// concurrent decision from overwriting an already-decided row.
func (t *pgTxRepository) MarkDecided(ctx context.Context, req Request) error {
	tag, err := t.tx.Exec(ctx, `UPDATE pending_approvals
SET status = $2, decided_by = $3, decided_at = $4, notes = $5
WHERE id = $1 AND status = $6`,
		req.ID, req.Status, req.DecidedBy, req.DecidedAt, req.Notes, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ApplyMutation replays the deferred payload on this transaction.
func (t *pgTxRepository) ApplyMutation(ctx context.Context, req Request) error {
	if t.applier == nil {
		return errors.New("approval: no applier configured")
	}
	return t.applier.Apply(ctx, t.tx, string(req.EntityType), string(req.Action), req.RequestedBy, req.Payload)
}
