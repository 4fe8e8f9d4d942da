package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier-erp/internal/audit"
	"github.com/atelier-erp/atelier-erp/internal/authz"
	"github.com/atelier-erp/atelier-erp/internal/notify"
)

// PermissionResolver resolves effective permissions for an actor.
type PermissionResolver interface {
	Can(ctx context.Context, actor authz.Actor, resource authz.Resource, action authz.Action) (bool, error)
	HasModifier(ctx context.Context, actor authz.Actor, resource authz.Resource, modifier authz.Modifier) (bool, error)
}

// DecisionRecorder counts request transitions for monitoring.
type DecisionRecorder interface {
	RecordDecision(entityType, status string)
}

// Service orchestrates the approval gate.
type Service struct {
	repo     Repository
	perms    PermissionResolver
	auditor  audit.Recorder
	notifier notify.Notifier
	metrics  DecisionRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. Auditor and notifier are optional.
func NewService(repo Repository, perms PermissionResolver, auditor audit.Recorder, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		perms:    perms,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a transition counter.
func (s *Service) WithMetrics(metrics DecisionRecorder) {
	s.metrics = metrics
}

// SubmitInput bundles a deferred mutation request.
type SubmitInput struct {
	EntityType EntityType
	Action     EntityAction
	Actor      authz.Actor
	Payload    json.RawMessage
}

// Submit gates one mutation. The actor must hold the mutation's
// permission on the gated resource. With an effective autoApprove
// modifier the mutation applies immediately and the returned record is
// synthetically approved with the actor as decider; otherwise a pending
// record is persisted and the mutation is deferred.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if !in.EntityType.Known() {
		return Request{}, fmt.Errorf("%w: unknown entity type %q", ErrValidation, in.EntityType)
	}
	if !in.Action.Known() {
		return Request{}, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	if len(in.Payload) == 0 || !json.Valid(in.Payload) {
		return Request{}, fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}

	resource := in.EntityType.Resource()
	allowed, err := s.perms.Can(ctx, in.Actor, resource, in.Action.Required())
	if err != nil {
		return Request{}, err
	}
	if !allowed {
		return Request{}, fmt.Errorf("%w: %s %s on %s", authz.ErrPermissionDenied, in.Action, in.EntityType, resource)
	}

	auto, err := s.perms.HasModifier(ctx, in.Actor, resource, authz.ModifierAutoApprove)
	if err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	req := Request{
		ID:          uuid.New(),
		EntityType:  in.EntityType,
		Action:      in.Action,
		RequestedBy: in.Actor.UserID,
		RequestedAt: now,
		Payload:     in.Payload,
		Status:      StatusPending,
	}

	if auto {
		req.Status = StatusApproved
		req.DecidedBy = &in.Actor.UserID
		req.DecidedAt = &now
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.InsertRequest(ctx, req); err != nil {
				return err
			}
			return tx.ApplyMutation(ctx, req)
		})
		if err != nil {
			return Request{}, err
		}
		s.emit(ctx, req, "approval.auto_approve", in.Actor.UserID, notify.Event{
			Kind:    notify.KindApprovalApproved,
			Message: fmt.Sprintf("Your %s %s was applied immediately.", in.EntityType, in.Action),
			Meta:    map[string]any{"request_id": req.ID.String()},
		})
		return req, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	s.emit(ctx, req, "approval.submit", in.Actor.UserID, notify.Event{
		Kind:    notify.KindApprovalSubmitted,
		Message: fmt.Sprintf("Your %s %s is awaiting approval.", in.EntityType, in.Action),
		Meta:    map[string]any{"request_id": req.ID.String()},
	})
	return req, nil
}

// Approve applies the deferred mutation and marks the request approved.
// The status transition and the payload replay run in one transaction:
// if the replay fails the request stays pending.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, decider authz.Actor, notes string) (Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidState, req.Status)
	}
	if err := s.requireDecider(ctx, decider, req); err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	var decided Request
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return fmt.Errorf("%w: %s", ErrInvalidState, current.Status)
		}
		current.Status = StatusApproved
		current.DecidedBy = &decider.UserID
		current.DecidedAt = &now
		current.Notes = strings.TrimSpace(notes)
		if err := tx.ApplyMutation(ctx, current); err != nil {
			return err
		}
		if err := tx.MarkDecided(ctx, current); err != nil {
			return err
		}
		decided = current
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.emit(ctx, decided, "approval.approve", decider.UserID, notify.Event{
		Kind:    notify.KindApprovalApproved,
		Message: fmt.Sprintf("Your %s %s was approved.", decided.EntityType, decided.Action),
		Meta:    map[string]any{"request_id": decided.ID.String()},
	})
	return decided, nil
}

// Reject marks the request rejected without touching the underlying
// entity. A rejection must always carry a reason.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, decider authz.Actor, notes string) (Request, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return Request{}, fmt.Errorf("%w: rejection requires a reason", ErrValidation)
	}
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidState, req.Status)
	}
	if err := s.requireDecider(ctx, decider, req); err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	var decided Request
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return fmt.Errorf("%w: %s", ErrInvalidState, current.Status)
		}
		current.Status = StatusRejected
		current.DecidedBy = &decider.UserID
		current.DecidedAt = &now
		current.Notes = notes
		if err := tx.MarkDecided(ctx, current); err != nil {
			return err
		}
		decided = current
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.emit(ctx, decided, "approval.reject", decider.UserID, notify.Event{
		Kind:    notify.KindApprovalRejected,
		Message: fmt.Sprintf("Your %s %s was rejected: %s", decided.EntityType, decided.Action, notes),
		Meta:    map[string]any{"request_id": decided.ID.String()},
	})
	return decided, nil
}

// ListPending returns pending requests. With a decider it returns only
// requests the decider holds approve permission for.
func (s *Service) ListPending(ctx context.Context, decider *authz.Actor) ([]Request, error) {
	pending, err := s.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, err
	}
	if decider == nil {
		return pending, nil
	}
	decidable := make([]Request, 0, len(pending))
	for _, req := range pending {
		ok, err := s.perms.Can(ctx, *decider, req.EntityType.Resource(), authz.ActionApprove)
		if err != nil {
			return nil, err
		}
		if ok {
			decidable = append(decidable, req)
		}
	}
	return decidable, nil
}

func (s *Service) requireDecider(ctx context.Context, decider authz.Actor, req Request) error {
	allowed, err := s.perms.Can(ctx, decider, req.EntityType.Resource(), authz.ActionApprove)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: approve on %s", authz.ErrPermissionDenied, req.EntityType.Resource())
	}
	return nil
}

// emit records the audit entry and fires the notification. Both are
// fire-and-forget relative to the committed transition.
func (s *Service) emit(ctx context.Context, req Request, action string, actorID int64, event notify.Event) {
	if s.metrics != nil {
		s.metrics.RecordDecision(string(req.EntityType), string(req.Status))
	}
	if s.auditor != nil {
		entry := audit.Entry{
			ActorID:  actorID,
			Action:   action,
			Entity:   string(req.EntityType),
			EntityID: req.ID.String(),
			Meta: map[string]any{
				"mutation": string(req.Action),
				"status":   string(req.Status),
			},
			At: s.now().UTC(),
		}
		if err := s.auditor.Record(ctx, entry); err != nil {
			s.logger.Error("audit approval transition", slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, req.RequestedBy, event)
	}
}
