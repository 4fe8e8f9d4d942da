package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier-erp/internal/audit"
	"github.com/atelier-erp/atelier-erp/internal/authz"
	"github.com/atelier-erp/atelier-erp/internal/notify"
)

// memoryRepository implements Repository with map storage and
// snapshot-based rollback so transactional guarantees hold in tests.
type memoryRepository struct {
	mu       sync.Mutex
	requests map[uuid.UUID]Request
	applied  []Request
	applyErr error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{requests: make(map[uuid.UUID]Request)}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]Request, len(r.requests))
	for id, req := range r.requests {
		snapshot[id] = req
	}
	appliedLen := len(r.applied)

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.requests = snapshot
		r.applied = r.applied[:appliedLen]
		return err
	}
	return nil
}

func (r *memoryRepository) GetRequest(_ context.Context, id uuid.UUID) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepository) ListByStatus(_ context.Context, status Status) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *memoryRepository) applyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func (r *memoryRepository) mustGet(t *testing.T, id uuid.UUID) Request {
	t.Helper()
	req, err := r.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req
}

// memoryTx operates on the already-locked repository.
type memoryTx struct {
	repo *memoryRepository
}

func (t *memoryTx) GetRequestForUpdate(_ context.Context, id uuid.UUID) (Request, error) {
	req, ok := t.repo.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (t *memoryTx) InsertRequest(_ context.Context, req Request) error {
	t.repo.requests[req.ID] = req
	return nil
}

func (t *memoryTx) MarkDecided(_ context.Context, req Request) error {
	current, ok := t.repo.requests[req.ID]
	if !ok || current.Status != StatusPending {
		return ErrInvalidState
	}
	t.repo.requests[req.ID] = req
	return nil
}

func (t *memoryTx) ApplyMutation(_ context.Context, req Request) error {
	if t.repo.applyErr != nil {
		return t.repo.applyErr
	}
	t.repo.applied = append(t.repo.applied, req)
	return nil
}

type stubPerms struct {
	canFn func(actor authz.Actor, resource authz.Resource, action authz.Action) bool
	auto  bool
}

func (s stubPerms) Can(_ context.Context, actor authz.Actor, resource authz.Resource, action authz.Action) (bool, error) {
	if s.canFn == nil {
		return true, nil
	}
	return s.canFn(actor, resource, action), nil
}

func (s stubPerms) HasModifier(_ context.Context, _ authz.Actor, _ authz.Resource, _ authz.Modifier) (bool, error) {
	return s.auto, nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAuditor) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	users  []int64
}

func (r *recordingNotifier) Notify(_ context.Context, userID int64, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.events = append(r.events, event)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var fixedNow = time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)

func newTestService(perms stubPerms) (*Service, *memoryRepository, *recordingAuditor, *recordingNotifier) {
	repo := newMemoryRepository()
	auditor := &recordingAuditor{}
	notifier := &recordingNotifier{}
	svc := NewService(repo, perms, auditor, notifier, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, repo, auditor, notifier
}

func submitInput(entity EntityType, action EntityAction) SubmitInput {
	return SubmitInput{
		EntityType: entity,
		Action:     action,
		Actor:      authz.Actor{UserID: 11, Role: authz.RoleAccountant},
		Payload:    json.RawMessage(`{"fields":{"amount":1500}}`),
	}
}

func TestSubmitDefersWithoutAutoApprove(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor, notifier := newTestService(stubPerms{})

	req, err := svc.Submit(ctx, submitInput(EntityExpense, ActionCreate))
	require.NoError(t, err)

	require.Equal(t, StatusPending, req.Status)
	require.Nil(t, req.DecidedBy)
	require.Equal(t, fixedNow, req.RequestedAt)
	require.Zero(t, repo.applyCount(), "deferred mutation must not run at submit time")

	stored := repo.mustGet(t, req.ID)
	require.Equal(t, StatusPending, stored.Status)

	require.Equal(t, []string{"approval.submit"}, auditor.actions())
	require.Equal(t, []string{notify.KindApprovalSubmitted}, notifier.kinds())
	require.Equal(t, []int64{11}, notifier.users)
}

func TestSubmitAutoApproveAppliesImmediately(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor, notifier := newTestService(stubPerms{auto: true})

	req, err := svc.Submit(ctx, submitInput(EntitySale, ActionCreate))
	require.NoError(t, err)

	require.Equal(t, StatusApproved, req.Status)
	require.NotNil(t, req.DecidedBy)
	require.Equal(t, int64(11), *req.DecidedBy, "auto-approval records the requester as decider")
	require.NotNil(t, req.DecidedAt)
	require.Equal(t, fixedNow, *req.DecidedAt)
	require.Equal(t, 1, repo.applyCount())

	require.Equal(t, []string{"approval.auto_approve"}, auditor.actions())
	require.Equal(t, []string{notify.KindApprovalApproved}, notifier.kinds())
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(stubPerms{})

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"unknown entity", SubmitInput{EntityType: "payroll", Action: ActionCreate, Payload: json.RawMessage(`{}`)}},
		{"unknown action", SubmitInput{EntityType: EntityExpense, Action: "archive", Payload: json.RawMessage(`{}`)}},
		{"empty payload", SubmitInput{EntityType: EntityExpense, Action: ActionCreate}},
		{"invalid json", SubmitInput{EntityType: EntityExpense, Action: ActionCreate, Payload: json.RawMessage(`{broken`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	require.Zero(t, repo.applyCount())
}

func TestSubmitDeniedBeforeAnyMutation(t *testing.T) {
	ctx := context.Background()
	deny := stubPerms{canFn: func(authz.Actor, authz.Resource, authz.Action) bool { return false }}
	svc, repo, auditor, notifier := newTestService(deny)

	_, err := svc.Submit(ctx, submitInput(EntityExpense, ActionDelete))
	require.ErrorIs(t, err, authz.ErrPermissionDenied)

	require.Zero(t, repo.applyCount())
	require.Empty(t, auditor.actions())
	require.Empty(t, notifier.kinds())
}

func TestApproveAppliesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor, notifier := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityInvoice, ActionUpdate))
	require.NoError(t, err)

	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}
	decided, err := svc.Approve(ctx, submitted.ID, decider, "  looks correct  ")
	require.NoError(t, err)

	require.Equal(t, StatusApproved, decided.Status)
	require.Equal(t, int64(2), *decided.DecidedBy)
	require.Equal(t, fixedNow, *decided.DecidedAt)
	require.Equal(t, "looks correct", decided.Notes)
	require.Equal(t, 1, repo.applyCount())

	require.Equal(t, []string{"approval.submit", "approval.approve"}, auditor.actions())
	for _, entry := range auditor.entries {
		require.Equal(t, fixedNow, entry.At)
	}
	require.Equal(t, []string{notify.KindApprovalSubmitted, notify.KindApprovalApproved}, notifier.kinds())
	// Both notifications go to the requester, not the decider.
	require.Equal(t, []int64{11, 11}, notifier.users)
}

func TestApproveRollsBackWhenReplayFails(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor, _ := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityExpense, ActionUpdate))
	require.NoError(t, err)

	repo.applyErr = errors.New("document missing")
	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}

	_, err = svc.Approve(ctx, submitted.ID, decider, "")
	require.Error(t, err)

	// The failed replay must leave the request pending and re-decidable.
	stored := repo.mustGet(t, submitted.ID)
	require.Equal(t, StatusPending, stored.Status)
	require.Nil(t, stored.DecidedBy)
	require.NotContains(t, auditor.actions(), "approval.approve")

	repo.applyErr = nil
	decided, err := svc.Approve(ctx, submitted.ID, decider, "retried")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
}

func TestApproveNonPendingRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityPurchase, ActionCreate))
	require.NoError(t, err)

	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}
	_, err = svc.Approve(ctx, submitted.ID, decider, "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, submitted.ID, decider, "")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Reject(ctx, submitted.ID, decider, "too late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDecisionOnUnknownRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(stubPerms{})
	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}

	_, err := svc.Approve(ctx, uuid.New(), decider, "")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Reject(ctx, uuid.New(), decider, "no such request")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApproveRequiresApprovePermission(t *testing.T) {
	ctx := context.Background()
	viewerOnly := stubPerms{canFn: func(_ authz.Actor, _ authz.Resource, action authz.Action) bool {
		return action != authz.ActionApprove
	}}
	svc, repo, _, _ := newTestService(viewerOnly)

	submitted, err := svc.Submit(ctx, submitInput(EntityExpense, ActionCreate))
	require.NoError(t, err)

	decider := authz.Actor{UserID: 3, Role: authz.RoleAccountant}
	_, err = svc.Approve(ctx, submitted.ID, decider, "")
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	require.Zero(t, repo.applyCount())
}

func TestRejectRequiresReason(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityBOQ, ActionUpdate))
	require.NoError(t, err)

	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}
	for _, notes := range []string{"", "   ", "\t\n"} {
		_, err = svc.Reject(ctx, submitted.ID, decider, notes)
		require.ErrorIs(t, err, ErrValidation)
	}

	// A failed rejection leaves the request pending.
	require.Equal(t, StatusPending, repo.mustGet(t, submitted.ID).Status)
}

func TestRejectNeverTouchesEntity(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditor, notifier := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityInstallment, ActionCancel))
	require.NoError(t, err)

	decider := authz.Actor{UserID: 2, Role: authz.RoleAdmin}
	decided, err := svc.Reject(ctx, submitted.ID, decider, "duplicate entry")
	require.NoError(t, err)

	require.Equal(t, StatusRejected, decided.Status)
	require.Equal(t, "duplicate entry", decided.Notes)
	require.Zero(t, repo.applyCount(), "rejection must not replay the payload")

	require.Equal(t, []string{"approval.submit", "approval.reject"}, auditor.actions())
	require.Equal(t, []string{notify.KindApprovalSubmitted, notify.KindApprovalRejected}, notifier.kinds())
}

// staleReadRepository models the database race: the pre-decision read
// returns the request still pending, while the locked in-transaction
// read observes the row another decider already committed.
type staleReadRepository struct {
	*memoryRepository
}

func (r *staleReadRepository) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	req, err := r.memoryRepository.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	req.Status = StatusPending
	req.DecidedBy = nil
	req.DecidedAt = nil
	req.Notes = ""
	return req, nil
}

func TestDecisionAfterRowAlreadyDecided(t *testing.T) {
	ctx := context.Background()
	base := newMemoryRepository()
	svc := NewService(&staleReadRepository{memoryRepository: base}, stubPerms{}, nil, nil, nil)
	svc.WithNow(func() time.Time { return fixedNow })

	submitted, err := svc.Submit(ctx, submitInput(EntityExpense, ActionCreate))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, submitted.ID, authz.Actor{UserID: 2, Role: authz.RoleAdmin}, "")
	require.NoError(t, err)
	applied := base.applyCount()

	// Both deciders passed the pre-check before the winner committed.
	// The re-check under the row lock must report the decided state
	// and must not replay the payload again.
	_, err = svc.Approve(ctx, submitted.ID, authz.Actor{UserID: 4, Role: authz.RoleAdmin}, "")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Reject(ctx, submitted.ID, authz.Actor{UserID: 4, Role: authz.RoleAdmin}, "raced")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, applied, base.applyCount())
}

func TestConcurrentDoubleApprove(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(stubPerms{})

	submitted, err := svc.Submit(ctx, submitInput(EntityExpense, ActionCreate))
	require.NoError(t, err)

	deciders := []authz.Actor{
		{UserID: 2, Role: authz.RoleAdmin},
		{UserID: 4, Role: authz.RoleAdmin},
	}

	errs := make([]error, len(deciders))
	var wg sync.WaitGroup
	for i, decider := range deciders {
		wg.Add(1)
		go func(i int, decider authz.Actor) {
			defer wg.Done()
			_, errs[i] = svc.Approve(ctx, submitted.ID, decider, "")
		}(i, decider)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidState):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one decision must win")
	require.Equal(t, 1, conflicted, "the losing decision must see the already-decided state")
	require.Equal(t, 1, repo.applyCount(), "the mutation must apply exactly once")
}

func TestListPendingFiltersByDeciderPermission(t *testing.T) {
	ctx := context.Background()
	accountingOnly := stubPerms{canFn: func(_ authz.Actor, resource authz.Resource, action authz.Action) bool {
		if action != authz.ActionApprove {
			return true
		}
		return resource == authz.ResourceAccounting
	}}
	svc, _, _, _ := newTestService(accountingOnly)

	expense, err := svc.Submit(ctx, submitInput(EntityExpense, ActionCreate))
	require.NoError(t, err)
	invoice, err := svc.Submit(ctx, submitInput(EntityInvoice, ActionCreate))
	require.NoError(t, err)

	all, err := svc.ListPending(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	decider := authz.Actor{UserID: 5, Role: authz.RoleProjectManager}
	decidable, err := svc.ListPending(ctx, &decider)
	require.NoError(t, err)
	require.Len(t, decidable, 1)
	require.Equal(t, expense.ID, decidable[0].ID)
	require.NotEqual(t, invoice.ID, decidable[0].ID)
}
