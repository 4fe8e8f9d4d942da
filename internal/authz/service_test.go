package authz

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier-erp/internal/audit"
	"github.com/atelier-erp/atelier-erp/internal/notify"
)

type memoryOverrideStore struct {
	mu    sync.Mutex
	sets  map[int64]OverrideSet
	loads int
}

func newMemoryOverrideStore() *memoryOverrideStore {
	return &memoryOverrideStore{sets: make(map[int64]OverrideSet)}
}

func (s *memoryOverrideStore) LoadOverrides(_ context.Context, userID int64) (OverrideSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	set := make(OverrideSet, len(s.sets[userID]))
	for k, v := range s.sets[userID] {
		set[k] = v
	}
	return set, nil
}

func (s *memoryOverrideStore) ReplaceOverrides(_ context.Context, userID int64, set OverrideSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(OverrideSet, len(set))
	for k, v := range set {
		copied[k] = v
	}
	s.sets[userID] = copied
	return nil
}

func (s *memoryOverrideStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type recordingAuditor struct {
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type recordingNotifier struct {
	events []notify.Event
	users  []int64
}

func (r *recordingNotifier) Notify(_ context.Context, userID int64, event notify.Event) {
	r.users = append(r.users, userID)
	r.events = append(r.events, event)
}

func newTestService(t *testing.T) (*Service, *memoryOverrideStore, *recordingAuditor, *recordingNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newMemoryOverrideStore()
	auditor := &recordingAuditor{}
	notifier := &recordingNotifier{}
	return NewService(store, redisClient, auditor, notifier, nil), store, auditor, notifier
}

func TestOverridesAreCached(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	key := ActionKey(ResourceAccounting, ActionEdit)
	require.NoError(t, store.ReplaceOverrides(ctx, 7, OverrideSet{key: true}))

	set, err := svc.Overrides(ctx, 7)
	require.NoError(t, err)
	require.True(t, set[key])

	_, err = svc.Overrides(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, store.loadCount())
}

func TestSetOverridesInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	actor := Actor{UserID: 9, Role: RoleAccountant}

	ok, err := svc.Can(ctx, actor, ResourceAccounting, ActionEdit)
	require.NoError(t, err)
	require.False(t, ok)

	grant := OverrideSet{ActionKey(ResourceAccounting, ActionEdit): true}
	require.NoError(t, svc.SetOverrides(ctx, 1, actor.UserID, grant))

	// The stale cached (empty) set must not mask the new grant.
	ok, err = svc.Can(ctx, actor, ResourceAccounting, ActionEdit)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSetOverridesEmitsSideEffects(t *testing.T) {
	ctx := context.Background()
	svc, _, auditor, notifier := newTestService(t)

	set := OverrideSet{ActionKey(ResourceProjects, ActionView): false}
	require.NoError(t, svc.SetOverrides(ctx, 1, 42, set))

	require.Len(t, auditor.entries, 1)
	require.Equal(t, "permissions.override", auditor.entries[0].Action)
	require.Equal(t, "42", auditor.entries[0].EntityID)
	require.Equal(t, int64(1), auditor.entries[0].ActorID)
	require.False(t, auditor.entries[0].At.IsZero())

	require.Equal(t, []int64{42}, notifier.users)
	require.Equal(t, notify.KindPermissionsChanged, notifier.events[0].Kind)
}

func TestServiceResolutionWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := newMemoryOverrideStore()
	svc := NewService(store, nil, nil, nil, nil)

	actor := Actor{UserID: 3, Role: RoleSalesManager}

	tabs, err := svc.AllowedTabs(ctx, actor, PageAccounting)
	require.NoError(t, err)
	require.NotContains(t, tabs, TabReports)

	grant := OverrideSet{ActionKey(ResourceAccountingReports, ActionView): true}
	require.NoError(t, svc.SetOverrides(ctx, 1, actor.UserID, grant))

	tabs, err = svc.AllowedTabs(ctx, actor, PageAccounting)
	require.NoError(t, err)
	require.Contains(t, tabs, TabReports)

	ok, err := svc.CanAccessTab(ctx, actor, TabReports)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestParseOverrideSetRejectsMalformedKeys(t *testing.T) {
	_, err := ParseOverrideSet(map[string]bool{"accounting.edit": true, "vault.view": false})
	require.Error(t, err)

	set, err := ParseOverrideSet(map[string]bool{"accounting.edit": true})
	require.NoError(t, err)
	require.Equal(t, OverrideSet{ActionKey(ResourceAccounting, ActionEdit): true}, set)

	// The lenient cache decoder drops what the strict parser rejects.
	rebuilt := overrideSetFromStrings(map[string]bool{"accounting.edit": true, "vault.view": false})
	require.Equal(t, set, rebuilt)
}
