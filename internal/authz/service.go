package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atelier-erp/atelier-erp/internal/audit"
	"github.com/atelier-erp/atelier-erp/internal/notify"
)

const overrideCacheTTL = 5 * time.Minute

// Actor describes the authenticated user for authorization decisions.
type Actor struct {
	UserID int64
	Role   Role
}

// Service combines the pure resolver with the per-user override store.
// Override reads go through a short-lived Redis cache so a burst of
// checks within one session hits the database once; writes invalidate
// the cache key before returning.
type Service struct {
	store    OverrideStore
	cache    *redis.Client
	auditor  audit.Recorder
	notifier notify.Notifier
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService constructs a Service. The cache, auditor, and notifier are
// optional; a nil cache disables caching.
func NewService(store OverrideStore, cache *redis.Client, auditor audit.Recorder, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger,
	}
}

func overrideCacheKey(userID int64) string {
	return "authz:overrides:" + strconv.FormatInt(userID, 10)
}

// Overrides returns the effective override set for a user, cached.
func (s *Service) Overrides(ctx context.Context, userID int64) (OverrideSet, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, overrideCacheKey(userID)).Bytes()
		if err == nil {
			var stored map[string]bool
			if err := json.Unmarshal(raw, &stored); err == nil {
				return overrideSetFromStrings(stored), nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("override cache read", slog.Any("error", err))
		}
	}

	v, err, _ := s.group.Do(overrideCacheKey(userID), func() (any, error) {
		set, err := s.store.LoadOverrides(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			raw, err := json.Marshal(set.Strings())
			if err == nil {
				if err := s.cache.Set(ctx, overrideCacheKey(userID), raw, overrideCacheTTL).Err(); err != nil {
					s.logger.Warn("override cache write", slog.Any("error", err))
				}
			}
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(OverrideSet), nil
}

// SetOverrides replaces a user's override set, invalidates the cache,
// and emits the permission-changed side effects.
func (s *Service) SetOverrides(ctx context.Context, actorID, userID int64, set OverrideSet) error {
	if err := s.store.ReplaceOverrides(ctx, userID, set); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, overrideCacheKey(userID)).Err(); err != nil {
			s.logger.Warn("override cache invalidate", slog.Any("error", err))
		}
	}
	if s.auditor != nil {
		entry := audit.Entry{
			ActorID:  actorID,
			Action:   "permissions.override",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"overrides": set.Strings()},
			At:       time.Now().UTC(),
		}
		if err := s.auditor.Record(ctx, entry); err != nil {
			s.logger.Error("audit override change", slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, notify.Event{
			Kind:    notify.KindPermissionsChanged,
			Message: "Your permissions were updated by an administrator.",
		})
	}
	return nil
}

// Can resolves the effective grant of action on resource for the actor.
func (s *Service) Can(ctx context.Context, actor Actor, resource Resource, action Action) (bool, error) {
	overrides, err := s.Overrides(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return Can(actor.Role, overrides, resource, action), nil
}

// HasModifier resolves the effective state of modifier on resource.
func (s *Service) HasModifier(ctx context.Context, actor Actor, resource Resource, modifier Modifier) (bool, error) {
	overrides, err := s.Overrides(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return HasModifier(actor.Role, overrides, resource, modifier), nil
}

// CanAccessTab resolves tab visibility for the actor.
func (s *Service) CanAccessTab(ctx context.Context, actor Actor, tab Tab) (bool, error) {
	overrides, err := s.Overrides(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return CanAccessTab(actor.Role, overrides, tab), nil
}

// AllowedTabs resolves the visible sub-tabs of page for the actor.
func (s *Service) AllowedTabs(ctx context.Context, actor Actor, page Page) ([]Tab, error) {
	overrides, err := s.Overrides(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return AllowedTabs(actor.Role, overrides, page), nil
}

// Strings renders the set in the persisted "resource.key" form.
func (s OverrideSet) Strings() map[string]bool {
	out := make(map[string]bool, len(s))
	for key, allowed := range s {
		out[key.String()] = allowed
	}
	return out
}

// ParseOverrideSet converts the wire form into a composite-key set,
// failing on the first malformed or irrelevant key.
func ParseOverrideSet(raw map[string]bool) (OverrideSet, error) {
	set := make(OverrideSet, len(raw))
	for rawKey, allowed := range raw {
		key, err := ParseOverrideKey(rawKey)
		if err != nil {
			return nil, err
		}
		set[key] = allowed
	}
	return set, nil
}

// overrideSetFromStrings rebuilds a cached set, skipping entries that
// no longer parse.
func overrideSetFromStrings(raw map[string]bool) OverrideSet {
	set := make(OverrideSet, len(raw))
	for rawKey, allowed := range raw {
		key, err := ParseOverrideKey(rawKey)
		if err != nil {
			continue
		}
		set[key] = allowed
	}
	return set
}
