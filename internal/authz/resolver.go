package authz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPermissionDenied indicates the actor lacks the resolved permission
// for the attempted action.
var ErrPermissionDenied = errors.New("authz: permission denied")

// HasPermission reports whether the role default grants action on
// resource. Unknown roles, resources, and actions resolve to false.
func HasPermission(role Role, resource Resource, action Action) bool {
	grants, ok := defaultGrants[role]
	if !ok {
		return false
	}
	set, ok := grants[resource]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// HasDefaultModifier reports whether the role default enables modifier
// on resource. Irrelevant (resource, modifier) pairs resolve to false.
func HasDefaultModifier(role Role, resource Resource, modifier Modifier) bool {
	if !ModifierRelevant(resource, modifier) {
		return false
	}
	mods, ok := defaultModifiers[role]
	if !ok {
		return false
	}
	set, ok := mods[resource]
	if !ok {
		return false
	}
	_, ok = set[modifier]
	return ok
}

// OverrideKind distinguishes action overrides from modifier overrides.
type OverrideKind uint8

const (
	// KindAction marks an override on a (resource, action) pair.
	KindAction OverrideKind = iota
	// KindModifier marks an override on a (resource, modifier) pair.
	KindModifier
)

// OverrideKey addresses a single overridable permission. The composite
// form replaces the stored "resource.key" string everywhere except the
// persistence and API boundary.
type OverrideKey struct {
	Resource Resource
	Kind     OverrideKind
	Action   Action
	Modifier Modifier
}

// ActionKey builds an override key for a (resource, action) pair.
func ActionKey(resource Resource, action Action) OverrideKey {
	return OverrideKey{Resource: resource, Kind: KindAction, Action: action}
}

// ModifierKey builds an override key for a (resource, modifier) pair.
func ModifierKey(resource Resource, modifier Modifier) OverrideKey {
	return OverrideKey{Resource: resource, Kind: KindModifier, Modifier: modifier}
}

// String renders the persisted "resource.key" form.
func (k OverrideKey) String() string {
	if k.Kind == KindModifier {
		return string(k.Resource) + "." + string(k.Modifier)
	}
	return string(k.Resource) + "." + string(k.Action)
}

// ParseOverrideKey parses the persisted "resource.key" form back into a
// composite key. Resources may themselves contain dots, so the key part
// is the segment after the last dot.
func ParseOverrideKey(raw string) (OverrideKey, error) {
	idx := strings.LastIndex(raw, ".")
	if idx <= 0 || idx == len(raw)-1 {
		return OverrideKey{}, fmt.Errorf("authz: malformed override key %q", raw)
	}
	resource := Resource(raw[:idx])
	if !KnownResource(resource) {
		return OverrideKey{}, fmt.Errorf("authz: unknown resource in override key %q", raw)
	}
	suffix := raw[idx+1:]
	if KnownAction(Action(suffix)) {
		return ActionKey(resource, Action(suffix)), nil
	}
	if KnownModifier(Modifier(suffix)) {
		if !ModifierRelevant(resource, Modifier(suffix)) {
			return OverrideKey{}, fmt.Errorf("authz: modifier %q not relevant for %q", suffix, resource)
		}
		return ModifierKey(resource, Modifier(suffix)), nil
	}
	return OverrideKey{}, fmt.Errorf("authz: unknown action or modifier in override key %q", raw)
}

// OverrideSet is a sparse per-user exception map. Presence of a key
// wins over the role default for that exact key, in both directions: a
// stored false still overrides a true default.
type OverrideSet map[OverrideKey]bool

// ResolveEffective computes the effective grant for one key. Override
// presence, not override value, is the tie-break signal; absence falls
// back to the role default. Never errors: unknown inputs resolve to
// false.
func ResolveEffective(role Role, overrides OverrideSet, key OverrideKey) bool {
	if v, ok := overrides[key]; ok {
		return v
	}
	if key.Kind == KindModifier {
		return HasDefaultModifier(role, key.Resource, key.Modifier)
	}
	return HasPermission(role, key.Resource, key.Action)
}

// Can reports the effective grant of action on resource.
func Can(role Role, overrides OverrideSet, resource Resource, action Action) bool {
	return ResolveEffective(role, overrides, ActionKey(resource, action))
}

// HasModifier reports the effective state of modifier on resource.
func HasModifier(role Role, overrides OverrideSet, resource Resource, modifier Modifier) bool {
	if !ModifierRelevant(resource, modifier) {
		return false
	}
	return ResolveEffective(role, overrides, ModifierKey(resource, modifier))
}
