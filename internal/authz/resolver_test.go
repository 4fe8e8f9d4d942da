package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverridePresenceWinsBothDirections(t *testing.T) {
	// Restrict below role default: admin loses accounting edit.
	restricted := OverrideSet{ActionKey(ResourceAccounting, ActionEdit): false}
	require.True(t, HasPermission(RoleAdmin, ResourceAccounting, ActionEdit))
	require.False(t, Can(RoleAdmin, restricted, ResourceAccounting, ActionEdit))

	// Grant above role default: engineer gains accounting view.
	granted := OverrideSet{ActionKey(ResourceAccounting, ActionView): true}
	require.False(t, HasPermission(RoleEngineer, ResourceAccounting, ActionView))
	require.True(t, Can(RoleEngineer, granted, ResourceAccounting, ActionView))
}

func TestStoredFalseStillOverridesTrueDefault(t *testing.T) {
	// The tie-break signal is key presence, not the stored value.
	key := ActionKey(ResourceProjects, ActionView)
	require.True(t, ResolveEffective(RoleProjectManager, nil, key))
	require.False(t, ResolveEffective(RoleProjectManager, OverrideSet{key: false}, key))
}

func TestAbsentOverridesMatchDefaultsExactly(t *testing.T) {
	empty := OverrideSet{}
	for _, role := range Roles() {
		for _, resource := range Resources() {
			for _, action := range actionOrder {
				key := ActionKey(resource, action)
				require.Equal(t,
					HasPermission(role, resource, action),
					ResolveEffective(role, nil, key),
					"nil overrides drift for (%s, %s, %s)", role, resource, action)
				require.Equal(t,
					HasPermission(role, resource, action),
					ResolveEffective(role, empty, key),
					"empty overrides drift for (%s, %s, %s)", role, resource, action)
			}
			for _, modifier := range modifierOrder {
				key := ModifierKey(resource, modifier)
				require.Equal(t,
					HasDefaultModifier(role, resource, modifier),
					ResolveEffective(role, empty, key),
					"modifier drift for (%s, %s, %s)", role, resource, modifier)
			}
		}
	}
}

func TestAccountantOverrideScenario(t *testing.T) {
	// Role default: accounting is view-only for accountants.
	require.False(t, Can(RoleAccountant, nil, ResourceAccounting, ActionEdit))

	// Admin grants this one user accounting.edit.
	withGrant := OverrideSet{ActionKey(ResourceAccounting, ActionEdit): true}
	require.True(t, Can(RoleAccountant, withGrant, ResourceAccounting, ActionEdit))

	// Other users of the same role keep the role default.
	require.False(t, Can(RoleAccountant, nil, ResourceAccounting, ActionEdit))
}

func TestUnknownInputsNeverGrant(t *testing.T) {
	overrides := OverrideSet{ActionKey(ResourceProjects, ActionView): true}
	require.False(t, Can(Role("ghost"), overrides, ResourceProjects, ActionEdit))
	require.False(t, Can(RoleAdmin, overrides, Resource("vault"), ActionView))
	require.False(t, HasModifier(RoleAdmin, overrides, ResourceUsers, ModifierAutoApprove))
}

func TestHasModifierIgnoresIrrelevantOverride(t *testing.T) {
	// Even a stored override cannot make an irrelevant pair effective.
	overrides := OverrideSet{ModifierKey(ResourceUsers, ModifierAutoApprove): true}
	require.False(t, HasModifier(RoleAdmin, overrides, ResourceUsers, ModifierAutoApprove))
}

func TestParseOverrideKey(t *testing.T) {
	key, err := ParseOverrideKey("accounting.edit")
	require.NoError(t, err)
	require.Equal(t, ActionKey(ResourceAccounting, ActionEdit), key)

	// Resources may contain dots themselves.
	key, err = ParseOverrideKey("accounting.reports.view")
	require.NoError(t, err)
	require.Equal(t, ActionKey(ResourceAccountingReports, ActionView), key)

	key, err = ParseOverrideKey("invoices.autoApprove")
	require.NoError(t, err)
	require.Equal(t, ModifierKey(ResourceInvoices, ModifierAutoApprove), key)

	for _, raw := range []string{
		"",
		"accounting",
		"accounting.",
		".edit",
		"vault.view",
		"accounting.export",
		"users.autoApprove", // irrelevant pair
	} {
		_, err := ParseOverrideKey(raw)
		require.Error(t, err, "expected parse failure for %q", raw)
	}
}

func TestOverrideKeyRoundTrip(t *testing.T) {
	keys := []OverrideKey{
		ActionKey(ResourceChangeOrders, ActionApprove),
		ModifierKey(ResourceProjects, ModifierOnlyAssigned),
		ActionKey(ResourceAccountingReports, ActionView),
	}
	for _, key := range keys {
		parsed, err := ParseOverrideKey(key.String())
		require.NoError(t, err)
		require.Equal(t, key, parsed)
	}
}
