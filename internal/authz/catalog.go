// Package authz implements the role/permission catalog, the effective
// permission resolver, and UI section gating for Atelier.
package authz

// Role identifies a permission grouping assigned 1:1 to a user.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleAccountant     Role = "accountant"
	RoleSalesManager   Role = "sales_manager"
	RoleHRManager      Role = "hr_manager"
	RoleEngineer       Role = "engineer"
)

// Resource identifies a business entity category subject to access control.
type Resource string

const (
	ResourceClients           Resource = "clients"
	ResourceProjects          Resource = "projects"
	ResourceTasks             Resource = "tasks"
	ResourceInvoices          Resource = "invoices"
	ResourceAccounting        Resource = "accounting"
	ResourceAccountingReports Resource = "accounting.reports"
	ResourceForms             Resource = "forms"
	ResourceChangeOrders      Resource = "forms.change_orders"
	ResourceHR                Resource = "hr"
	ResourceUsers             Resource = "users"
	ResourceSettings          Resource = "settings"
	ResourceNotifications     Resource = "notifications"
	ResourceAuditLogs         Resource = "audit_logs"
)

// Action is a CRUD-like verb checked against a resource.
type Action string

const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
)

// Modifier qualifies how a granted action behaves for a resource.
type Modifier string

const (
	ModifierOnlyAssigned      Modifier = "onlyAssigned"
	ModifierCanViewFinancials Modifier = "canViewFinancials"
	ModifierOnlyOwn           Modifier = "onlyOwn"
	ModifierAutoApprove       Modifier = "autoApprove"
)

// ActionSet is a set of actions granted on a resource.
type ActionSet map[Action]struct{}

// ModifierSet is a set of modifiers enabled on a resource.
type ModifierSet map[Modifier]struct{}

func actions(as ...Action) ActionSet {
	set := make(ActionSet, len(as))
	for _, a := range as {
		set[a] = struct{}{}
	}
	return set
}

func modifiers(ms ...Modifier) ModifierSet {
	set := make(ModifierSet, len(ms))
	for _, m := range ms {
		set[m] = struct{}{}
	}
	return set
}

var allActions = actions(ActionView, ActionCreate, ActionEdit, ActionDelete, ActionApprove)

// roleOrder fixes presentation ordering for the catalog endpoint.
var roleOrder = []Role{
	RoleAdmin,
	RoleProjectManager,
	RoleAccountant,
	RoleSalesManager,
	RoleHRManager,
	RoleEngineer,
}

var resourceOrder = []Resource{
	ResourceClients,
	ResourceProjects,
	ResourceTasks,
	ResourceInvoices,
	ResourceAccounting,
	ResourceAccountingReports,
	ResourceForms,
	ResourceChangeOrders,
	ResourceHR,
	ResourceUsers,
	ResourceSettings,
	ResourceNotifications,
	ResourceAuditLogs,
}

var actionOrder = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionApprove}

var modifierOrder = []Modifier{ModifierOnlyAssigned, ModifierCanViewFinancials, ModifierOnlyOwn, ModifierAutoApprove}

// defaultGrants is the role-default permission matrix. Every known role
// has an entry; a missing resource key means zero actions for that pair.
var defaultGrants = map[Role]map[Resource]ActionSet{
	RoleAdmin: {
		ResourceClients:           allActions,
		ResourceProjects:          allActions,
		ResourceTasks:             allActions,
		ResourceInvoices:          allActions,
		ResourceAccounting:        allActions,
		ResourceAccountingReports: allActions,
		ResourceForms:             allActions,
		ResourceChangeOrders:      allActions,
		ResourceHR:                allActions,
		ResourceUsers:             allActions,
		ResourceSettings:          allActions,
		ResourceNotifications:     allActions,
		ResourceAuditLogs:         actions(ActionView),
	},
	RoleProjectManager: {
		ResourceClients:       actions(ActionView),
		ResourceProjects:      actions(ActionView, ActionCreate, ActionEdit),
		ResourceTasks:         actions(ActionView, ActionCreate, ActionEdit, ActionDelete),
		ResourceInvoices:      actions(ActionView),
		ResourceForms:         actions(ActionView, ActionCreate, ActionEdit),
		ResourceChangeOrders:  actions(ActionView, ActionCreate, ActionEdit, ActionApprove),
		ResourceNotifications: actions(ActionView),
	},
	RoleAccountant: {
		ResourceClients:           actions(ActionView),
		ResourceInvoices:          actions(ActionView, ActionCreate, ActionEdit),
		ResourceAccounting:        actions(ActionView),
		ResourceAccountingReports: actions(ActionView),
		ResourceNotifications:     actions(ActionView),
	},
	RoleSalesManager: {
		ResourceClients:       actions(ActionView, ActionCreate, ActionEdit),
		ResourceProjects:      actions(ActionView),
		ResourceInvoices:      actions(ActionView, ActionCreate),
		ResourceAccounting:    actions(ActionView),
		ResourceNotifications: actions(ActionView),
	},
	RoleHRManager: {
		ResourceHR:            actions(ActionView, ActionCreate, ActionEdit, ActionDelete),
		ResourceUsers:         actions(ActionView),
		ResourceNotifications: actions(ActionView),
	},
	RoleEngineer: {
		ResourceProjects:      actions(ActionView),
		ResourceTasks:         actions(ActionView, ActionEdit),
		ResourceForms:         actions(ActionView, ActionCreate),
		ResourceChangeOrders:  actions(ActionView),
		ResourceNotifications: actions(ActionView),
	},
}

// defaultModifiers lists role-default behavioral modifiers per resource.
var defaultModifiers = map[Role]map[Resource]ModifierSet{
	RoleAdmin: {
		ResourceAccounting:   modifiers(ModifierAutoApprove),
		ResourceInvoices:     modifiers(ModifierAutoApprove),
		ResourceForms:        modifiers(ModifierAutoApprove),
		ResourceChangeOrders: modifiers(ModifierAutoApprove),
		ResourceProjects:     modifiers(ModifierCanViewFinancials),
		ResourceClients:      modifiers(ModifierCanViewFinancials),
	},
	RoleProjectManager: {
		ResourceProjects: modifiers(ModifierOnlyAssigned, ModifierCanViewFinancials),
		ResourceTasks:    modifiers(ModifierOnlyAssigned),
	},
	RoleAccountant: {
		ResourceProjects: modifiers(ModifierCanViewFinancials),
		ResourceClients:  modifiers(ModifierCanViewFinancials),
	},
	RoleSalesManager: {},
	RoleHRManager:    {},
	RoleEngineer: {
		ResourceProjects: modifiers(ModifierOnlyAssigned),
		ResourceTasks:    modifiers(ModifierOnlyAssigned),
		ResourceForms:    modifiers(ModifierOnlyOwn),
	},
}

// relevantModifiers restricts which (resource, modifier) pairs carry
// meaning. Pairs outside this table are excluded from resolution and
// presentation.
var relevantModifiers = map[Resource]ModifierSet{
	ResourceProjects:     modifiers(ModifierOnlyAssigned, ModifierCanViewFinancials),
	ResourceTasks:        modifiers(ModifierOnlyAssigned, ModifierOnlyOwn),
	ResourceClients:      modifiers(ModifierCanViewFinancials),
	ResourceAccounting:   modifiers(ModifierAutoApprove),
	ResourceInvoices:     modifiers(ModifierAutoApprove),
	ResourceForms:        modifiers(ModifierOnlyOwn, ModifierAutoApprove),
	ResourceChangeOrders: modifiers(ModifierOnlyOwn, ModifierAutoApprove),
}

// Roles returns the known roles in presentation order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// Resources returns the known resources in presentation order.
func Resources() []Resource {
	out := make([]Resource, len(resourceOrder))
	copy(out, resourceOrder)
	return out
}

// KnownRole reports whether the role is part of the closed role set.
func KnownRole(role Role) bool {
	_, ok := defaultGrants[role]
	return ok
}

// KnownResource reports whether the resource is part of the closed set.
func KnownResource(resource Resource) bool {
	for _, r := range resourceOrder {
		if r == resource {
			return true
		}
	}
	return false
}

// KnownAction reports whether the action is part of the closed set.
func KnownAction(action Action) bool {
	_, ok := allActions[action]
	return ok
}

// KnownModifier reports whether the modifier is part of the closed set.
func KnownModifier(modifier Modifier) bool {
	for _, m := range modifierOrder {
		if m == modifier {
			return true
		}
	}
	return false
}

// ModifierRelevant reports whether the modifier carries meaning for the
// resource.
func ModifierRelevant(resource Resource, modifier Modifier) bool {
	set, ok := relevantModifiers[resource]
	if !ok {
		return false
	}
	_, ok = set[modifier]
	return ok
}

// RelevantModifiers returns the modifiers that carry meaning for the
// resource, in presentation order.
func RelevantModifiers(resource Resource) []Modifier {
	set, ok := relevantModifiers[resource]
	if !ok {
		return nil
	}
	out := make([]Modifier, 0, len(set))
	for _, m := range modifierOrder {
		if _, ok := set[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// CatalogEntry is the read-only default permission set for one role,
// shaped for the admin permissions screen.
type CatalogEntry struct {
	Role      Role                    `json:"role"`
	Grants    map[Resource][]Action   `json:"grants"`
	Modifiers map[Resource][]Modifier `json:"modifiers"`
}

// Catalog renders the full default matrix in stable order.
func Catalog() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(roleOrder))
	for _, role := range roleOrder {
		entry := CatalogEntry{
			Role:      role,
			Grants:    make(map[Resource][]Action),
			Modifiers: make(map[Resource][]Modifier),
		}
		for _, resource := range resourceOrder {
			if set := defaultGrants[role][resource]; len(set) > 0 {
				granted := make([]Action, 0, len(set))
				for _, a := range actionOrder {
					if _, ok := set[a]; ok {
						granted = append(granted, a)
					}
				}
				entry.Grants[resource] = granted
			}
			if set := defaultModifiers[role][resource]; len(set) > 0 {
				enabled := make([]Modifier, 0, len(set))
				for _, m := range modifierOrder {
					if _, ok := set[m]; !ok {
						continue
					}
					if !ModifierRelevant(resource, m) {
						continue
					}
					enabled = append(enabled, m)
				}
				if len(enabled) > 0 {
					entry.Modifiers[resource] = enabled
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
