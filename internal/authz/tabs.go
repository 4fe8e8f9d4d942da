package authz

// Page groups navigation sub-tabs.
type Page string

const (
	PageForms      Page = "forms"
	PageAccounting Page = "accounting"
)

// Tab is a UI-level section name.
type Tab string

const (
	TabBOQ          Tab = "boq"
	TabChangeOrders Tab = "change-orders"
	TabSiteVisits   Tab = "site-visits"
	TabExpenses     Tab = "expenses"
	TabSales        Tab = "sales"
	TabPurchases    Tab = "purchases"
	TabInstallments Tab = "installments"
	TabReports      Tab = "reports"
)

// tabBackingResources maps each known tab to the resources whose view
// permission it requires. Every mapped resource must resolve to an
// effective view grant for the tab to show.
var tabBackingResources = map[Tab][]Resource{
	TabBOQ:          {ResourceForms},
	TabChangeOrders: {ResourceChangeOrders},
	TabSiteVisits:   {ResourceForms},
	TabExpenses:     {ResourceAccounting},
	TabSales:        {ResourceAccounting},
	TabPurchases:    {ResourceAccounting},
	TabInstallments: {ResourceAccounting, ResourceInvoices},
	TabReports:      {ResourceAccountingReports},
}

// pageTabs fixes the candidate tab list and ordering per page.
var pageTabs = map[Page][]Tab{
	PageForms:      {TabBOQ, TabChangeOrders, TabSiteVisits},
	PageAccounting: {TabExpenses, TabSales, TabPurchases, TabInstallments, TabReports},
}

// CanAccessTab reports whether the actor may see the tab.
//
// Unmapped tabs are allowed: new low-risk tabs stay visible without a
// catalog update. Resource-level checks do the opposite and deny
// anything unknown.
func CanAccessTab(role Role, overrides OverrideSet, tab Tab) bool {
	resources, ok := tabBackingResources[tab]
	if !ok {
		return true
	}
	for _, resource := range resources {
		if !Can(role, overrides, resource, ActionView) {
			return false
		}
	}
	return true
}

// AllowedTabs returns the ordered sub-tabs of page visible to the
// actor. Unknown pages have no candidates and yield an empty list.
func AllowedTabs(role Role, overrides OverrideSet, page Page) []Tab {
	candidates := pageTabs[page]
	allowed := make([]Tab, 0, len(candidates))
	for _, tab := range candidates {
		if CanAccessTab(role, overrides, tab) {
			allowed = append(allowed, tab)
		}
	}
	return allowed
}

// KnownPage reports whether the page has a candidate tab list.
func KnownPage(page Page) bool {
	_, ok := pageTabs[page]
	return ok
}
