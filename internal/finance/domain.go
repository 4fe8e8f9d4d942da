// Package finance implements the entity services behind the approval
// gate: expense, sale, purchase, invoice, BOQ, and installment
// documents persisted as rows in finance_documents.
package finance

import "errors"

// Entity type tags accepted by the registry.
const (
	EntityExpense     = "expense"
	EntitySale        = "sale"
	EntityPurchase    = "purchase"
	EntityInvoice     = "invoice"
	EntityBOQ         = "boq"
	EntityInstallment = "installment"
)

// DocumentStatus tracks the lifecycle of a finance document.
type DocumentStatus string

const (
	DocumentStatusActive    DocumentStatus = "ACTIVE"
	DocumentStatusApproved  DocumentStatus = "APPROVED"
	DocumentStatusCancelled DocumentStatus = "CANCELLED"
)

// ErrInvalidPayload indicates the mutation payload does not match the
// expected shape for its action.
var ErrInvalidPayload = errors.New("finance: invalid mutation payload")

// ErrUnknownEntity indicates an entity type outside the closed set.
var ErrUnknownEntity = errors.New("finance: unknown entity type")

// ErrUnknownAction indicates an action outside the closed set.
var ErrUnknownAction = errors.New("finance: unknown mutation action")

// ErrDocumentNotFound indicates the target document does not exist.
var ErrDocumentNotFound = errors.New("finance: document not found")

// KnownEntityType reports whether the tag is a supported entity type.
func KnownEntityType(entityType string) bool {
	switch entityType {
	case EntityExpense, EntitySale, EntityPurchase, EntityInvoice, EntityBOQ, EntityInstallment:
		return true
	default:
		return false
	}
}
