// Package approval implements the pending-approval gate: sensitive
// finance mutations are intercepted, persisted as pending requests, and
// applied only when a privileged decision approves them.
package approval

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier-erp/internal/authz"
)

// EntityType enumerates the entities whose mutations pass the gate.
type EntityType string

const (
	EntityExpense     EntityType = "expense"
	EntitySale        EntityType = "sale"
	EntityPurchase    EntityType = "purchase"
	EntityInvoice     EntityType = "invoice"
	EntityBOQ         EntityType = "boq"
	EntityInstallment EntityType = "installment"
)

// Known reports whether the entity type is part of the closed set.
func (t EntityType) Known() bool {
	switch t {
	case EntityExpense, EntitySale, EntityPurchase, EntityInvoice, EntityBOQ, EntityInstallment:
		return true
	default:
		return false
	}
}

// Resource maps the entity type to the resource whose permissions gate
// it. Expenses, sales, purchases, and installments live under the
// accounting resource; invoices and BOQs under their own.
func (t EntityType) Resource() authz.Resource {
	switch t {
	case EntityInvoice:
		return authz.ResourceInvoices
	case EntityBOQ:
		return authz.ResourceForms
	default:
		return authz.ResourceAccounting
	}
}

// EntityAction enumerates the deferred mutation verbs.
type EntityAction string

const (
	ActionCreate  EntityAction = "create"
	ActionUpdate  EntityAction = "update"
	ActionDelete  EntityAction = "delete"
	ActionCancel  EntityAction = "cancel"
	ActionApprove EntityAction = "approve"
)

// Known reports whether the action is part of the closed set.
func (a EntityAction) Known() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionCancel, ActionApprove:
		return true
	default:
		return false
	}
}

// Required maps the mutation verb to the permission the submitter must
// hold on the gated resource.
func (a EntityAction) Required() authz.Action {
	switch a {
	case ActionCreate:
		return authz.ActionCreate
	case ActionDelete:
		return authz.ActionDelete
	case ActionApprove:
		return authz.ActionApprove
	default:
		return authz.ActionEdit
	}
}

// Status tracks the request lifecycle: pending is initial, approved and
// rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request represents one deferred mutation. A request is immutable once
// its status leaves pending.
type Request struct {
	ID          uuid.UUID       `json:"id"`
	EntityType  EntityType      `json:"entity_type"`
	Action      EntityAction    `json:"action"`
	RequestedBy int64           `json:"requested_by"`
	RequestedAt time.Time       `json:"requested_at"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	DecidedBy   *int64          `json:"decided_by,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// ErrNotFound indicates the approval request does not exist.
var ErrNotFound = errors.New("approval: request not found")

// ErrInvalidState indicates a transition attempted on a non-pending
// request, including the losing side of a concurrent double decision.
var ErrInvalidState = errors.New("approval: request already decided")

// ErrValidation indicates malformed input, such as a rejection without
// a reason or an unparseable payload.
var ErrValidation = errors.New("approval: invalid input")
