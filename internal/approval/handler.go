package approval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier-erp/internal/authz"
	"github.com/atelier-erp/atelier-erp/internal/finance"
	"github.com/atelier-erp/atelier-erp/internal/platform/httpx"
)

// Handler exposes the approval gate over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	actor    authz.ActorFunc
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, actor authz.ActorFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		actor:    actor,
		validate: validator.New(),
	}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/approvals", h.submit)
	r.Get("/approvals/pending", h.listPending)
	r.Post("/approvals/{id}/approve", h.approve)
	r.Post("/approvals/{id}/reject", h.reject)
}

type submitRequest struct {
	EntityType string          `json:"entity_type" validate:"required"`
	Action     string          `json:"action" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	record, err := h.service.Submit(r.Context(), SubmitInput{
		EntityType: EntityType(req.EntityType),
		Action:     EntityAction(req.Action),
		Actor:      actor,
		Payload:    req.Payload,
	})
	if err != nil {
		h.respondError(w, "submit approval", err)
		return
	}
	status := http.StatusAccepted
	if record.Status == StatusApproved {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, record)
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, authz.Actor, string) (Request, error)) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid approval id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	record, err := fn(r.Context(), id, actor, req.Notes)
	if err != nil {
		h.respondError(w, "decide approval", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	pending, err := h.service.ListPending(r.Context(), &actor)
	if err != nil {
		h.respondError(w, "list pending approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, finance.ErrInvalidPayload):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
