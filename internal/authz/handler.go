package authz

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atelier-erp/atelier-erp/internal/platform/httpx"
)

// Handler exposes the permission catalog, per-user overrides, and
// navigation gating over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	mw       Middleware
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		mw:       mw,
		validate: validator.New(),
	}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(ResourceUsers, ActionView))
		r.Get("/permissions/catalog", h.catalog)
		r.Get("/users/{id}/overrides", h.getOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(ResourceUsers, ActionEdit))
		r.Put("/users/{id}/overrides", h.putOverrides)
	})
	r.Get("/nav/{page}/tabs", h.allowedTabs)
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": Catalog()})
}

type overridesResponse struct {
	UserID    int64           `json:"user_id"`
	Overrides map[string]bool `json:"overrides"`
}

func (h *Handler) getOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	set, err := h.service.Overrides(r.Context(), userID)
	if err != nil {
		h.logger.Error("load overrides", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, overridesResponse{UserID: userID, Overrides: set.Strings()})
}

type putOverridesRequest struct {
	Overrides map[string]bool `json:"overrides" validate:"required"`
}

func (h *Handler) putOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req putOverridesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	set, err := ParseOverrideSet(req.Overrides)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := h.mw.Actor(r)
	if err := h.service.SetOverrides(r.Context(), actor.UserID, userID, set); err != nil {
		h.logger.Error("replace overrides", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, overridesResponse{UserID: userID, Overrides: set.Strings()})
}

type tabsResponse struct {
	Page Page  `json:"page"`
	Tabs []Tab `json:"tabs"`
}

func (h *Handler) allowedTabs(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.mw.Actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	page := Page(chi.URLParam(r, "page"))
	if !KnownPage(page) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown page")
		return
	}
	tabs, err := h.service.AllowedTabs(r.Context(), actor, page)
	if err != nil {
		h.logger.Error("allowed tabs", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, tabsResponse{Page: page, Tabs: tabs})
}
