package authz

import (
	"log/slog"
	"net/http"

	"github.com/atelier-erp/atelier-erp/internal/platform/httpx"
)

// ActorFunc extracts the authenticated actor from a request. The second
// return value is false when no authenticated user is present.
type ActorFunc func(r *http.Request) (Actor, bool)

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Service *Service
	Actor   ActorFunc
	Logger  *slog.Logger
}

// Require ensures the current user holds the effective permission for
// (resource, action) before the request reaches the handler. Missing
// session yields 401, a resolved deny yields 403.
func (m Middleware) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.Actor(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			allowed, err := m.Service.Can(r.Context(), actor, resource, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", ErrPermissionDenied.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
