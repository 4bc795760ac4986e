package authz

import (
	"log/slog"
	"net/http"

	"github.com/JohnPitter/church-management-sub010/internal/shared"
)

// Middleware wires authorization checks into HTTP handlers. Any error from
// the permission service is treated as deny; an error is never interpreted
// as allow.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the current user may perform action on module.
func (m Middleware) Require(module Module, action Action) func(http.Handler) http.Handler {
	return m.RequireAll(Check{Module: module, Action: action})
}

// RequireAny ensures the current user passes at least one of the checks.
func (m Middleware) RequireAny(checks ...Check) func(http.Handler) http.Handler {
	return m.guard(checks, func(r *http.Request, userID string) (bool, error) {
		return m.Service.HasAnyPermission(r.Context(), userID, checks)
	})
}

// RequireAll ensures the current user passes every check.
func (m Middleware) RequireAll(checks ...Check) func(http.Handler) http.Handler {
	return m.guard(checks, func(r *http.Request, userID string) (bool, error) {
		return m.Service.HasAllPermissions(r.Context(), userID, checks)
	})
}

func (m Middleware) guard(checks []Check, allowed func(*http.Request, string) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(checks) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID := shared.ActorFromContext(r.Context())
			if userID == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			ok, err := allowed(r, userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization check", slog.String("user_id", userID), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
