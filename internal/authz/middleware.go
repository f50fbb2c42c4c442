package authz

import (
	"log/slog"
	"net/http"

	"github.com/mesaviva/mesaviva/internal/platform/httpx"
)

// Middleware guards HTTP routes with authorization decisions.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// Require declares the module (and optional operation) an endpoint needs. An
// empty module installs a no-op guard.
func (m Middleware) Require(module, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			decision := m.Engine.Authorize(r.Context(), p, module, operation)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			switch decision.Reason {
			case ReasonNotAuthenticated:
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			case ReasonGraphUnavailable:
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "authorization temporarily unavailable")
			default:
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
			}
		})
	}
}

// RequireModule is Require without an operation qualifier.
func (m Middleware) RequireModule(module string) func(http.Handler) http.Handler {
	return m.Require(module, "")
}
