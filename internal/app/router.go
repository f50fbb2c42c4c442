package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mesaviva/mesaviva/internal/auth"
	"github.com/mesaviva/mesaviva/internal/authz"
	"github.com/mesaviva/mesaviva/internal/observability"
	"github.com/mesaviva/mesaviva/internal/shared"
)

// Access-control administration module guarding the invalidation hook.
const (
	ModuleAccessControl = "ACCESS_CONTROL_MODULE"
	OperationUpdate     = "UPDATE"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	AuthHandler        *auth.Handler
	PermissionsHandler *authz.Handler
	Authz              authz.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Mesaviva defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/auth", params.AuthHandler.MountRoutes)
	r.Route("/api/permissions", func(r chi.Router) {
		r.Get("/me", params.PermissionsHandler.MyPermissions)
		r.With(params.Authz.Require(ModuleAccessControl, OperationUpdate)).
			Post("/invalidate", params.PermissionsHandler.Invalidate)
	})

	return r
}
