package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mesaviva/mesaviva/internal/platform/httpx"
)

// inlineInvalidateMax bounds how many cache entries are dropped synchronously
// before the batch is handed to the background worker.
const inlineInvalidateMax = 16

// InvalidationEntry identifies one cached permission set to drop.
type InvalidationEntry struct {
	UserID   string `json:"userId" validate:"required,uuid"`
	TenantID string `json:"tenantId" validate:"required,uuid"`
}

// InvalidationEnqueuer hands large invalidation batches to the job queue.
type InvalidationEnqueuer interface {
	EnqueueInvalidation(ctx context.Context, entries []InvalidationEntry) error
}

// Handler exposes the permission endpoints consumed by front-end sessions and
// by the CRUD layer's invalidation hook.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	enqueuer  InvalidationEnqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler. enqueuer may be nil; all invalidations are
// then processed inline.
func NewHandler(logger *slog.Logger, engine *Engine, enqueuer InvalidationEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		engine:    engine,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

type myPermissionsResponse struct {
	Permissions []SimplifiedGrant `json:"permissions"`
	Tokens      []string          `json:"tokens"`
	Modules     []string          `json:"modules"`
}

// MyPermissions serves the compiled permission set in the simplified shape
// the client mirror ingests first.
func (h *Handler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if !p.Authenticated {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	set, err := h.engine.EffectivePermissions(r.Context(), p)
	if err != nil {
		h.logger.Error("resolve permissions", slog.String("user_id", p.UserID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "permissions temporarily unavailable")
		return
	}

	mirror := NewMirror()
	mirror.SetCompiled(set.Tokens())
	httpx.JSON(w, http.StatusOK, myPermissionsResponse{
		Permissions: mirror.Grants(),
		Tokens:      set.Tokens(),
		Modules:     mirror.AccessibleModules(),
	})
}

type invalidateRequest struct {
	Entries []InvalidationEntry `json:"entries" validate:"required,min=1,max=1000,dive"`
}

// Invalidate is the hook the CRUD layer calls after mutating any row
// reachable from a user's access graph.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if h.enqueuer != nil && len(req.Entries) > inlineInvalidateMax {
		if err := h.enqueuer.EnqueueInvalidation(r.Context(), req.Entries); err != nil {
			h.logger.Error("enqueue invalidation", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	for _, entry := range req.Entries {
		if err := h.engine.InvalidateCached(r.Context(), entry.UserID, entry.TenantID); err != nil {
			h.logger.Error("invalidate permission cache",
				slog.String("user_id", entry.UserID),
				slog.String("tenant_id", entry.TenantID),
				slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
