package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mesaviva/mesaviva/internal/observability"
	"github.com/mesaviva/mesaviva/internal/shared"
)

// graphRetryBudget bounds how many times a failed compile is retried before
// the engine gives up and fails closed.
const graphRetryBudget = 2

// Engine computes authorization decisions. It is stateless aside from the
// shared cache; a single Authorize call performs at most one cache read and,
// on miss, one graph compile.
type Engine struct {
	compiler *Compiler
	cache    *PermissionCache
	logger   *slog.Logger
	audit    *shared.AuditLogger
	metrics  *observability.Metrics
}

// NewEngine constructs an Engine. audit and metrics may be nil; the cache may
// be nil when no shared cache is deployed, in which case every decision
// compiles from the graph.
func NewEngine(compiler *Compiler, cache *PermissionCache, logger *slog.Logger, audit *shared.AuditLogger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		compiler: compiler,
		cache:    cache,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
	}
}

// Authorize decides whether the principal may perform requiredOperation on
// requiredModule. The evaluation is linear: authentication check, requirement
// check, claim fast path, cache/compile path, then the admin fallback that is
// reachable only when the claim set was completely empty. Infrastructure
// failures fail closed.
func (e *Engine) Authorize(ctx context.Context, p Principal, requiredModule, requiredOperation string) Decision {
	if !p.Authenticated {
		return e.finish(ctx, p, requiredModule, requiredOperation, Deny(ReasonNotAuthenticated))
	}

	requiredModule = NormalizeToken(requiredModule)
	if requiredModule == "" {
		return e.finish(ctx, p, requiredModule, requiredOperation, Allow(PathNoRequirement))
	}
	required := Token(requiredModule, requiredOperation)

	claims := NewPermissionSet(p.Permissions...)
	if claims.Has(required) {
		return e.finish(ctx, p, requiredModule, requiredOperation, Allow(PathClaims))
	}

	var graphErr error
	if userID, tenantID, ok := e.parseIdentity(p); ok {
		set, path, err := e.effectiveSet(ctx, userID, tenantID)
		if err != nil {
			graphErr = err
			e.logger.ErrorContext(ctx, "authz compile failed",
				slog.String("user_id", p.UserID),
				slog.String("tenant_id", p.TenantID),
				slog.Any("error", err))
		} else if set.Has(required) {
			return e.finish(ctx, p, requiredModule, requiredOperation, Allow(path))
		}
	}

	// Admin fallback covers principals whose claims never populated, e.g. a
	// session minted before a permission model migration. A non-empty claim
	// set that merely lacks the required token must deny.
	if len(claims) == 0 && hasAdminRole(p.Roles) {
		return e.finish(ctx, p, requiredModule, requiredOperation, Allow(PathAdminFallback))
	}

	if graphErr != nil && errors.Is(graphErr, ErrGraphUnavailable) {
		return e.finish(ctx, p, requiredModule, requiredOperation, Deny(ReasonGraphUnavailable))
	}
	return e.finish(ctx, p, requiredModule, requiredOperation, Deny(ReasonAccessDenied))
}

// EffectivePermissions resolves the principal's compiled permission set via
// cache, compiling and repopulating on miss. Used by Authorize and by the
// permissions endpoint that feeds the client mirror.
func (e *Engine) EffectivePermissions(ctx context.Context, p Principal) (PermissionSet, error) {
	userID, tenantID, ok := e.parseIdentity(p)
	if !ok {
		return nil, errors.New("authz: malformed identity")
	}
	set, _, err := e.effectiveSet(ctx, userID, tenantID)
	return set, err
}

// InvalidateCached drops the cached permission set for one user/tenant pair
// and records the cache event. A nil cache makes this a no-op.
func (e *Engine) InvalidateCached(ctx context.Context, userID, tenantID string) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Invalidate(ctx, userID, tenantID); err != nil {
		return err
	}
	e.metrics.CacheEvent("invalidate")
	return nil
}

func (e *Engine) effectiveSet(ctx context.Context, userID, tenantID uuid.UUID) (PermissionSet, DecisionPath, error) {
	if e.cache != nil {
		set, hit, err := e.cache.Get(ctx, userID.String(), tenantID.String())
		switch {
		case err != nil:
			// The cache is an optimization; a broken cache is a forced miss.
			e.metrics.CacheEvent("error")
			e.logger.WarnContext(ctx, "authz cache read failed", slog.Any("error", err))
		case hit:
			e.metrics.CacheEvent("hit")
			return set, PathCache, nil
		default:
			e.metrics.CacheEvent("miss")
		}
	}

	set, err := e.compile(ctx, userID, tenantID)
	if err != nil {
		return nil, PathGraph, err
	}
	if e.cache != nil {
		if err := e.cache.Put(ctx, userID.String(), tenantID.String(), set); err != nil {
			e.logger.WarnContext(ctx, "authz cache write failed", slog.Any("error", err))
		}
	}
	return set, PathGraph, nil
}

func (e *Engine) compile(ctx context.Context, userID, tenantID uuid.UUID) (PermissionSet, error) {
	var lastErr error
	for attempt := 0; attempt <= graphRetryBudget; attempt++ {
		set, err := e.compiler.Compile(ctx, userID, tenantID)
		if err == nil {
			return set, nil
		}
		lastErr = err
		if !errors.Is(err, ErrGraphUnavailable) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// parseIdentity validates the principal identifiers. Malformed identifiers
// are treated as a compile miss, never an error: the engine fails closed.
func (e *Engine) parseIdentity(p Principal) (uuid.UUID, uuid.UUID, bool) {
	userID, err := uuid.Parse(strings.TrimSpace(p.UserID))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(p.TenantID))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, tenantID, true
}

// finish emits audit events for every terminal deny and every fallback allow,
// then records metrics.
func (e *Engine) finish(ctx context.Context, p Principal, module, operation string, d Decision) Decision {
	e.metrics.AuthzDecision(string(d.Path), d.Outcome())

	audited := !d.Allowed || d.Path == PathAdminFallback
	if !audited {
		return d
	}

	attrs := []any{
		slog.String("user_id", p.UserID),
		slog.String("tenant_id", p.TenantID),
		slog.String("module", module),
		slog.String("operation", operation),
		slog.String("decision", d.Outcome()),
		slog.String("path", string(d.Path)),
	}
	if d.Allowed {
		e.logger.WarnContext(ctx, "authz admin fallback allow", attrs...)
	} else {
		attrs = append(attrs, slog.String("reason", string(d.Reason)))
		e.logger.InfoContext(ctx, "authz deny", attrs...)
	}

	if e.audit != nil && p.UserID != "" {
		action := "authz.deny"
		if d.Allowed {
			action = "authz.fallback_allow"
		}
		err := e.audit.Record(ctx, shared.AuditLog{
			ActorID:  p.UserID,
			TenantID: p.TenantID,
			Action:   action,
			Entity:   "authz_decision",
			EntityID: Token(module, operation),
			Meta: map[string]any{
				"module":    module,
				"operation": operation,
				"decision":  d.Outcome(),
				"path":      string(d.Path),
				"reason":    string(d.Reason),
			},
		})
		if err != nil {
			e.logger.WarnContext(ctx, "authz audit write failed", slog.Any("error", err))
		}
	}
	return d
}

func hasAdminRole(roles []string) bool {
	for _, role := range roles {
		switch NormalizeToken(role) {
		case RoleAdmin, RoleSuperAdmin:
			return true
		}
	}
	return false
}
