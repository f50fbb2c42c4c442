package authz

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Platform roles honoured by the admin fallback.
const (
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// AccessGroup is a tenant-scoped bucket of roles. A nil TenantID marks a
// platform-wide group visible in every tenant.
type AccessGroup struct {
	ID       uuid.UUID
	TenantID *uuid.UUID
	IsActive bool
}

// Role is a named bundle of permissions. A nil TenantID marks a platform role.
type Role struct {
	ID       uuid.UUID
	TenantID *uuid.UUID
	Code     string
	IsActive bool
	IsSystem bool
}

// Grant is the flattened contribution of a single permission: one module key
// plus the operation values it allows on that module.
type Grant struct {
	ModuleKey  string
	Operations []string
}

// Principal describes the authenticated actor as resolved by the
// authentication layer. Permissions and Roles carry the claims embedded in the
// current session.
type Principal struct {
	UserID        string
	TenantID      string
	Authenticated bool
	Permissions   []string
	Roles         []string
}

// NormalizeToken canonicalizes a permission token fragment.
func NormalizeToken(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Token builds the permission string for a module, optionally qualified by an
// operation: "MODULE_KEY" or "MODULE_KEY:OPERATION".
func Token(module, operation string) string {
	module = NormalizeToken(module)
	operation = NormalizeToken(operation)
	if operation == "" {
		return module
	}
	return module + ":" + operation
}

// PermissionSet is a deduplicated, case-normalized set of permission tokens.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw tokens, normalizing each.
func NewPermissionSet(tokens ...string) PermissionSet {
	set := make(PermissionSet, len(tokens))
	for _, t := range tokens {
		set.Add(t)
	}
	return set
}

// Add inserts a token after normalization. Empty tokens are ignored.
func (s PermissionSet) Add(token string) {
	token = NormalizeToken(token)
	if token == "" {
		return
	}
	s[token] = struct{}{}
}

// Has reports whether the exact normalized token is present. Module-level and
// module:operation-level tokens are independent strings; neither implies the
// other.
func (s PermissionSet) Has(token string) bool {
	_, ok := s[NormalizeToken(token)]
	return ok
}

// Tokens returns the members sorted, suitable for serialization.
func (s PermissionSet) Tokens() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Modules returns the module keys holding a bare module token.
func (s PermissionSet) Modules() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		if !strings.Contains(t, ":") {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// DecisionPath identifies the engine step that produced a decision.
type DecisionPath string

const (
	PathNoRequirement DecisionPath = "no_requirement"
	PathClaims        DecisionPath = "claims"
	PathCache         DecisionPath = "cache"
	PathGraph         DecisionPath = "graph"
	PathAdminFallback DecisionPath = "admin_fallback"
	PathDenied        DecisionPath = "denied"
)

// DenyReason classifies a terminal Deny.
type DenyReason string

const (
	ReasonNotAuthenticated DenyReason = "not_authenticated"
	ReasonAccessDenied     DenyReason = "access_denied"
	ReasonGraphUnavailable DenyReason = "graph_unavailable"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Path    DecisionPath
	Reason  DenyReason
}

// Allow builds an allowing decision reached via the given path.
func Allow(path DecisionPath) Decision {
	return Decision{Allowed: true, Path: path}
}

// Deny builds a denying decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Path: PathDenied, Reason: reason}
}

// Outcome renders the decision for logs and metrics.
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}
