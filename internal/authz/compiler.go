package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GraphStore exposes the read queries over the access-control graph. Rows
// returned should already be filtered to active records; the compiler filters
// defensively anyway so that every implementation yields the same sets.
type GraphStore interface {
	// AccessGroupsForUser returns the active access groups the user belongs to
	// that are visible in the given tenant (concrete match or platform scope).
	AccessGroupsForUser(ctx context.Context, userID, tenantID uuid.UUID) ([]AccessGroup, error)
	// RolesForAccessGroup returns the active roles attached to an access group
	// that are visible in the given tenant.
	RolesForAccessGroup(ctx context.Context, accessGroupID, tenantID uuid.UUID) ([]Role, error)
	// GrantsForRole returns the active permission grants of a role, one entry
	// per module with the operations allowed on it.
	GrantsForRole(ctx context.Context, roleID uuid.UUID) ([]Grant, error)
}

// Compiler flattens the access-control graph into permission sets. It is a
// pure read; compiling the same user/tenant against an unchanged graph always
// yields the same set.
type Compiler struct {
	store GraphStore
}

// NewCompiler constructs a Compiler over the given store.
func NewCompiler(store GraphStore) *Compiler {
	return &Compiler{store: store}
}

// Compile walks user -> access groups -> roles -> permissions -> modules and
// operations, emitting "MODULE" and "MODULE:OPERATION" tokens. A user with no
// active memberships compiles to the empty set, not an error.
func (c *Compiler) Compile(ctx context.Context, userID, tenantID uuid.UUID) (PermissionSet, error) {
	roles, err := c.effectiveRoles(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	set := make(PermissionSet)
	for _, role := range roles {
		grants, err := c.store.GrantsForRole(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("authz: grants for role %s: %w", role.ID, err)
		}
		for _, grant := range grants {
			if NormalizeToken(grant.ModuleKey) == "" {
				continue
			}
			set.Add(Token(grant.ModuleKey, ""))
			for _, op := range grant.Operations {
				if NormalizeToken(op) == "" {
					continue
				}
				set.Add(Token(grant.ModuleKey, op))
			}
		}
	}
	return set, nil
}

// RoleCodes returns the distinct, normalized codes of the user's effective
// roles in the tenant. Used to seed session role claims at login.
func (c *Compiler) RoleCodes(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	roles, err := c.effectiveRoles(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	codes := make(PermissionSet, len(roles))
	for _, role := range roles {
		codes.Add(role.Code)
	}
	return codes.Tokens(), nil
}

func (c *Compiler) effectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]Role, error) {
	groups, err := c.store.AccessGroupsForUser(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("authz: access groups for user %s: %w", userID, err)
	}

	seen := make(map[uuid.UUID]struct{})
	var roles []Role
	for _, group := range groups {
		if !group.IsActive || !tenantVisible(group.TenantID, tenantID) {
			continue
		}
		groupRoles, err := c.store.RolesForAccessGroup(ctx, group.ID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("authz: roles for access group %s: %w", group.ID, err)
		}
		for _, role := range groupRoles {
			if !role.IsActive || !tenantVisible(role.TenantID, tenantID) {
				continue
			}
			if _, ok := seen[role.ID]; ok {
				continue
			}
			seen[role.ID] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// tenantVisible applies the scoping rule: a nil tenant is platform-wide, a
// concrete tenant must match the caller's.
func tenantVisible(rowTenant *uuid.UUID, tenantID uuid.UUID) bool {
	return rowTenant == nil || *rowTenant == tenantID
}
