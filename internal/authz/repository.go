package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrGraphUnavailable wraps infrastructure failures of the graph store so the
// engine can distinguish them from an empty graph.
var ErrGraphUnavailable = errors.New("authz: graph store unavailable")

// PGGraphStore implements GraphStore over PostgreSQL.
type PGGraphStore struct {
	pool *pgxpool.Pool
}

// NewPGGraphStore constructs a graph store backed by the given pool.
func NewPGGraphStore(pool *pgxpool.Pool) *PGGraphStore {
	return &PGGraphStore{pool: pool}
}

// AccessGroupsForUser returns active, tenant-visible access groups for a user.
func (s *PGGraphStore) AccessGroupsForUser(ctx context.Context, userID, tenantID uuid.UUID) ([]AccessGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ag.id, ag.tenant_id, ag.is_active
		FROM account_access_groups aag
		JOIN access_groups ag ON ag.id = aag.access_group_id
		WHERE aag.user_id = $1
		  AND aag.is_active
		  AND ag.is_active
		  AND (ag.tenant_id IS NULL OR ag.tenant_id = $2)`,
		userID, tenantID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var groups []AccessGroup
	for rows.Next() {
		var (
			group  AccessGroup
			tenant pgtype.UUID
		)
		if err := rows.Scan(&group.ID, &tenant, &group.IsActive); err != nil {
			return nil, classify(err)
		}
		group.TenantID = optionalUUID(tenant)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return groups, nil
}

// RolesForAccessGroup returns active, tenant-visible roles of an access group.
func (s *PGGraphStore) RolesForAccessGroup(ctx context.Context, accessGroupID, tenantID uuid.UUID) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.tenant_id, r.code, r.is_active, r.is_system
		FROM role_access_groups rag
		JOIN roles r ON r.id = rag.role_id
		WHERE rag.access_group_id = $1
		  AND rag.is_active
		  AND r.is_active
		  AND (r.tenant_id IS NULL OR r.tenant_id = $2)`,
		accessGroupID, tenantID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var (
			role   Role
			tenant pgtype.UUID
		)
		if err := rows.Scan(&role.ID, &tenant, &role.Code, &role.IsActive, &role.IsSystem); err != nil {
			return nil, classify(err)
		}
		role.TenantID = optionalUUID(tenant)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return roles, nil
}

// GrantsForRole returns the active permission grants of a role grouped by
// module. Permissions whose module lost all active operations still grant the
// bare module token.
func (s *PGGraphStore) GrantsForRole(ctx context.Context, roleID uuid.UUID) ([]Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.key, o.value
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id AND p.is_active
		JOIN modules m ON m.id = p.module_id AND m.is_active
		LEFT JOIN permission_operations po ON po.permission_id = p.id AND po.is_active
		LEFT JOIN operations o ON o.id = po.operation_id AND o.is_active
		WHERE rp.role_id = $1
		  AND rp.is_active`,
		roleID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	byModule := make(map[string][]string)
	var order []string
	for rows.Next() {
		var (
			moduleKey string
			operation pgtype.Text
		)
		if err := rows.Scan(&moduleKey, &operation); err != nil {
			return nil, classify(err)
		}
		if _, ok := byModule[moduleKey]; !ok {
			byModule[moduleKey] = nil
			order = append(order, moduleKey)
		}
		if operation.Valid && strings.TrimSpace(operation.String) != "" {
			byModule[moduleKey] = append(byModule[moduleKey], operation.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	grants := make([]Grant, 0, len(order))
	for _, key := range order {
		grants = append(grants, Grant{ModuleKey: key, Operations: byModule[key]})
	}
	return grants, nil
}

// classify tags infrastructure-level failures with ErrGraphUnavailable so the
// engine can apply its retry budget; plain query errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrGraphUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 57 = operator intervention,
		// 53 = insufficient resources.
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "57"),
			strings.HasPrefix(pgErr.Code, "53"):
			return errors.Join(ErrGraphUnavailable, err)
		}
		return err
	}
	// Driver-level failures (broken pool, dial errors) have no SQLSTATE.
	return errors.Join(ErrGraphUnavailable, err)
}

func optionalUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}
