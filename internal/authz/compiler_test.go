package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mesaviva/mesaviva/internal/authz"
	_ "github.com/mesaviva/mesaviva/testing"
)

// fakeGraph is an in-memory GraphStore. It intentionally does no filtering of
// its own beyond user/group lookup so the compiler's active/tenant rules are
// what the tests exercise.
type fakeGraph struct {
	groupsByUser map[uuid.UUID][]authz.AccessGroup
	rolesByGroup map[uuid.UUID][]authz.Role
	grantsByRole map[uuid.UUID][]authz.Grant
	err          error
}

func (f *fakeGraph) AccessGroupsForUser(_ context.Context, userID, _ uuid.UUID) ([]authz.AccessGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groupsByUser[userID], nil
}

func (f *fakeGraph) RolesForAccessGroup(_ context.Context, groupID, _ uuid.UUID) ([]authz.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rolesByGroup[groupID], nil
}

func (f *fakeGraph) GrantsForRole(_ context.Context, roleID uuid.UUID) ([]authz.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grantsByRole[roleID], nil
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

// singlePathGraph builds user -> group -> role -> PRODUCT_MODULE[SELECT,UPDATE].
func singlePathGraph(userID, tenantID uuid.UUID) (*fakeGraph, uuid.UUID, uuid.UUID) {
	groupID := uuid.New()
	roleID := uuid.New()
	return &fakeGraph{
		groupsByUser: map[uuid.UUID][]authz.AccessGroup{
			userID: {{ID: groupID, TenantID: ptr(tenantID), IsActive: true}},
		},
		rolesByGroup: map[uuid.UUID][]authz.Role{
			groupID: {{ID: roleID, TenantID: ptr(tenantID), Code: "waiter", IsActive: true}},
		},
		grantsByRole: map[uuid.UUID][]authz.Grant{
			roleID: {{ModuleKey: "product_module", Operations: []string{"select", "update"}}},
		},
	}, groupID, roleID
}

func TestCompileFlattensGraph(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	graph, _, _ := singlePathGraph(userID, tenantID)
	compiler := authz.NewCompiler(graph)

	set, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"PRODUCT_MODULE",
		"PRODUCT_MODULE:SELECT",
		"PRODUCT_MODULE:UPDATE",
	}, set.Tokens())
}

func TestCompileIsIdempotent(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	graph, _, _ := singlePathGraph(userID, tenantID)
	compiler := authz.NewCompiler(graph)

	first, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	second, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.Equal(t, first.Tokens(), second.Tokens())
}

func TestCompileEmptyForUnknownUser(t *testing.T) {
	graph := &fakeGraph{}
	compiler := authz.NewCompiler(graph)

	set, err := compiler.Compile(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, set.Tokens())
}

func TestCompileSkipsInactiveEdges(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	graph, groupID, roleID := singlePathGraph(userID, tenantID)

	// Deactivating the role removes everything reachable only through it.
	graph.rolesByGroup[groupID] = []authz.Role{
		{ID: roleID, TenantID: ptr(tenantID), Code: "waiter", IsActive: false},
	}
	compiler := authz.NewCompiler(graph)

	set, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.Empty(t, set.Tokens())
}

func TestCompileRevocationRemovesOnlyThatOperation(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	graph, _, roleID := singlePathGraph(userID, tenantID)
	compiler := authz.NewCompiler(graph)

	before, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.True(t, before.Has("PRODUCT_MODULE:UPDATE"))

	// Drop the UPDATE operation row; SELECT and the module token survive.
	graph.grantsByRole[roleID] = []authz.Grant{
		{ModuleKey: "product_module", Operations: []string{"select"}},
	}

	after, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.False(t, after.Has("PRODUCT_MODULE:UPDATE"))
	require.True(t, after.Has("PRODUCT_MODULE:SELECT"))
	require.True(t, after.Has("PRODUCT_MODULE"))
}

func TestCompileTenantIsolation(t *testing.T) {
	userID := uuid.New()
	tenantA, tenantB := uuid.New(), uuid.New()
	groupID, roleID := uuid.New(), uuid.New()
	platformGroupID, platformRoleID := uuid.New(), uuid.New()

	graph := &fakeGraph{
		groupsByUser: map[uuid.UUID][]authz.AccessGroup{
			userID: {
				{ID: groupID, TenantID: ptr(tenantA), IsActive: true},
				{ID: platformGroupID, TenantID: nil, IsActive: true},
			},
		},
		rolesByGroup: map[uuid.UUID][]authz.Role{
			groupID:         {{ID: roleID, TenantID: ptr(tenantA), Code: "manager", IsActive: true}},
			platformGroupID: {{ID: platformRoleID, TenantID: nil, Code: authz.RoleSuperAdmin, IsActive: true, IsSystem: true}},
		},
		grantsByRole: map[uuid.UUID][]authz.Grant{
			roleID:         {{ModuleKey: "COUPON_MODULE", Operations: []string{"CREATE"}}},
			platformRoleID: {{ModuleKey: "TENANT_MODULE", Operations: []string{"SELECT"}}},
		},
	}
	compiler := authz.NewCompiler(graph)

	inA, err := compiler.Compile(context.Background(), userID, tenantA)
	require.NoError(t, err)
	require.True(t, inA.Has("COUPON_MODULE:CREATE"))
	require.True(t, inA.Has("TENANT_MODULE:SELECT"))

	// Tenant A's role never leaks into tenant B; the platform role follows.
	inB, err := compiler.Compile(context.Background(), userID, tenantB)
	require.NoError(t, err)
	require.False(t, inB.Has("COUPON_MODULE:CREATE"))
	require.False(t, inB.Has("COUPON_MODULE"))
	require.True(t, inB.Has("TENANT_MODULE:SELECT"))
}

func TestCompileDeduplicatesAcrossGroups(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	groupA, groupB, roleID := uuid.New(), uuid.New(), uuid.New()

	role := authz.Role{ID: roleID, TenantID: ptr(tenantID), Code: "Cashier", IsActive: true}
	graph := &fakeGraph{
		groupsByUser: map[uuid.UUID][]authz.AccessGroup{
			userID: {
				{ID: groupA, TenantID: ptr(tenantID), IsActive: true},
				{ID: groupB, TenantID: ptr(tenantID), IsActive: true},
			},
		},
		rolesByGroup: map[uuid.UUID][]authz.Role{
			groupA: {role},
			groupB: {role},
		},
		grantsByRole: map[uuid.UUID][]authz.Grant{
			roleID: {{ModuleKey: "Order_Module", Operations: []string{"create", "CREATE"}}},
		},
	}
	compiler := authz.NewCompiler(graph)

	set, err := compiler.Compile(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.Equal(t, []string{"ORDER_MODULE", "ORDER_MODULE:CREATE"}, set.Tokens())
}

func TestCompilePropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("boom")
	compiler := authz.NewCompiler(&fakeGraph{err: storeErr})

	_, err := compiler.Compile(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, storeErr)
}

func TestRoleCodesNormalized(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	graph, _, _ := singlePathGraph(userID, tenantID)
	compiler := authz.NewCompiler(graph)

	codes, err := compiler.RoleCodes(context.Background(), userID, tenantID)
	require.NoError(t, err)
	require.Equal(t, []string{"WAITER"}, codes)
}
