package policy

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/auth"
)

func setupTestDB(t *testing.T) *SQLStore {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store
}

func TestSQLStore_MembershipRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.GetMembership(ctx, "u1", "p1")
	assert.True(t, errors.Is(err, ErrNotFound))

	window := &AccessWindow{StartHour: 22, EndHour: 2, Timezone: "Europe/London", DaysOfWeek: []time.Weekday{time.Friday}}
	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "u1", Role: auth.RoleContractor, AccessWindow: window}))

	m, err := store.GetMembership(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleContractor, m.Role)
	assert.Equal(t, window, m.AccessWindow)
	assert.False(t, m.CreatedAt.IsZero())

	// Upsert replaces role and window.
	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "u1", Role: auth.RoleStaff}))
	m, err = store.GetMembership(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStaff, m.Role)
	assert.Nil(t, m.AccessWindow)
}

func TestSQLStore_ModuleAccess(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "u1", Role: auth.RoleStaff}))
	require.NoError(t, store.PutModuleAccess(ctx, &ModuleAccess{UserID: "u1", ProjectID: "p1", Module: ModuleTasks, CanView: true}))
	require.NoError(t, store.PutModuleAccess(ctx, &ModuleAccess{UserID: "u1", ProjectID: "p1", Module: ModuleBudget, CanEdit: true, CanUpload: true}))
	require.NoError(t, store.PutModuleAccess(ctx, &ModuleAccess{UserID: "u1", ProjectID: "p2", Module: ModuleBudget, CanView: true}))

	a, err := store.GetModuleAccess(ctx, "u1", "p1", ModuleBudget)
	require.NoError(t, err)
	assert.Equal(t, ModuleAccess{UserID: "u1", ProjectID: "p1", Module: ModuleBudget, CanEdit: true, CanUpload: true}, *a)

	_, err = store.GetModuleAccess(ctx, "u1", "p1", ModulePlans)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.PutModuleAccess(ctx, &ModuleAccess{UserID: "u1", ProjectID: "p1", Module: ModuleTasks, CanView: true, CanRequest: true}))

	rows, err := store.ListModuleAccess(ctx, "u1", "p1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ModuleBudget, rows[0].Module)
	assert.True(t, rows[1].CanRequest)
}

func TestSQLStore_DeleteMembershipDropsModuleRows(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "u1", Role: auth.RoleStaff}))
	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p2", UserID: "u1", Role: auth.RoleStaff}))
	require.NoError(t, store.PutModuleAccess(ctx, &ModuleAccess{UserID: "u1", ProjectID: "p1", Module: ModuleTasks, CanView: true}))

	projects, err := store.ListProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, projects)

	require.NoError(t, store.DeleteMembership(ctx, "u1", "p1"))

	_, err = store.GetModuleAccess(ctx, "u1", "p1", ModuleTasks)
	assert.True(t, errors.Is(err, ErrNotFound))

	projects, err = store.ListProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, projects)

	assert.True(t, errors.Is(store.DeleteMembership(ctx, "u1", "p1"), ErrNotFound))
}

func TestSQLStore_WithEngine(t *testing.T) {
	store := setupTestDB(t)
	seed(t, store, "contractor", "test-project-id", auth.RoleContractor,
		ModuleAccess{Module: ModuleBudget, CanView: true},
	)
	engine := NewEngine(store, nil)

	m, err := engine.AssertModuleAccess(context.Background(), "contractor", "test-project-id", ModuleBudget, PermissionRead)
	require.NoError(t, err)

	out := ApplyDataRedaction(budgetItem(), m.Role, ModuleBudget)
	assert.Equal(t, map[string]any{"item": "Test Item"}, out)
}
