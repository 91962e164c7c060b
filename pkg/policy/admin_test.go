package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
)

func newTestAdmin(t *testing.T) (*Admin, *Engine, *audit.MemorySink) {
	store := NewMemoryStore()
	users := auth.NewMemoryUserStore()
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &auth.Principal{ID: "root", SystemRole: auth.RoleAdmin}))
	require.NoError(t, users.CreateUser(ctx, &auth.Principal{ID: "pm", SystemRole: auth.RoleStaff}))
	seed(t, store, "pm", "p1", auth.RoleAdmin)
	seed(t, store, "staff", "p1", auth.RoleStaff)

	engine := NewEngine(store, users, WithCache(100, 0))
	sink := audit.NewMemorySink()
	return NewAdmin(engine, sink, nil, nil), engine, sink
}

func TestAdmin_AddAndRemoveMember(t *testing.T) {
	admin, engine, sink := newTestAdmin(t)
	ctx := context.Background()

	_, err := engine.AssertMember(ctx, "sub", "p1")
	require.Error(t, err)

	m, err := admin.AddMember(ctx, "pm", "p1", "sub", auth.RoleContractor, &AccessWindow{StartHour: 6, EndHour: 18})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleContractor, m.Role)

	got, err := engine.AssertMember(ctx, "sub", "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, got.AccessWindow.StartHour)

	require.NoError(t, admin.GrantModuleAccess(ctx, "pm", ModuleAccess{UserID: "sub", ProjectID: "p1", Module: ModuleTasks, CanView: true}))
	_, err = engine.AssertModuleAccess(ctx, "sub", "p1", ModuleTasks, PermissionRead)
	require.NoError(t, err)

	require.NoError(t, admin.RemoveMember(ctx, "pm", "p1", "sub"))
	_, err = engine.AssertMember(ctx, "sub", "p1")
	assert.Equal(t, apperrors.CodeNotProjectMember, apperrors.CodeOf(err), "cache is invalidated on removal")

	err = admin.RemoveMember(ctx, "pm", "p1", "sub")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	assert.Len(t, sink.ByAction(audit.ActionMemberAdd), 1)
	assert.Len(t, sink.ByAction(audit.ActionModuleAccessGrant), 1)
	assert.Len(t, sink.ByAction(audit.ActionMemberRemove), 1)
	assert.Equal(t, "CONTRACTOR", sink.ByAction(audit.ActionMemberAdd)[0].Meta["role"])
}

func TestAdmin_OnlyAdministratorsManageAccess(t *testing.T) {
	admin, _, sink := newTestAdmin(t)
	ctx := context.Background()

	_, err := admin.AddMember(ctx, "staff", "p1", "sub", auth.RoleViewer, nil)
	assert.Equal(t, apperrors.CodeRoleNotAllowed, apperrors.CodeOf(err))

	_, err = admin.AddMember(ctx, "nobody", "p1", "sub", auth.RoleViewer, nil)
	assert.Equal(t, apperrors.CodeRoleNotAllowed, apperrors.CodeOf(err))

	// Platform administrators may bootstrap projects they are not members of.
	_, err = admin.AddMember(ctx, "root", "p2", "pm", auth.RoleAdmin, nil)
	require.NoError(t, err)

	assert.Len(t, sink.Entries(), 1)
}

func TestAdmin_ProjectAdministratorsBoundByAccessWindow(t *testing.T) {
	store := NewMemoryStore()
	users := auth.NewMemoryUserStore()
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &auth.Principal{ID: "root", SystemRole: auth.RoleAdmin}))
	require.NoError(t, users.CreateUser(ctx, &auth.Principal{ID: "day-pm", SystemRole: auth.RoleStaff}))
	window := &AccessWindow{StartHour: 6, EndHour: 18}
	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "day-pm", Role: auth.RoleAdmin, AccessWindow: window}))
	require.NoError(t, store.PutMembership(ctx, &Membership{ProjectID: "p1", UserID: "root", Role: auth.RoleAdmin, AccessWindow: window}))

	now := time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)
	engine := NewEngine(store, users, WithCache(100, 0), WithClock(func() time.Time { return now }))
	sink := audit.NewMemorySink()
	admin := NewAdmin(engine, sink, nil, nil)

	_, err := admin.AddMember(ctx, "day-pm", "p1", "sub", auth.RoleViewer, nil)
	assert.Equal(t, apperrors.CodeOutsideAccessWindow, apperrors.CodeOf(err))
	err = admin.GrantModuleAccess(ctx, "day-pm", ModuleAccess{UserID: "day-pm", ProjectID: "p1", Module: ModuleBudget, CanView: true})
	assert.Equal(t, apperrors.CodeOutsideAccessWindow, apperrors.CodeOf(err))
	assert.Empty(t, sink.Entries())

	// Platform administrators are not bound by a project window.
	_, err = admin.AddMember(ctx, "root", "p1", "sub", auth.RoleViewer, nil)
	require.NoError(t, err)

	now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err = admin.AddMember(ctx, "day-pm", "p1", "sub", auth.RoleStaff, nil)
	require.NoError(t, err)
}

func TestAdmin_Validation(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	ctx := context.Background()

	_, err := admin.AddMember(ctx, "pm", "p1", "sub", auth.SystemRole("OWNER"), nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = admin.AddMember(ctx, "pm", "p1", "sub", auth.RoleViewer, &AccessWindow{StartHour: 1, EndHour: 2, Timezone: "Nowhere/Else"})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	err = admin.GrantModuleAccess(ctx, "pm", ModuleAccess{UserID: "ghost", ProjectID: "p1", Module: ModuleTasks, CanView: true})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	err = admin.GrantModuleAccess(ctx, "pm", ModuleAccess{UserID: "staff", ProjectID: "p1", Module: Module("HR")})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAdmin_ApplyPreset(t *testing.T) {
	admin, engine, sink := newTestAdmin(t)
	ctx := context.Background()

	grants, err := admin.ApplyPreset(ctx, "pm", "p1", "staff", "read-only")
	require.NoError(t, err)
	assert.Len(t, grants, len(AllModules()))

	perms, err := engine.GetEffectivePermissions(ctx, "staff", "p1")
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermissionRead, PermissionExport}, perms[ModuleBudget])

	_, err = admin.ApplyPreset(ctx, "pm", "p1", "staff", "does-not-exist")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	entries := sink.ByAction(audit.ActionPresetApply)
	require.Len(t, entries, 1)
	assert.Equal(t, "read-only", entries[0].Meta["preset"])
}
