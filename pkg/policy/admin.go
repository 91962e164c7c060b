package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/observability"
)

const (
	entityMembership   = "project_membership"
	entityModuleAccess = "module_access"
)

// Admin manages memberships and module grants. Every change is audited and
// drops the affected cache entry.
type Admin struct {
	engine  *Engine
	store   MembershipStore
	users   auth.UserStore
	sink    audit.Sink
	catalog *Catalog
	logger  *observability.Logger
}

// NewAdmin creates an access administration service
func NewAdmin(engine *Engine, sink audit.Sink, catalog *Catalog, logger *observability.Logger) *Admin {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if catalog == nil {
		catalog = NewCatalog(DefaultPresets())
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Admin{
		engine:  engine,
		store:   engine.store,
		users:   engine.users,
		sink:    sink,
		catalog: catalog,
		logger:  logger,
	}
}

// Catalog returns the preset catalog
func (a *Admin) Catalog() *Catalog {
	return a.catalog
}

// authorize allows project ADMIN members inside their access window and
// platform administrators
func (a *Admin) authorize(ctx context.Context, actorID, projectID string) error {
	var denied error
	m, err := a.engine.AssertMember(ctx, actorID, projectID)
	if err == nil && m.Role == auth.RoleAdmin {
		werr := a.engine.AssertAccessWindow(m)
		if werr == nil {
			return nil
		}
		if !apperrors.Is(werr, apperrors.KindAuthorization) {
			return werr
		}
		denied = werr
	}
	if err != nil && !apperrors.Is(err, apperrors.KindAuthorization) {
		return err
	}

	if a.users != nil {
		actor, uerr := a.users.GetUser(ctx, actorID)
		if uerr == nil && actor.SystemRole == auth.RoleAdmin {
			return nil
		}
		if uerr != nil && !errors.Is(uerr, auth.ErrUserNotFound) {
			return apperrors.Internal("load actor", uerr)
		}
	}
	if denied != nil {
		return denied
	}
	return a.engine.deny(apperrors.Forbidden(apperrors.CodeRoleNotAllowed, "only project administrators may manage access"))
}

func (a *Admin) audit(ctx context.Context, entry *audit.Entry) {
	if err := a.sink.Write(ctx, entry); err != nil {
		a.logger.WithError(err).WithField("action", string(entry.Action)).Error("Failed to write audit entry")
	}
}

// AddMember adds or updates userID's membership in projectID
func (a *Admin) AddMember(ctx context.Context, actorID, projectID, userID string, role auth.SystemRole, window *AccessWindow) (*Membership, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, apperrors.Invalid("user id and project id are required")
	}
	if !role.Valid() {
		return nil, apperrors.Invalid(fmt.Sprintf("unknown role %q", role))
	}
	if window != nil {
		if err := window.Validate(); err != nil {
			return nil, err
		}
	}
	if err := a.authorize(ctx, actorID, projectID); err != nil {
		return nil, err
	}

	m := &Membership{ProjectID: projectID, UserID: userID, Role: role, AccessWindow: window}
	if err := a.store.PutMembership(ctx, m); err != nil {
		return nil, apperrors.Internal("store membership", err)
	}
	a.engine.Invalidate(userID, projectID)

	a.audit(ctx, audit.NewEntry(actorID, projectID, audit.ActionMemberAdd, entityMembership, userID).
		WithMeta("role", string(role)))
	return m, nil
}

// RemoveMember revokes userID's membership and every module grant with it
func (a *Admin) RemoveMember(ctx context.Context, actorID, projectID, userID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return apperrors.Invalid("user id and project id are required")
	}
	if err := a.authorize(ctx, actorID, projectID); err != nil {
		return err
	}

	err := a.store.DeleteMembership(ctx, userID, projectID)
	if errors.Is(err, ErrNotFound) {
		return apperrors.NotFound("membership not found")
	}
	if err != nil {
		return apperrors.Internal("delete membership", err)
	}
	a.engine.Invalidate(userID, projectID)

	a.audit(ctx, audit.NewEntry(actorID, projectID, audit.ActionMemberRemove, entityMembership, userID))
	return nil
}

// GrantModuleAccess sets one module row. The target must already be a member.
func (a *Admin) GrantModuleAccess(ctx context.Context, actorID string, access ModuleAccess) error {
	if !access.Module.Valid() {
		return apperrors.Invalid(fmt.Sprintf("unknown module %q", access.Module))
	}
	if err := a.authorize(ctx, actorID, access.ProjectID); err != nil {
		return err
	}
	if _, err := a.store.GetMembership(ctx, access.UserID, access.ProjectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.Invalid("module access requires a project membership")
		}
		return apperrors.Internal("load membership", err)
	}

	if err := a.store.PutModuleAccess(ctx, &access); err != nil {
		return apperrors.Internal("store module access", err)
	}
	a.engine.Invalidate(access.UserID, access.ProjectID)

	a.audit(ctx, audit.NewEntry(actorID, access.ProjectID, audit.ActionModuleAccessGrant, entityModuleAccess, access.UserID).
		WithMeta("module", string(access.Module)).
		WithMeta("canView", access.CanView).
		WithMeta("canEdit", access.CanEdit).
		WithMeta("canUpload", access.CanUpload).
		WithMeta("canRequest", access.CanRequest))
	return nil
}

// ApplyPreset writes every module grant of the named preset for userID
func (a *Admin) ApplyPreset(ctx context.Context, actorID, projectID, userID, name string) ([]ModuleAccess, error) {
	preset, ok := a.catalog.Get(name)
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("access preset %q not found", name))
	}
	if err := a.authorize(ctx, actorID, projectID); err != nil {
		return nil, err
	}
	if _, err := a.store.GetMembership(ctx, userID, projectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.Invalid("access preset requires a project membership")
		}
		return nil, apperrors.Internal("load membership", err)
	}

	grants := preset.Grants(userID, projectID)
	for i := range grants {
		if err := a.store.PutModuleAccess(ctx, &grants[i]); err != nil {
			return nil, apperrors.Internal("store module access", err)
		}
	}
	a.engine.Invalidate(userID, projectID)

	a.audit(ctx, audit.NewEntry(actorID, projectID, audit.ActionPresetApply, entityModuleAccess, userID).
		WithMeta("preset", name).
		WithMeta("modules", len(grants)))
	return grants, nil
}
