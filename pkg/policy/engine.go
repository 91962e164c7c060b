package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
)

// Engine is the authorization decision point for project, module and
// permission checks. All decisions derive from stored membership and module
// rows plus the permission table.
type Engine struct {
	store    MembershipStore
	users    auth.UserStore
	tiers    ratelimit.Tiers
	cache    *membershipCache
	logger   *observability.Logger
	now      func() time.Time
	onDenial func(code apperrors.Code)
	onCache  func(hit bool)
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for access windows
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTiers sets the rate limit tiers resolved by GetRateLimitTier
func WithTiers(tiers ratelimit.Tiers) Option {
	return func(e *Engine) {
		if len(tiers) > 0 {
			e.tiers = tiers
		}
	}
}

// WithCache enables the membership cache. A non-positive size disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = newMembershipCache(size, ttl)
	}
}

// WithCacheObserver reports cache hits and misses, typically to metrics
func WithCacheObserver(observe func(hit bool)) Option {
	return func(e *Engine) {
		e.onCache = observe
	}
}

// WithDenialObserver is called with the code of every authorization denial
func WithDenialObserver(observe func(code apperrors.Code)) Option {
	return func(e *Engine) {
		e.onDenial = observe
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a policy engine. users may be nil, in which case every
// principal resolves to the most restrictive rate limit tier.
func NewEngine(store MembershipStore, users auth.UserStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		users:  users,
		tiers:  ratelimit.DefaultTiers(),
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache != nil {
		e.cache.observe = e.onCache
	}
	return e
}

func (e *Engine) deny(err *apperrors.Error) *apperrors.Error {
	if e.onDenial != nil {
		e.onDenial(err.Code)
	}
	return err
}

// AssertMember returns the membership of userID in projectID. A missing row is
// always an authorization failure; it is never defaulted to a role.
func (e *Engine) AssertMember(ctx context.Context, userID, projectID string) (*Membership, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, apperrors.Invalid("user id and project id are required")
	}

	if m, ok := e.cache.get(userID, projectID); ok {
		return m, nil
	}

	m, err := e.store.GetMembership(ctx, userID, projectID)
	if errors.Is(err, ErrNotFound) {
		return nil, e.deny(apperrors.Forbidden(apperrors.CodeNotProjectMember, "not a member of this project"))
	}
	if err != nil {
		return nil, apperrors.Internal("load membership", err)
	}

	e.cache.add(m)
	return m, nil
}

// AssertModuleAccess checks membership and then permission on module
func (e *Engine) AssertModuleAccess(ctx context.Context, userID, projectID string, module Module, permission Permission) (*Membership, error) {
	m, err := e.AssertMember(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.AuthorizeModule(ctx, m, module, permission); err != nil {
		return nil, err
	}
	return m, nil
}

// AuthorizeModule checks permission on module for an already resolved membership
func (e *Engine) AuthorizeModule(ctx context.Context, m *Membership, module Module, permission Permission) error {
	if m == nil {
		return apperrors.Invalid("membership is required")
	}
	if !module.Valid() {
		return apperrors.Invalid(fmt.Sprintf("unknown module %q", module))
	}
	if !permission.Valid() {
		return apperrors.Invalid(fmt.Sprintf("unknown permission %q", permission))
	}

	access, err := e.store.GetModuleAccess(ctx, m.UserID, m.ProjectID, module)
	if errors.Is(err, ErrNotFound) {
		denied := apperrors.Forbidden(apperrors.CodeNoModuleAccess, fmt.Sprintf("no %s access", strings.ToLower(string(module))))
		denied.Module = string(module)
		denied.Permission = string(permission)
		return e.deny(denied)
	}
	if err != nil {
		return apperrors.Internal("load module access", err)
	}

	if code := denial(access, m.Role, permission); code != "" {
		msg := fmt.Sprintf("%s permission denied on %s", permission, module)
		if code == apperrors.CodeApprovalRequiresRole {
			msg = fmt.Sprintf("approve on %s requires an elevated project role", module)
		}
		denied := apperrors.Forbidden(code, msg)
		denied.Module = string(module)
		denied.Permission = string(permission)
		return e.deny(denied)
	}
	return nil
}

// AssertMultipleAccess checks membership once, then each requirement in order.
// The first failure names the module and permission that caused it.
func (e *Engine) AssertMultipleAccess(ctx context.Context, userID, projectID string, reqs []Requirement) (*Membership, error) {
	m, err := e.AssertMember(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if err := e.AuthorizeModule(ctx, m, req.Module, req.Permission); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GetEffectivePermissions aggregates every module row of the pair into the
// permissions it grants. Modules granting nothing are omitted.
func (e *Engine) GetEffectivePermissions(ctx context.Context, userID, projectID string) (map[Module][]Permission, error) {
	m, err := e.AssertMember(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.ListModuleAccess(ctx, userID, projectID)
	if err != nil {
		return nil, apperrors.Internal("list module access", err)
	}

	result := make(map[Module][]Permission, len(rows))
	for i := range rows {
		perms := PermissionsFor(&rows[i], m.Role)
		if len(perms) > 0 {
			result[rows[i].Module] = perms
		}
	}
	return result, nil
}

// IsWithinAccessWindow evaluates window against the engine clock
func (e *Engine) IsWithinAccessWindow(window *AccessWindow) (bool, error) {
	return WithinAccessWindow(window, e.now())
}

// AssertAccessWindow fails when the membership carries a window that does not admit now
func (e *Engine) AssertAccessWindow(m *Membership) error {
	if m == nil || m.AccessWindow == nil {
		return nil
	}
	ok, err := e.IsWithinAccessWindow(m.AccessWindow)
	if err != nil {
		return err
	}
	if !ok {
		return e.deny(apperrors.Forbidden(apperrors.CodeOutsideAccessWindow, "outside the permitted access window"))
	}
	return nil
}

// GetRateLimitTier resolves the principal's system role to a tier. Unknown or
// unresolvable principals get the most restrictive tier.
func (e *Engine) GetRateLimitTier(ctx context.Context, userID string) ratelimit.Tier {
	if e.users == nil || userID == "" {
		return e.tiers.MostRestrictive()
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			e.logger.WithError(err).WithField("user_id", userID).Warn("Failed to resolve rate limit tier")
		}
		return e.tiers.MostRestrictive()
	}
	return e.tiers.ForRole(user.SystemRole)
}

// ProjectsForUser lists the projects userID is a member of
func (e *Engine) ProjectsForUser(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.Invalid("user id is required")
	}
	projects, err := e.store.ListProjects(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("list projects", err)
	}
	return projects, nil
}

// Invalidate drops the cached membership of userID in projectID
func (e *Engine) Invalidate(userID, projectID string) {
	e.cache.remove(userID, projectID)
}

// InvalidateAll empties the membership cache
func (e *Engine) InvalidateAll() {
	e.cache.purge()
}
