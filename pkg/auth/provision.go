package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
)

var (
	// ErrUserNotFound is returned by a UserStore for an unknown principal
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrUserExists is returned by CreateUser when the principal already exists
	ErrUserExists = errors.New("auth: user already exists")
)

// UserStore persists principals.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*Principal, error)
	CreateUser(ctx context.Context, p *Principal) error
	UpdateRole(ctx context.Context, id string, role SystemRole) error
}

// Provisioner creates a principal the first time a verified identity is seen.
// It runs after verification, never inside a Verifier.
type Provisioner struct {
	users       UserStore
	defaultRole SystemRole
	now         func() time.Time
}

// NewProvisioner creates a provisioner. New principals without a usable role
// claim get RoleViewer.
func NewProvisioner(users UserStore) *Provisioner {
	return &Provisioner{
		users:       users,
		defaultRole: RoleViewer,
		now:         time.Now,
	}
}

// Provision returns the stored principal for identity, creating it if needed.
// An existing principal keeps its stored role regardless of the claim.
func (p *Provisioner) Provision(ctx context.Context, identity *Identity) (*Principal, error) {
	if identity == nil || identity.PrincipalID == "" {
		return nil, apperrors.Invalid("identity has no principal id")
	}

	existing, err := p.users.GetUser(ctx, identity.PrincipalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, apperrors.Internal("load principal", err)
	}

	role := p.defaultRole
	if identity.RoleClaim.Valid() {
		role = identity.RoleClaim
	}

	principal := &Principal{
		ID:         identity.PrincipalID,
		Email:      identity.Email,
		SystemRole: role,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.users.CreateUser(ctx, principal); err != nil {
		if errors.Is(err, ErrUserExists) {
			// Lost a race with a concurrent first request.
			existing, getErr := p.users.GetUser(ctx, identity.PrincipalID)
			if getErr != nil {
				return nil, apperrors.Internal("reload principal", getErr)
			}
			return existing, nil
		}
		return nil, apperrors.Internal("create principal", err)
	}
	return principal, nil
}

// ChangeRole is the administrative action that changes a principal's system role.
func (p *Provisioner) ChangeRole(ctx context.Context, actor *Principal, userID string, role SystemRole) error {
	if actor == nil || actor.SystemRole != RoleAdmin {
		return apperrors.Forbidden(apperrors.CodeRoleNotAllowed, "only administrators may change system roles")
	}
	if !role.Valid() {
		return apperrors.Invalid(fmt.Sprintf("unknown system role %q", role))
	}
	if err := p.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperrors.NotFound("user not found")
		}
		return apperrors.Internal("update role", err)
	}
	return nil
}

// MemoryUserStore is a mutex-guarded UserStore for tests and single-instance development.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]Principal
}

// NewMemoryUserStore creates an empty store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]Principal)}
}

// GetUser returns a copy of the stored principal
func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &p, nil
}

// CreateUser stores a new principal
func (s *MemoryUserStore) CreateUser(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.ID]; ok {
		return ErrUserExists
	}
	s.users[p.ID] = *p
	return nil
}

// UpdateRole changes a stored principal's role
func (s *MemoryUserStore) UpdateRole(ctx context.Context, id string, role SystemRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	p.SystemRole = role
	s.users[id] = p
	return nil
}
