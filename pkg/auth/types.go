package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SystemRole is the platform-wide role of a principal. Project-scoped roles
// reuse the same values but live on the membership row.
type SystemRole string

const (
	RoleAdmin      SystemRole = "ADMIN"      // Platform administrators
	RoleStaff      SystemRole = "STAFF"      // Internal project staff
	RoleContractor SystemRole = "CONTRACTOR" // External trades, no cost visibility
	RoleViewer     SystemRole = "VIEWER"     // Read-only stakeholders
)

// AllRoles returns every known role, most privileged first
func AllRoles() []SystemRole {
	return []SystemRole{RoleAdmin, RoleStaff, RoleContractor, RoleViewer}
}

// Valid reports whether r is a known role
func (r SystemRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleContractor, RoleViewer:
		return true
	}
	return false
}

// IsElevated reports whether r may approve on top of module flags
func (r SystemRole) IsElevated() bool {
	return r == RoleAdmin || r == RoleStaff
}

// ParseSystemRole parses a role claim, case-insensitively
func ParseSystemRole(s string) (SystemRole, error) {
	role := SystemRole(strings.ToUpper(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown system role %q", s)
	}
	return role, nil
}

// Principal is an authenticated identity with its system-wide role.
type Principal struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	SystemRole SystemRole `json:"systemRole"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Identity is what a Verifier yields for a valid credential.
type Identity struct {
	PrincipalID string
	Email       string
	// RoleClaim is optional; it only seeds the role of a newly provisioned principal.
	RoleClaim SystemRole
	ExpiresAt time.Time
}

// NeedsRefresh reports whether less than threshold of validity remains
func (i *Identity) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return i.ExpiresAt.Sub(now) < threshold
}

// Verifier validates a bearer credential. Implementations own token format,
// signature scheme and any client caching.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, credential string) (*Identity, error)

// Verify calls f
func (f VerifierFunc) Verify(ctx context.Context, credential string) (*Identity, error) {
	return f(ctx, credential)
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>" header value
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}
