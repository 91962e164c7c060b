package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
)

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL and verifies tokens
// issued for clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	if issuerURL == "" || clientID == "" {
		return nil, errors.New("OIDC issuer URL and client ID are required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierWithKeys verifies tokens against a fixed set of public keys,
// for deployments without discovery.
func NewOIDCVerifierWithKeys(issuerURL, clientID string, keys []crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

type oidcClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verify validates the ID token and extracts the identity
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperrors.Unauthenticated(apperrors.CodeMissingCredential, "missing credential")
	}

	idToken, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, apperrors.Unauthenticated(apperrors.CodeExpiredCredential, "credential expired")
		}
		return nil, apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeInvalidCredential, "invalid credential", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeInvalidCredential, "unreadable claims", err)
	}

	identity := &Identity{
		PrincipalID: idToken.Subject,
		Email:       claims.Email,
		ExpiresAt:   idToken.Expiry,
	}
	if role, err := ParseSystemRole(claims.Role); err == nil {
		identity.RoleClaim = role
	}
	return identity, nil
}
