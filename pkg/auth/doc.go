// Package auth holds principal identity for sitegate: system roles, the
// Verifier contract for bearer credentials, JWT and OIDC verifiers, explicit
// first-sight provisioning and opaque session identifier generation.
//
// # Verification
//
// A Verifier turns a credential into an Identity. It never touches storage:
//
//	verifier, err := auth.NewJWTVerifier(secret, "sitegate")
//	identity, err := verifier.Verify(ctx, token)
//
// OIDC deployments use discovery:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, issuerURL, clientID)
//
// # Provisioning
//
// Creating a principal on first sight is a separate step run by the request
// pipeline after verification:
//
//	provisioner := auth.NewProvisioner(auth.NewSQLUserStore(db))
//	principal, err := provisioner.Provision(ctx, identity)
//
// New principals take the identity's role claim when it names a known role and
// VIEWER otherwise. Existing principals keep their stored role; only
// ChangeRole, called by an ADMIN, changes it.
//
// # Session Identifiers
//
//	gen := auth.NewSessionIDGenerator()
//	id, err := gen.Generate()
//	// id: sess_<base64url(32 random bytes)>
package auth
