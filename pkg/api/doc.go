// Package api exposes the authorization core over HTTP.
//
// Every route is a pipeline.Operation mounted on a gorilla/mux router, so
// credential checks, rate limiting, project membership and module
// permissions run before any handler in this package.
//
// # Endpoints
//
// Sessions:
//
//	POST   /api/v1/sessions
//	DELETE /api/v1/sessions/{sessionId}
//	GET    /api/v1/me
//
// Access:
//
//	GET    /api/v1/projects/{projectId}/permissions
//	POST   /api/v1/projects/{projectId}/members
//	DELETE /api/v1/projects/{projectId}/members/{userId}
//	PUT    /api/v1/projects/{projectId}/members/{userId}/modules/{module}
//	POST   /api/v1/projects/{projectId}/members/{userId}/presets/{preset}
//	GET    /api/v1/presets
//	PUT    /api/v1/users/{userId}/role
//
// Module data, one set per registered entity:
//
//	GET    /api/v1/projects/{projectId}/{entity}
//	POST   /api/v1/projects/{projectId}/{entity}
//	GET    /api/v1/projects/{projectId}/{entity}/export
//	GET    /api/v1/projects/{projectId}/{entity}/{id}
//	PATCH  /api/v1/{entity}/{id}
//	DELETE /api/v1/{entity}/{id}
//	POST   /api/v1/{entity}/{id}/approve
//
// Reads are redacted for the caller's project role. Mutations resolve the
// project from the stored record and never from the request.
//
// Operational:
//
//	GET /healthz
//	GET /readyz
//	GET /metrics
package api
