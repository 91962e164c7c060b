// Package contextkeys provides centralized context key definitions.
//
// All context keys shared across packages are defined here so that values
// stored by the request pipeline can be read by handlers without import cycles.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SecurityContextKey contains *pipeline.SecurityContext
	// Set by: pipeline.Pipeline.Execute before the handler runs
	// Used by: operation handlers
	SecurityContextKey Key = "security_context"

	// CorrelationIDKey contains the per-request correlation id (UUID string)
	// Set by: pipeline.Pipeline.Execute
	// Used by: error responses, security audit channel
	CorrelationIDKey Key = "correlation_id"
)

// WithSecurityContext adds the resolved security context
func WithSecurityContext(ctx context.Context, sc interface{}) context.Context {
	return context.WithValue(ctx, SecurityContextKey, sc)
}

// SecurityContext returns the stored security context, or nil
func SecurityContext(ctx context.Context) interface{} {
	return ctx.Value(SecurityContextKey)
}

// WithCorrelationID adds a correlation id to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID retrieves the correlation id from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}
