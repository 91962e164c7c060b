package pipeline

import (
	"context"

	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/policy"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
	"github.com/platinummonkey/sitegate/pkg/repository"
	"github.com/platinummonkey/sitegate/pkg/session"
	"github.com/platinummonkey/sitegate/pkg/store"
)

// Request is the transport-neutral form of an inbound call
type Request struct {
	Credential string
	// CredentialError is set by transports that received a malformed credential
	CredentialError error

	SessionID     string
	OriginIP      string
	CorrelationID string

	// ProjectID is the request-bound project for read-style calls
	ProjectID string
	// ResourceID names the record a mutation targets
	ResourceID string

	Params   map[string]string
	Body     map[string]any
	Metadata map[string]string

	// BodyError is set when the transport could not decode the body. It is
	// reported after authentication and admission.
	BodyError error
}

// Param returns a named parameter or ""
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Handler runs the business logic of an operation once every check passed
type Handler func(ctx context.Context, sc *SecurityContext, req *Request) (any, error)

// ProjectResolver determines the project an operation acts on
type ProjectResolver func(ctx context.Context, req *Request) (string, error)

// Operation declares the checks an inbound call must pass
type Operation struct {
	Name string

	// AllowedRoles restricts the principal's system role when non-empty
	AllowedRoles []auth.SystemRole

	// ResolveProject is nil for operations that are not project scoped
	ResolveProject ProjectResolver

	// Requirements are checked in order against the resolved membership
	Requirements []policy.Requirement

	// SuccessStatus overrides the status of a successful call, 200 when zero
	SuccessStatus int

	Handler Handler
}

// SecurityContext is what a handler may rely on after the pipeline ran
type SecurityContext struct {
	Principal          *auth.Principal
	Identity           *auth.Identity
	ProjectID          string
	Membership         *policy.Membership
	Session            *session.Session
	RateLimit          *ratelimit.Decision
	CorrelationID      string
	RefreshRecommended bool

	pipeline *Pipeline
}

// Role returns the role governing in-project decisions: the membership role
// when a project was resolved, otherwise the system role.
func (sc *SecurityContext) Role() auth.SystemRole {
	if sc.Membership != nil {
		return sc.Membership.Role
	}
	if sc.Principal != nil {
		return sc.Principal.SystemRole
	}
	return ""
}

// Repository builds a scoped repository for the resolved project
func (sc *SecurityContext) Repository(ctx context.Context, opts ...repository.Option) (*repository.Repository, error) {
	p := sc.pipeline
	projects, err := p.engine.ProjectsForUser(ctx, sc.Principal.ID)
	if err != nil {
		return nil, err
	}
	all := append([]repository.Option{
		repository.WithGlobalEntities(p.globalEntities...),
		repository.WithLogger(p.logger),
	}, opts...)
	return repository.New(p.store, repository.Scope{
		UserID:         sc.Principal.ID,
		ProjectID:      sc.ProjectID,
		CallerProjects: projects,
	}, p.audit, all...)
}

// Store returns the unscoped store for handlers that need tenant-global data
func (sc *SecurityContext) Store() store.Store {
	return sc.pipeline.store
}

// Response is the single outward shape of every call
type Response struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	Status             int                 `json:"-"`
	RetryAfter         int                 `json:"-"`
	RateLimit          *ratelimit.Decision `json:"-"`
	RefreshRecommended bool                `json:"-"`
}
