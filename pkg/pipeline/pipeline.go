package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/contextkeys"
	"github.com/platinummonkey/sitegate/pkg/httputil"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/policy"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
	"github.com/platinummonkey/sitegate/pkg/session"
	"github.com/platinummonkey/sitegate/pkg/store"
)

// DefaultRefreshThreshold is the remaining credential validity below which
// clients are told to refresh
const DefaultRefreshThreshold = 5 * time.Minute

const genericInternalMessage = "internal server error"

// Deps are the collaborators of a Pipeline. Sessions, Audit, Security,
// Metrics and Logger are optional.
type Deps struct {
	Verifier    auth.Verifier
	Provisioner *auth.Provisioner
	Sessions    *session.Manager
	Limiter     *ratelimit.Limiter
	Engine      *policy.Engine
	Store       store.Store
	Audit       audit.Sink
	Security    *audit.SecurityLogger
	Metrics     *observability.Metrics
	Logger      *observability.Logger
}

// Pipeline runs every inbound call through authentication, admission and
// authorization in a fixed order, and is the only place typed failures
// become responses.
type Pipeline struct {
	verifier    auth.Verifier
	provisioner *auth.Provisioner
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	engine      *policy.Engine
	store       store.Store
	audit       audit.Sink
	security    *audit.SecurityLogger
	metrics     *observability.Metrics
	logger      *observability.Logger
	tracer      trace.Tracer

	development      bool
	refreshThreshold time.Duration
	globalEntities   []string
	proxies          *httputil.TrustedProxies
	now              func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDevelopment exposes internal error messages to callers
func WithDevelopment(dev bool) Option {
	return func(p *Pipeline) {
		p.development = dev
	}
}

// WithRefreshThreshold sets when a refresh is recommended
func WithRefreshThreshold(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.refreshThreshold = d
		}
	}
}

// WithGlobalEntities lists entities repositories treat as tenant-global
func WithGlobalEntities(entities ...string) Option {
	return func(p *Pipeline) {
		p.globalEntities = append(p.globalEntities, entities...)
	}
}

// WithTrustedProxies lets the HTTP transport take the origin address from
// forwarding headers set by these proxies
func WithTrustedProxies(proxies *httputil.TrustedProxies) Option {
	return func(p *Pipeline) {
		p.proxies = proxies
	}
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		p.tracer = tp.Tracer("sitegate/pipeline")
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a pipeline
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case deps.Provisioner == nil:
		return nil, errors.New("pipeline: provisioner is required")
	case deps.Limiter == nil:
		return nil, errors.New("pipeline: limiter is required")
	case deps.Engine == nil:
		return nil, errors.New("pipeline: policy engine is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	}

	p := &Pipeline{
		verifier:         deps.Verifier,
		provisioner:      deps.Provisioner,
		sessions:         deps.Sessions,
		limiter:          deps.Limiter,
		engine:           deps.Engine,
		store:            deps.Store,
		audit:            deps.Audit,
		security:         deps.Security,
		metrics:          deps.Metrics,
		logger:           deps.Logger,
		tracer:           otel.Tracer("sitegate/pipeline"),
		refreshThreshold: DefaultRefreshThreshold,
		now:              time.Now,
	}
	if p.audit == nil {
		p.audit = audit.NoOpSink{}
	}
	if p.security == nil {
		p.security = audit.NewSecurityLogger(nil)
	}
	if p.logger == nil {
		p.logger = observability.NewNopLogger()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Engine returns the policy engine
func (p *Pipeline) Engine() *policy.Engine {
	return p.engine
}

// Sessions returns the session manager, which may be nil
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Execute runs op for req and always returns a response
func (p *Pipeline) Execute(ctx context.Context, op *Operation, req *Request) *Response {
	start := p.now()

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	ctx = observability.WithLogger(ctx, p.logger.WithField("operation", op.Name))

	ctx, span := p.tracer.Start(ctx, "pipeline."+op.Name,
		trace.WithAttributes(
			attribute.String("operation", op.Name),
			attribute.String("correlation_id", correlationID),
		),
	)
	defer span.End()

	sc := &SecurityContext{CorrelationID: correlationID, pipeline: p}
	data, err := p.run(ctx, op, req, sc)

	var resp *Response
	if err != nil {
		resp = p.failure(ctx, op, req, sc, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
	} else {
		resp = &Response{Success: true, Data: data, Status: http.StatusOK}
		if op.SuccessStatus != 0 {
			resp.Status = op.SuccessStatus
		}
		span.SetStatus(codes.Ok, "")
	}
	resp.CorrelationID = correlationID
	resp.RateLimit = sc.RateLimit
	resp.RefreshRecommended = sc.RefreshRecommended

	if sc.Principal != nil {
		span.SetAttributes(attribute.String("principal_id", sc.Principal.ID))
	}
	if sc.ProjectID != "" {
		span.SetAttributes(attribute.String("project_id", sc.ProjectID))
	}
	span.SetAttributes(attribute.Int("status", resp.Status))

	if p.metrics != nil {
		outcome := "success"
		if !resp.Success {
			outcome = strings.ToLower(string(apperrors.KindOf(err)))
		}
		p.metrics.RequestsTotal.WithLabelValues(op.Name, outcome).Inc()
		p.metrics.RequestDuration.WithLabelValues(op.Name).Observe(p.now().Sub(start).Seconds())
	}
	return resp
}

// run executes the stages in order. The first failure ends the call.
func (p *Pipeline) run(ctx context.Context, op *Operation, req *Request, sc *SecurityContext) (any, error) {
	// 1. Credential, session and provisioning
	if req.CredentialError != nil {
		return nil, apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeInvalidCredential, "invalid credential", req.CredentialError)
	}
	if strings.TrimSpace(req.Credential) == "" {
		return nil, apperrors.Unauthenticated(apperrors.CodeMissingCredential, "missing credential")
	}
	identity, err := p.verifier.Verify(ctx, req.Credential)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeInvalidCredential, "invalid credential", err)
	}
	sc.Identity = identity
	sc.RefreshRecommended = identity.NeedsRefresh(p.now(), p.refreshThreshold)

	if req.SessionID != "" && p.sessions != nil {
		sess, err := p.sessions.Validate(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.PrincipalID != identity.PrincipalID {
			return nil, apperrors.Unauthenticated(apperrors.CodeSessionMismatch, "session belongs to another principal")
		}
		sc.Session = sess
	}

	principal, err := p.provisioner.Provision(ctx, identity)
	if err != nil {
		return nil, err
	}
	sc.Principal = principal
	ctx = observability.WithPrincipalID(ctx, principal.ID)

	// 2. Admission
	tier := p.engine.GetRateLimitTier(ctx, principal.ID)
	decision, err := p.limiter.Admit(ctx, principal.ID, req.OriginIP, tier)
	sc.RateLimit = decision
	if err != nil {
		if p.metrics != nil && apperrors.Is(err, apperrors.KindRateLimit) {
			p.metrics.RateLimitRejectionsTotal.WithLabelValues(tier.Name).Inc()
		}
		return nil, err
	}
	if req.BodyError != nil {
		return nil, apperrors.Invalid("invalid request body: " + req.BodyError.Error())
	}

	// 3. System role allowlist
	if len(op.AllowedRoles) > 0 && !roleAllowed(principal.SystemRole, op.AllowedRoles) {
		return nil, p.denied(apperrors.Forbidden(apperrors.CodeRoleNotAllowed, "role is not allowed to perform this operation"))
	}

	// 4-6. Project, membership, access window and module permissions
	if op.ResolveProject != nil {
		projectID, err := op.ResolveProject(ctx, req)
		if err != nil {
			return nil, err
		}
		sc.ProjectID = projectID
		ctx = observability.WithProjectID(ctx, projectID)

		membership, err := p.engine.AssertMember(ctx, principal.ID, projectID)
		if err != nil {
			return nil, err
		}
		if err := p.engine.AssertAccessWindow(membership); err != nil {
			return nil, err
		}
		for _, r := range op.Requirements {
			if err := p.engine.AuthorizeModule(ctx, membership, r.Module, r.Permission); err != nil {
				return nil, err
			}
		}
		sc.Membership = membership
	} else if len(op.Requirements) > 0 {
		return nil, apperrors.Internal("operation misconfigured", errors.New("module requirements without a project resolver"))
	}

	// 7. Handler
	if op.Handler == nil {
		return nil, nil
	}
	ctx = contextkeys.WithSecurityContext(ctx, sc)
	return op.Handler(ctx, sc, req)
}

func (p *Pipeline) denied(err *apperrors.Error) *apperrors.Error {
	if p.metrics != nil {
		p.metrics.PolicyDenialsTotal.WithLabelValues(string(err.Code)).Inc()
	}
	return err
}

func roleAllowed(role auth.SystemRole, allowed []auth.SystemRole) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// failure converts err into a response. Tenant mismatches are reported as
// not found so that other projects' records are not revealed. Internal
// messages are hidden outside development.
func (p *Pipeline) failure(ctx context.Context, op *Operation, req *Request, sc *SecurityContext, err error) *Response {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal("unexpected error", err)
	}

	if apperrors.IsSecurityEvent(appErr) {
		event := audit.SecurityEvent{
			Kind:          string(appErr.Kind),
			Code:          string(appErr.Code),
			Message:       appErr.Message,
			Operation:     op.Name,
			ProjectID:     sc.ProjectID,
			Module:        appErr.Module,
			Permission:    appErr.Permission,
			OriginIP:      req.OriginIP,
			CorrelationID: sc.CorrelationID,
		}
		if sc.Principal != nil {
			event.PrincipalID = sc.Principal.ID
		} else if sc.Identity != nil {
			event.PrincipalID = sc.Identity.PrincipalID
		}
		p.security.Record(ctx, event)
	}

	resp := &Response{
		Success: false,
		Status:  appErr.Status(),
		Code:    string(appErr.Code),
		Error:   appErr.Message,
	}

	switch {
	case appErr.Code == apperrors.CodeTenantMismatch:
		resp.Status = apperrors.KindNotFound.HTTPStatus()
		resp.Code = string(apperrors.CodeNotFound)
		resp.Error = "record not found"
	case appErr.Kind == apperrors.KindRateLimit:
		resp.RetryAfter = appErr.RetryAfter
	case appErr.Kind == apperrors.KindInternal:
		if sc.Principal != nil {
			ctx = observability.WithPrincipalID(ctx, sc.Principal.ID)
		}
		observability.FromContext(observability.WithProjectID(ctx, sc.ProjectID)).
			WithError(err).Error("Operation failed")
		if !p.development {
			resp.Error = genericInternalMessage
		} else if appErr.Err != nil {
			resp.Error = appErr.Error()
		}
	}
	return resp
}

// FromContext returns the security context stored for a handler, or nil
func FromContext(ctx context.Context) *SecurityContext {
	sc, _ := contextkeys.SecurityContext(ctx).(*SecurityContext)
	return sc
}
