package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/httputil"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/pipeline"
	"github.com/platinummonkey/sitegate/pkg/policy"
	"github.com/platinummonkey/sitegate/pkg/session"
	"github.com/platinummonkey/sitegate/pkg/store"
)

// DefaultMaxBodyBytes limits request bodies
const DefaultMaxBodyBytes = 1 << 20

// Config holds the collaborators of a Server. Admin, Health, Metrics and
// Registry are optional.
type Config struct {
	Pipeline    *pipeline.Pipeline
	Store       store.Store
	Provisioner *auth.Provisioner
	Admin       *policy.Admin
	Audit       audit.Sink
	Entities    Entities

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *observability.Logger

	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server represents the HTTP API server
type Server struct {
	router      *mux.Router
	pipeline    *pipeline.Pipeline
	store       store.Store
	engine      *policy.Engine
	sessions    *session.Manager
	provisioner *auth.Provisioner
	admin       *policy.Admin
	audit       audit.Sink
	entities    Entities
	logger      *observability.Logger
	now         func() time.Time
}

// NewServer creates a new API server with every route registered
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("api: pipeline is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: store is required")
	}

	s := &Server{
		router:      mux.NewRouter(),
		pipeline:    cfg.Pipeline,
		store:       cfg.Store,
		engine:      cfg.Pipeline.Engine(),
		sessions:    cfg.Pipeline.Sessions(),
		provisioner: cfg.Provisioner,
		admin:       cfg.Admin,
		audit:       cfg.Audit,
		entities:    cfg.Entities,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if s.entities == nil {
		s.entities = DefaultEntities()
	}
	if s.audit == nil {
		s.audit = audit.NoOpSink{}
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	if len(cfg.AllowedOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(cfg.AllowedOrigins))
	}
	s.router.Use(httputil.MaxBytesMiddleware(maxBody))
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		observability.RegisterHealthRoutes(s.router, cfg.Health)
	}
	if cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods(http.MethodGet)
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Session routes
	if s.sessions != nil {
		v1.Handle("/sessions", s.pipeline.Handler(s.createSessionOp())).Methods(http.MethodPost)
		v1.Handle("/sessions/{sessionId}", s.pipeline.Handler(s.destroySessionOp())).Methods(http.MethodDelete)
	}
	v1.Handle("/me", s.pipeline.Handler(s.meOp())).Methods(http.MethodGet)

	// Access routes
	v1.Handle("/projects/{projectId}/permissions", s.pipeline.Handler(s.permissionsOp())).Methods(http.MethodGet)
	if s.admin != nil {
		v1.Handle("/projects/{projectId}/members", s.pipeline.Handler(s.addMemberOp())).Methods(http.MethodPost)
		v1.Handle("/projects/{projectId}/members/{userId}", s.pipeline.Handler(s.removeMemberOp())).Methods(http.MethodDelete)
		v1.Handle("/projects/{projectId}/members/{userId}/modules/{module}", s.pipeline.Handler(s.grantModuleOp())).Methods(http.MethodPut)
		v1.Handle("/projects/{projectId}/members/{userId}/presets/{preset}", s.pipeline.Handler(s.applyPresetOp())).Methods(http.MethodPost)
		v1.Handle("/presets", s.pipeline.Handler(s.listPresetsOp())).Methods(http.MethodGet)
	}
	if s.provisioner != nil {
		v1.Handle("/users/{userId}/role", s.pipeline.Handler(s.changeRoleOp())).Methods(http.MethodPut)
	}

	// Module data routes
	for _, entity := range s.entities.Names() {
		module := s.entities[entity]
		scoped := "/projects/{projectId}/" + entity
		v1.Handle(scoped, s.pipeline.Handler(s.listOp(entity, module))).Methods(http.MethodGet)
		v1.Handle(scoped, s.pipeline.Handler(s.createOp(entity, module))).Methods(http.MethodPost)
		v1.Handle(scoped+"/export", s.pipeline.Handler(s.exportOp(entity, module))).Methods(http.MethodGet)
		v1.Handle(scoped+"/{id}", s.pipeline.Handler(s.getOp(entity, module))).Methods(http.MethodGet)

		byID := "/" + entity + "/{id}"
		v1.Handle(byID, s.pipeline.Handler(s.updateOp(entity, module))).Methods(http.MethodPatch)
		v1.Handle(byID, s.pipeline.Handler(s.deleteOp(entity, module))).Methods(http.MethodDelete)
		v1.Handle(byID+"/approve", s.pipeline.Handler(s.approveOp(entity, module))).Methods(http.MethodPost)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes lets other packages add routes to the server's router
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
