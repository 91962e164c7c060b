package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/sitegate/pkg/api"
	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/config"
	"github.com/platinummonkey/sitegate/pkg/httputil"
	"github.com/platinummonkey/sitegate/pkg/janitor"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/pipeline"
	"github.com/platinummonkey/sitegate/pkg/policy"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
	"github.com/platinummonkey/sitegate/pkg/session"
	"github.com/platinummonkey/sitegate/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// backends holds the optional external connections
type backends struct {
	db    *sql.DB
	redis *redis.Client
}

func (b *backends) Close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		b.db = db
		logger.Info("Connected to database")
	} else {
		logger.Warn("No database configured, using in-memory stores")
	}

	if cfg.Database.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			b.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		b.redis = client
		logger.Info("Connected to redis")
	}

	return b, nil
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.OIDCIssuerURL != "" {
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	}
	return auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shut down OpenTelemetry")
			}
		}()
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// Stores
	var (
		users       auth.UserStore
		memberships policy.MembershipStore
		data        store.Store
		auditSink   audit.Sink
	)
	if b.db != nil {
		userStore := auth.NewSQLUserStore(b.db)
		if err := userStore.Migrate(ctx); err != nil {
			return err
		}
		membershipStore := policy.NewSQLStore(b.db)
		if err := membershipStore.Migrate(ctx); err != nil {
			return err
		}
		dbSink, err := audit.NewDBSink(b.db)
		if err != nil {
			return fmt.Errorf("failed to create audit sink: %w", err)
		}
		users, memberships, data = userStore, membershipStore, store.NewSQLStore(b.db)
		auditSink = audit.NewMultiSink(dbSink, audit.NewLogSink(os.Stdout))
	} else {
		users = auth.NewMemoryUserStore()
		memberships = policy.NewMemoryStore()
		data = store.NewMemoryStore()
		auditSink = audit.NewMultiSink(audit.NewMemorySink(), audit.NewLogSink(os.Stdout))
	}
	defer auditSink.Close()

	var (
		sessionStore session.Store
		bucketStore  ratelimit.Store
	)
	if b.redis != nil {
		sessionStore = session.NewRedisStore(b.redis, "sitegate")
		bucketStore = ratelimit.NewRedisStore(b.redis, "sitegate")
	} else {
		sessionStore = session.NewMemoryStore()
		bucketStore = ratelimit.NewMemoryStore()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Core services
	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create credential verifier: %w", err)
	}
	provisioner := auth.NewProvisioner(users)

	limiter := ratelimit.New(bucketStore, cfg.RateLimit.Limiter, logger)
	sessions := session.NewManager(sessionStore, auditSink, logger, session.WithTimeout(cfg.Session.Timeout))

	engine := policy.NewEngine(memberships, users,
		policy.WithTiers(limiter.Tiers()),
		policy.WithCache(cfg.Policy.CacheSize, cfg.Policy.CacheTTL),
		policy.WithCacheObserver(metrics.CacheObserver("membership")),
		policy.WithDenialObserver(func(code apperrors.Code) {
			metrics.PolicyDenialsTotal.WithLabelValues(string(code)).Inc()
		}),
		policy.WithLogger(logger),
	)

	presets := policy.DefaultPresets()
	if cfg.Policy.PresetsPath != "" {
		presets, err = policy.LoadPresetsFile(cfg.Policy.PresetsPath)
		if err != nil {
			return fmt.Errorf("failed to load access presets: %w", err)
		}
	}
	catalog := policy.NewCatalog(presets)
	admin := policy.NewAdmin(engine, auditSink, catalog, logger)

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Verifier:    verifier,
		Provisioner: provisioner,
		Sessions:    sessions,
		Limiter:     limiter,
		Engine:      engine,
		Store:       data,
		Audit:       auditSink,
		Security:    audit.NewSecurityLogger(os.Stderr),
		Metrics:     metrics,
		Logger:      logger,
	},
		pipeline.WithDevelopment(cfg.Development()),
		pipeline.WithRefreshThreshold(cfg.Auth.RefreshThreshold),
		pipeline.WithTrustedProxies(proxies),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	server, err := api.NewServer(api.Config{
		Pipeline:       pipe,
		Store:          data,
		Provisioner:    provisioner,
		Admin:          admin,
		Audit:          auditSink,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	jan, err := janitor.New(janitor.Config{
		SessionSweepInterval: cfg.Session.SweepInterval,
		EvictInterval:        cfg.RateLimit.EvictInterval,
	}, sessions, limiter, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}

	// Health and metrics listen on their own port for probes and scraping
	opsRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(opsRouter, observability.NewHealthChecker(b.db, b.redis, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		opsRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, cfg.Observability.OTelServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:     opsRouter,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return jan.Run(gctx) })

	if cfg.Policy.PresetsPath != "" {
		g.Go(func() error { return policy.WatchPresets(gctx, cfg.Policy.PresetsPath, catalog, logger) })
	}

	for _, srv := range []*http.Server{apiServer, opsServer} {
		srv := srv
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), opsServer.Shutdown(shutdownCtx))
	})

	logger.WithFields(map[string]interface{}{
		"env":      cfg.Env,
		"database": b.db != nil,
		"redis":    b.redis != nil,
	}).Info("Sitegate started")

	return g.Wait()
}
