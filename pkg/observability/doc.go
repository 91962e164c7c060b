// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry export for sitegate.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("project_id", projectID).Info("membership added")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PolicyDenialsTotal.WithLabelValues("NOT_PROJECT_MEMBER").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "sitegate",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
