// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the portal: logrus
// loggers, the domain metrics registry, health checks, and tracing setup.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(logrus.InfoLevel, observability.FormatJSON, os.Stdout)
//	logger.WithField("principal_id", id).Info("session registered")
//
// Trace-aware logging:
//
//	observability.WithTraceContext(ctx, logger).Warn("capability resolution failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuthEventsTotal.WithLabelValues("login", "true").Inc()
//
// Every component accepts a nil *Metrics; the helper methods are no-ops then.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "portald",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
