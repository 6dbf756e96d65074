// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes the observability plumbing shared by the ID Site
// redirect handlers, the nonce stores and the demo server: JSON logging, metrics
// collection, health checks, graceful shutdown and tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("status", "AUTHENTICATED").Info("ID Site callback accepted")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CallbacksTotal.WithLabelValues("replayed_token").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, db, redisClient)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "idsite",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
