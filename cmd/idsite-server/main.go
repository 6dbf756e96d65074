package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/idsite/pkg/config"
	"github.com/platinummonkey/idsite/pkg/httputil"
	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/middleware"
	"github.com/platinummonkey/idsite/pkg/observability"
	"github.com/platinummonkey/idsite/pkg/sso"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	var tracerProvider trace.TracerProvider
	if providers != nil {
		tracerProvider = providers.TracerProvider
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	keyResolver, err := newKeyResolver(ctx, cfg.IDSite, logger, metrics)
	if err != nil {
		return err
	}

	backend, err := openNonceBackend(ctx, cfg.Nonce, logger, metrics)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc(backend.Close)

	callback, err := idsite.NewCallbackHandler(idsite.Config{
		Keys:           keyResolver,
		Nonces:         backend.store,
		ClockSkew:      cfg.IDSite.ClockSkew,
		Logger:         logger,
		Metrics:        metrics,
		TracerProvider: tracerProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create callback handler: %w", err)
	}
	callback.SetResultListener(auditListener())

	handlers, err := sso.NewHandlers(keyResolver, callback, sso.Options{
		ApplicationHref: cfg.IDSite.ApplicationHref,
		CallbackURI:     cfg.CallbackURI(),
		CallbackRoute:   cfg.IDSite.CallbackPath,
		LoginNextURI:    cfg.IDSite.LoginNextURI,
		RegisterNextURI: cfg.IDSite.RegisterNextURI,
		LogoutNextURI:   cfg.IDSite.LogoutNextURI,
		Organization:    sso.QueryOrganization(organizationDefaults(cfg.IDSite)),
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create SSO handlers: %w", err)
	}

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	if cfg.RateLimit.Requests > 0 {
		router.Use(newRateLimiter(ctx, cfg.RateLimit, backend, logger, metrics).Handler)
	}

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	}
	if cfg.Observability.MetricsEnabled {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(metrics))
	}

	handler := httputil.Chain(middlewares...)(router)
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "idsite.http",
			otelhttp.WithTracerProvider(providers.TracerProvider),
			otelhttp.WithMeterProvider(providers.MeterProvider),
		)
	}

	appServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(version, backend.db, backend.redis)
	checker.AddCheck("signing_key", func(ctx context.Context) error {
		key, err := keyResolver.SigningKey(ctx)
		if err != nil {
			return err
		}
		return key.Validate()
	})

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown.RegisterServer(appServer)
	shutdown.RegisterServer(healthServer)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{appServer, healthServer} {
		srv := srv
		g.Go(func() error {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	logger.WithFields(map[string]interface{}{
		"version":     version,
		"callback":    cfg.CallbackURI(),
		"nonce_store": cfg.Nonce.Type,
	}).Info("ID Site server started")

	return g.Wait()
}

// newRateLimiter shares Redis with the nonce store when there is one.
func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, backend *nonceBackend, logger *observability.Logger, metrics *observability.Metrics) *middleware.RateLimitMiddleware {
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Requests,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}

	var limiter middleware.Limiter
	if backend.redis != nil {
		limiter = middleware.NewDistributedRateLimiter(backend.redis, limits, middleware.DefaultRedisPrefix)
	} else {
		memory := middleware.NewRateLimiter(limits)
		memory.StartCleanup(ctx)
		limiter = memory
	}
	logger.WithField("limiter", limiter.Name()).Infof("Rate limiting ID Site routes to %d requests per %s", cfg.Requests, cfg.Window)
	return middleware.NewRateLimitMiddleware(limiter, logger, metrics)
}

func organizationDefaults(c config.IDSiteConfig) sso.OrganizationContext {
	org := sso.OrganizationContext{NameKey: c.OrganizationNameKey}
	if c.UseSubdomain {
		org.UseSubdomain = boolPtr(true)
	}
	if c.ShowOrganizationField {
		org.ShowOrganizationField = boolPtr(true)
	}
	return org
}

func boolPtr(b bool) *bool {
	return &b
}

// auditListener records every successful ID Site callback.
func auditListener() idsite.ResultListener {
	logResult := func(event string) func(context.Context, *idsite.AccountResult) {
		return func(ctx context.Context, result *idsite.AccountResult) {
			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"event":       event,
				"account":     result.AccountHref,
				"new_account": result.IsNewAccount,
			}).Info("ID Site callback accepted")
		}
	}
	return idsite.ListenerFuncs{
		OnRegistered:    logResult("registered"),
		OnAuthenticated: logResult("authenticated"),
		OnLogout:        logResult("logout"),
	}
}
