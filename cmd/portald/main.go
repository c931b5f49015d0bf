package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/api"
	"github.com/tcangola/portal/pkg/async"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/config"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/middleware"
	"github.com/tcangola/portal/pkg/migrate"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
	"github.com/tcangola/portal/pkg/sessions"
	"github.com/tcangola/portal/pkg/storage/connect"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

var (
	migrateOnly = flag.Bool("migrate", false, "Apply database migrations and exit")
	catalogPath = flag.String("catalog", "", "Profile catalog to apply at startup (overrides PORTAL_PROFILE_CATALOG)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *catalogPath != "" {
		cfg.Permissions.CatalogPath = *catalogPath
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connect.Postgres(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := migrate.Run(ctx, db, logger, identity.Migrations(), sessions.Migrations(), rbac.Migrations()); err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}
	if *migrateOnly {
		logger.Info("migrations applied")
		db.Close()
		return
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = connect.Redis(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Info("redis connected, permission cache and sign-in limits are shared")
	}

	// Audit trail
	dbSink, err := audit.NewDBSink(db)
	if err != nil {
		logger.Fatalf("Failed to initialize auth event store: %v", err)
	}
	events := audit.NewLog(audit.NewMultiSink(dbSink, audit.NewLoggerSink(logger)), logger, metrics)

	// Permissions
	profileStore := rbac.NewStore(db, logger)
	var shared rbac.SharedCache
	if redisClient != nil {
		shared = rbac.NewRedisCache(redisClient, cfg.Permissions.RedisPrefix)
	}
	resolver := rbac.NewResolver(profileStore, rbac.ResolverConfig{
		TTL:  cfg.Permissions.CacheTTL,
		Size: cfg.Permissions.CacheSize,
	}, shared, logger, metrics)

	if cfg.Permissions.CatalogPath != "" {
		catalog, err := rbac.LoadCatalog(cfg.Permissions.CatalogPath)
		if err != nil {
			logger.Fatalf("Failed to load profile catalog: %v", err)
		}
		if err := catalog.Apply(ctx, profileStore); err != nil {
			logger.Fatalf("Failed to apply profile catalog: %v", err)
		}
		logger.WithFields(logrus.Fields{
			"path":     cfg.Permissions.CatalogPath,
			"profiles": len(catalog.Profiles),
		}).Info("profile catalog applied")
	}

	// Sessions
	sessionStore, err := sessions.NewDBStore(db)
	if err != nil {
		logger.Fatalf("Failed to initialize session store: %v", err)
	}
	sessionRegistry := sessions.NewRegistry(sessionStore, cfg.Sessions.StaleAfter, logger, metrics)

	// Identity
	users, err := identity.NewDBUserStore(db)
	if err != nil {
		logger.Fatalf("Failed to initialize user store: %v", err)
	}
	identityService, err := identity.NewService(users, identity.Config{
		JWTSecret:                []byte(cfg.Identity.JWTSecret),
		Issuer:                   cfg.Identity.Issuer,
		AccessTokenTTL:           cfg.Identity.AccessTokenTTL,
		RefreshWindow:            cfg.Identity.RefreshWindow,
		BcryptCost:               cfg.Identity.BcryptCost,
		RequireEmailConfirmation: cfg.Identity.RequireEmailConfirmation,
	}, identity.LogNotifier{Logger: logger}, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize identity service: %v", err)
	}

	queue := async.NewQueue(ctx, async.QueueConfig{
		Workers: cfg.Dispatch.Workers,
		Size:    cfg.Dispatch.QueueSize,
		Timeout: cfg.Dispatch.TaskTimeout,
	}, logger, metrics)

	signInLimits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Identity.SignInRatePerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Identity.SignInBurst,
	}
	var signInLimiter middleware.Limiter
	if redisClient != nil {
		signInLimiter = middleware.NewDistributedRateLimiter(redisClient, signInLimits, "portal:ratelimit:sign-in")
	} else {
		local := middleware.NewRateLimiter(signInLimits)
		local.StartCleanup(ctx)
		signInLimiter = local
	}

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatalf("Failed to parse trusted proxies: %v", err)
	}

	server, err := api.NewServer(api.Deps{
		Identity:       identityService,
		Sessions:       sessionRegistry,
		Resolver:       resolver,
		Profiles:       profileStore,
		Events:         events,
		Dispatcher:     queue,
		EventLog:       dbSink,
		SignInLimiter:  signInLimiter,
		TrustedProxies: trustedProxies,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	router := server.Router()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if registry != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "portal"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Shutdown functions run in reverse registration order
	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", closeDB(db))
	shutdown.Register("background", func(ctx context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	if redisClient != nil {
		shutdown.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("dispatch-queue", func(ctx context.Context) error {
		return queue.Close(cfg.Server.ShutdownTimeout)
	})

	if cfg.Sessions.EmbeddedJanitor {
		janitor, err := sessions.NewJanitor(sessionRegistry, cfg.Sessions.CleanupSchedule, logger)
		if err != nil {
			logger.Fatalf("Failed to create session janitor: %v", err)
		}
		janitor.Start()
		shutdown.Register("session-janitor", janitor.Stop)
	}

	if cfg.Permissions.CatalogPath != "" && cfg.Permissions.WatchCatalog {
		watcher := rbac.NewCatalogWatcher(cfg.Permissions.CatalogPath, profileStore, resolver, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatalf("Failed to watch profile catalog: %v", err)
		}
		shutdown.Register("catalog-watcher", func(ctx context.Context) error {
			return watcher.Close()
		})
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("starting portal server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	if err := shutdown.WaitForSignal(); err != nil {
		logger.WithError(err).Error("shutdown completed with errors")
		os.Exit(1)
	}
}

func closeDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.Close()
	}
}
