package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/config"
	"github.com/tcangola/portal/pkg/migrate"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/sessions"
	"github.com/tcangola/portal/pkg/storage/connect"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for stale session cleanup (default: PORTAL_SESSION_CLEANUP_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run cleanup once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadJanitorConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Sessions.CleanupSchedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	ctx := context.Background()

	db, err := connect.Postgres(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migrate.Run(ctx, db, logger, sessions.Migrations()); err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}

	store, err := sessions.NewDBStore(db)
	if err != nil {
		logger.Fatalf("Failed to initialize session store: %v", err)
	}
	registry := sessions.NewRegistry(store, cfg.Sessions.StaleAfter, logger, nil)

	janitor, err := sessions.NewJanitor(registry, cfg.Sessions.CleanupSchedule, logger)
	if err != nil {
		logger.Fatalf("Failed to create janitor: %v", err)
	}

	// Run once mode (cron jobs, manual cleanup)
	if *runOnce {
		affected := registry.CleanupInactive(ctx)
		logger.WithField("deactivated", affected).Info("cleanup complete")
		return
	}

	janitor.Start()
	logger.WithFields(logrus.Fields{
		"schedule":    cfg.Sessions.CleanupSchedule,
		"stale_after": cfg.Sessions.StaleAfter.String(),
	}).Info("session janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down session janitor")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := janitor.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("janitor did not stop cleanly")
	}
}
