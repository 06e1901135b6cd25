package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/cache"
	"github.com/ice-blockpad/buzznob-sub000/pkg/config"
	"github.com/ice-blockpad/buzznob-sub000/pkg/database"
	"github.com/ice-blockpad/buzznob-sub000/pkg/invalidation"
	"github.com/ice-blockpad/buzznob-sub000/pkg/keyvalue"
	"github.com/ice-blockpad/buzznob-sub000/pkg/lock"
	"github.com/ice-blockpad/buzznob-sub000/pkg/scheduler"
	"github.com/ice-blockpad/buzznob-sub000/pkg/server"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Backing key-value store and cache façade
	store := keyvalue.NewStore(keyvalue.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	facade := cache.New(store, logger, cfg.Cache.DefaultTTL)

	// Lock table lives in the shared relational database
	db, err := database.NewDB(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, &lock.Lease{})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	leases := lock.NewStore(db.DB)
	locks := lock.NewService(leases, logger)
	logger.WithField("holder_id", locks.HolderID()).Info("Process holder identity assigned")

	// Invalidation routes. Entity refresh routes (profile, wallet,
	// referral) are registered by the domain layer that owns the fetch
	// callbacks; the worker only wires the listing fan-outs.
	invalidations := invalidation.NewRouter(facade, logger)
	registerListingRoutes(invalidations, logger)

	// Scheduled tasks: schedules come from config, bodies are bound
	// here by name.
	runner := scheduler.NewRunner(locks, logger)
	bodies := map[string]scheduler.TaskFunc{
		"lease_audit": leaseAudit(leases, logger),
	}
	if err := runner.RegisterFromConfig(cfg.Scheduler.Tasks, bodies); err != nil {
		log.Fatalf("Failed to register scheduled tasks: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
	defer runner.Stop()

	srv := server.NewAdminServer(&cfg.Server, store, facade, invalidations, leases, db, logger)
	go func() {
		if err := srv.Run(); err != nil {
			logger.WithError(err).Fatal("Admin server exited")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
}

// registerListingRoutes wires the pattern-only invalidation routes for
// the paginated listing caches. These have no refresh callback: pages
// are rebuilt lazily by GetOrSet on the next read.
func registerListingRoutes(router *invalidation.Router, logger *logrus.Logger) {
	listings := map[string]string{
		"article_published": "article",
		"reward_granted":    "reward",
		"referral_recorded": "referral",
	}
	for event, resource := range listings {
		resource := resource
		err := router.Register(event, func(invalidation.Args) ([]invalidation.Refresh, []string) {
			return nil, []string{cache.ListPattern(resource)}
		})
		if err != nil {
			logger.WithError(err).WithField("event", event).Fatal("Failed to register invalidation route")
		}
	}
}

// leaseAudit logs lease rows that outlived their expiry without being
// reaped. Expiry is reaped lazily by acquirers, so lingering rows are
// normal; a large count means a task name stopped being scheduled.
func leaseAudit(leases *lock.Store, logger *logrus.Logger) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		rows, err := leases.List(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		expired := 0
		for _, lease := range rows {
			if lease.Expired(now) {
				expired++
			}
		}
		logger.WithFields(logrus.Fields{
			"leases":  len(rows),
			"expired": expired,
		}).Info("Lease audit completed")
		return nil
	}
}
