package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	api "github.com/mind-engage/mindengage-testsync/internal/api/http"
	auth "github.com/mind-engage/mindengage-testsync/internal/auth/middleware"
	"github.com/mind-engage/mindengage-testsync/internal/config"
	"github.com/mind-engage/mindengage-testsync/internal/db"
	"github.com/mind-engage/mindengage-testsync/internal/exam"
	"github.com/mind-engage/mindengage-testsync/internal/logging"
	"github.com/mind-engage/mindengage-testsync/internal/metrics"
	"github.com/mind-engage/mindengage-testsync/internal/rbac"
	"github.com/mind-engage/mindengage-testsync/internal/source"
	syncx "github.com/mind-engage/mindengage-testsync/internal/sync"
)

func main() {
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintln(os.Stderr, "syncd:", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		Service:     "testsync",
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- relational store ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer dbh.Close()
	store := exam.NewSQLStore(dbh, string(driver))
	runs := syncx.NewRunLog(dbh)

	// --- document store ---
	mc, err := source.Connect(ctx, source.Config{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		Collection:     cfg.MongoCollection,
		ConnectTimeout: cfg.MongoTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Close(closeCtx); err != nil {
			log.Warn("mongo disconnect", zap.Error(err))
		}
	}()

	mx := metrics.NewCollector(cfg.MetricsPrefix)
	concurrency := cfg.SyncConcurrency
	if concurrency == 0 {
		concurrency = db.MaxOpenConns(driver)
	}
	src := source.NewGuardedReader(source.NewReader(mc.Collection()), source.BreakerConfig{
		FailureThreshold: cfg.MongoBreakerFailures,
		OpenTimeout:      cfg.MongoBreakerTimeout,
	}, log)
	syncer := syncx.New(src, store, log, syncx.Options{
		Concurrency: concurrency,
		Metrics:     mx,
		Runs:        runs,
	})
	pass := &syncx.Pass{
		CourseDir: cfg.CourseDir,
		CourseID:  cfg.CourseID,
		Courses:   syncx.CourseSyncer{Store: store, Logger: log},
		Instances: syncer,
	}

	if once {
		rep, err := pass.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("sync pass done",
			zap.String("run_id", rep.RunID),
			zap.Int("synced", rep.Synced()),
			zap.Int("skipped", rep.Skipped()))
		return nil
	}

	r := api.NewRouter(api.Deps{
		Pass:    pass,
		Runs:    runs,
		Store:   store,
		Auth:    auth.NewAuthService(cfg.AuthHMACSecret),
		Metrics: mx.Handler(),
		Logger:  log,
		Accounts: []auth.Account{
			{Username: cfg.AdminUser, PassHash: cfg.AdminPassHash, Role: rbac.RoleAdmin},
			{Username: cfg.ViewerUser, PassHash: cfg.ViewerPassHash, Role: rbac.RoleViewer},
		},
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", string(driver)),
			zap.Int("sync_concurrency", concurrency))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
