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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/doctor-branch-service/internal/app"
	"github.com/jwalitptl/doctor-branch-service/internal/config"
	"github.com/jwalitptl/doctor-branch-service/internal/handler/health"
	"github.com/jwalitptl/doctor-branch-service/internal/middleware"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	transferService "github.com/jwalitptl/doctor-branch-service/internal/service/transfer"
	"github.com/jwalitptl/doctor-branch-service/internal/worker"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	pkgworker "github.com/jwalitptl/doctor-branch-service/pkg/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yml")
	healthAddr := flag.String("health-addr", ":8081", "address for health and metrics endpoints")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Logging)
	if err := run(cfg, *healthAddr, log); err != nil {
		log.Fatal(err, "worker exited with error")
	}
}

func run(cfg *config.Config, healthAddr string, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, m := app.NewMetrics(cfg.Monitoring, "worker")

	storage, err := app.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	broker, err := app.NewBroker(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	processor, err := pkgworker.NewOutboxProcessor(storage.Outbox, broker, pkgworker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
		MaxDeliveries: cfg.Outbox.MaxDeliveries,
		ChannelPrefix: cfg.Outbox.ChannelPrefix,
	}, log.WithFields(map[string]interface{}{"component": "outbox"}), m)
	if err != nil {
		return err
	}

	// Cleanup never resolves branches or checks access.
	transfers := transferService.NewCoordinator(storage.Store, nil, access.AllowAll{}, log, m,
		transferService.WithRetention(cfg.Transfer.RollbackRetention))
	cleanup := worker.NewCleanupWorker(transfers, storage.Outbox, worker.CleanupConfig{
		Interval:        cfg.Transfer.CleanupInterval,
		TransferGrace:   cfg.Transfer.CleanupGrace,
		OutboxRetention: cfg.Outbox.Retention,
	}, log.WithFields(map[string]interface{}{"component": "cleanup"}))

	checks := map[string]health.Pinger{}
	if storage.DB != nil {
		checks["database"] = storage.DB
	}
	if p, ok := broker.(health.Pinger); ok {
		checks["redis"] = p
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(log))
	health.NewHandler(reg, checks).RegisterRoutes(engine)
	srv := &http.Server{Addr: healthAddr, Handler: engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return cleanup.Start(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
