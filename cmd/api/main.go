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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/doctor-branch-service/internal/app"
	"github.com/jwalitptl/doctor-branch-service/internal/config"
	associationHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/association"
	"github.com/jwalitptl/doctor-branch-service/internal/handler/health"
	softdeleteHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/softdelete"
	transferHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/transfer"
	"github.com/jwalitptl/doctor-branch-service/internal/middleware"
	"github.com/jwalitptl/doctor-branch-service/internal/router"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	associationService "github.com/jwalitptl/doctor-branch-service/internal/service/association"
	softdeleteService "github.com/jwalitptl/doctor-branch-service/internal/service/softdelete"
	transferService "github.com/jwalitptl/doctor-branch-service/internal/service/transfer"
	"github.com/jwalitptl/doctor-branch-service/pkg/auth"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/validator"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.Fatal(err, "api exited with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := validator.RegisterGin(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	reg, m := app.NewMetrics(cfg.Monitoring, "api")

	storage, err := app.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	dir, err := app.NewDirectory(cfg.Directory, log, m)
	if err != nil {
		return err
	}

	// Services
	associations := associationService.NewService(storage.Store, dir, log, m)
	branchStatus := softdeleteService.NewCoordinator(storage.Store, log, m)
	transfers := transferService.NewCoordinator(storage.Store, dir, access.NewClaimsAuthorizer(), log, m,
		transferService.WithRetention(cfg.Transfer.RollbackRetention))

	// Handlers
	checks := map[string]health.Pinger{}
	if storage.DB != nil {
		checks["database"] = storage.DB
	}
	ah := associationHandler.NewHandler(associations)

	routerConfig := router.RouterConfig{
		CORSConfig: middleware.CORSConfig{
			AllowOrigins: cfg.Security.AllowedOrigins,
			AllowMethods: cfg.Security.AllowedMethods,
			AllowHeaders: cfg.Security.AllowedHeaders,
		},
		MaxBodySize: cfg.Server.MaxBodyBytes,
		Mode:        cfg.Server.Mode,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerConfig.RateBurst = cfg.RateLimit.Burst
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer)),
		router.Handlers{
			Health: health.NewHandler(reg, checks),
			API: []router.Handler{
				ah,
				softdeleteHandler.NewHandler(branchStatus),
				transferHandler.NewHandler(transfers),
			},
			Admin: []router.AdminHandler{ah},
		},
		log, m, routerConfig,
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited properly")
	return nil
}
