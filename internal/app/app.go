// Package app wires the pieces shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/doctor-branch-service/internal/config"
	"github.com/jwalitptl/doctor-branch-service/internal/directory"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/memory"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/postgres"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/messaging"
	"github.com/jwalitptl/doctor-branch-service/pkg/messaging/redis"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

// Storage is the store plus the outbox view the worker consumes.
type Storage struct {
	Store  repository.Store
	Outbox repository.OutboxRepository
	// DB is nil for the in-memory driver.
	DB *sqlx.DB
}

func (s *Storage) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
}

// NewMetrics registers service metrics on a fresh registry along with the
// Go runtime and process collectors.
func NewMetrics(cfg config.MonitoringConfig, subsystem string) (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewMetrics(reg, cfg.Namespace, subsystem)
}

func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Storage, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		store := memory.NewStore()
		return &Storage{Store: store, Outbox: store}, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(db, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database migrations applied", "source", cfg.MigrationsPath)
	}

	store := postgres.NewStore(db)
	return &Storage{
		Store:  store,
		Outbox: postgres.NewOutboxRepository(store.BaseRepository),
		DB:     db,
	}, nil
}

// NewDirectory returns the HTTP branch directory behind retries, a breaker
// and a cache, or a static directory when no base URL is configured.
func NewDirectory(cfg config.DirectoryConfig, log *logger.Logger, m *metrics.Metrics) (directory.Directory, error) {
	if cfg.BaseURL == "" {
		ids := make([]uuid.UUID, 0, len(cfg.StaticBranches))
		for _, raw := range cfg.StaticBranches {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid static branch id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		log.Warn("using static branch directory", "branches", len(ids))
		return directory.NewStatic(ids...), nil
	}

	client := directory.NewClient(cfg.BaseURL, cfg.Token, &http.Client{})
	return directory.NewResilient(client, directory.Options{
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		InitialBackoff:  cfg.InitialBackoff,
		MaxBackoff:      cfg.MaxBackoff,
		CacheTTL:        cfg.CacheTTL,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}, log, m), nil
}

// NewBroker connects to Redis, or falls back to an in-process broker when
// Redis is disabled.
func NewBroker(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (messaging.Broker, error) {
	if !cfg.Enabled {
		log.Warn("redis disabled; outbox events are published in-process only")
		return messaging.NewMemoryBroker(0), nil
	}
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:             cfg.URL,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return broker, nil
}
