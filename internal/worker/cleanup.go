package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
)

// TransferCleaner drops transfer snapshots whose rollback window closed
// more than keep ago.
type TransferCleaner interface {
	CleanupExpired(ctx context.Context, keep time.Duration) (int64, error)
}

// OutboxCleaner drops events that were published before the cutoff.
type OutboxCleaner interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type CleanupConfig struct {
	Interval time.Duration
	// TransferGrace keeps expired snapshots around for inspection.
	TransferGrace time.Duration
	// OutboxRetention is how long published events are kept.
	OutboxRetention time.Duration
}

type CleanupWorker struct {
	transfers TransferCleaner
	outbox    OutboxCleaner
	config    CleanupConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewCleanupWorker(transfers TransferCleaner, outbox OutboxCleaner, config CleanupConfig, log *logger.Logger) *CleanupWorker {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.OutboxRetention <= 0 {
		config.OutboxRetention = 7 * 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CleanupWorker{
		transfers: transfers,
		outbox:    outbox,
		config:    config,
		logger:    log,
		now:       time.Now,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "cleanup failed")
			}
		}
	}
}

// Cleanup runs one pass over both tables. A failure in one does not skip
// the other.
func (w *CleanupWorker) Cleanup(ctx context.Context) error {
	var errs []error

	if w.transfers != nil {
		n, err := w.transfers.CleanupExpired(ctx, w.config.TransferGrace)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to clean up transfer snapshots: %w", err))
		} else if n > 0 {
			w.logger.Info("cleaned up expired transfer snapshots", "count", n)
		}
	}

	if w.outbox != nil {
		cutoff := w.now().Add(-w.config.OutboxRetention)
		n, err := w.outbox.DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to clean up outbox events: %w", err))
		} else if n > 0 {
			w.logger.Info("cleaned up published outbox events", "count", n, "before", cutoff)
		}
	}

	return errors.Join(errs...)
}
