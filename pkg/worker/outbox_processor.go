package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/messaging"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is the number of publish attempts per claim.
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxDeliveries is how many claims an event gets before it is parked as FAILED.
	MaxDeliveries int
	// ChannelPrefix is prepended to the event type to form the channel name.
	ChannelPrefix string
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("outbox batch size must be greater than 0")
	case c.PollInterval <= 0:
		return fmt.Errorf("outbox poll interval must be greater than 0")
	case c.RetryAttempts <= 0:
		return fmt.Errorf("outbox retry attempts must be greater than 0")
	case c.RetryDelay <= 0:
		return fmt.Errorf("outbox retry delay must be greater than 0")
	case c.MaxDeliveries <= 0:
		return fmt.Errorf("outbox max deliveries must be greater than 0")
	}
	return nil
}

// OutboxProcessor publishes events written by association mutations.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  log,
		metrics: m,
	}, nil
}

// Start polls until ctx is done.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch claims up to BatchSize pending events and publishes them,
// returning how many were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	start := time.Now()
	msg := messaging.Message{
		ID:          event.ID,
		Type:        event.EventType,
		AggregateID: event.AggregateID,
		Payload:     event.Payload,
		OccurredAt:  event.CreatedAt,
	}
	channel := messaging.Channel(p.config.ChannelPrefix, event.EventType)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(p.config.RetryAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		return p.broker.Publish(ctx, channel, msg)
	}, policy)
	p.metrics.ObserveOutbox(event.EventType, err, time.Since(start))

	if err != nil {
		retry := event.RetryCount+1 < p.config.MaxDeliveries
		if markErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), retry); markErr != nil {
			p.logger.Error(markErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}
	return nil
}
