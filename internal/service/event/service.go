// Package event records domain events in the transactional outbox. Events
// are written through the caller's transaction so they commit or vanish
// together with the change they describe.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
)

type Recorder struct {
	now func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// WithClock overrides the time source for created_at.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Emit writes a PENDING outbox event for aggregateID.
func (r *Recorder) Emit(ctx context.Context, w repository.OutboxWriter, eventType string, aggregateID uuid.UUID, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := r.now()
	event := &model.OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payloadJSON,
		Status:      model.OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}
