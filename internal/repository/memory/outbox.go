package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
)

var _ repository.OutboxRepository = (*Store)(nil)

func (s *Store) ClaimPending(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	out := make([]*model.OutboxEvent, 0, limit)
	for _, e := range s.d.events {
		if len(out) >= limit {
			break
		}
		if e.Status != model.OutboxStatusPending {
			continue
		}
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = time.Now()
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) findEvent(id uuid.UUID) (*model.OutboxEvent, error) {
	for _, e := range s.d.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) MarkProcessed(_ context.Context, id uuid.UUID) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	e, err := s.findEvent(id)
	if err != nil {
		return err
	}
	now := time.Now()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retry bool) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	e, err := s.findEvent(id)
	if err != nil {
		return err
	}
	e.ErrorMessage = &errMsg
	e.RetryCount++
	e.UpdatedAt = time.Now()
	if retry {
		e.Status = model.OutboxStatusPending
	} else {
		e.Status = model.OutboxStatusFailed
	}
	return nil
}

func (s *Store) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	kept := s.d.events[:0]
	var n int64
	for _, e := range s.d.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.d.events = kept
	return n, nil
}
