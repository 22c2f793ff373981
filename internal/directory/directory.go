// Package directory talks to the external Branch/Address service.
package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Directory answers questions about branches owned by another service.
type Directory interface {
	Exists(ctx context.Context, branchID uuid.UUID) (bool, error)
	HasCapacity(ctx context.Context, branchID uuid.UUID) (bool, error)
}

// Static is an in-process Directory for local runs and tests. With Open set
// every branch exists; otherwise only registered ones do. Branches marked full
// report no capacity.
type Static struct {
	mu    sync.RWMutex
	Open  bool
	known map[uuid.UUID]struct{}
	full  map[uuid.UUID]struct{}
}

func NewStatic(branches ...uuid.UUID) *Static {
	s := &Static{
		known: make(map[uuid.UUID]struct{}),
		full:  make(map[uuid.UUID]struct{}),
	}
	s.Add(branches...)
	return s
}

func (s *Static) Add(branches ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range branches {
		s.known[id] = struct{}{}
	}
}

func (s *Static) SetFull(branchID uuid.UUID, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if full {
		s.full[branchID] = struct{}{}
		return
	}
	delete(s.full, branchID)
}

func (s *Static) Exists(_ context.Context, branchID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Open {
		return true, nil
	}
	_, ok := s.known[branchID]
	return ok, nil
}

func (s *Static) HasCapacity(ctx context.Context, branchID uuid.UUID) (bool, error) {
	ok, _ := s.Exists(ctx, branchID)
	if !ok {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, full := s.full[branchID]
	return !full, nil
}
