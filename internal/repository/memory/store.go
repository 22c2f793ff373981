// Package memory provides an in-process implementation of the repository
// contracts. Writes made inside WithDoctorTx are recorded in an undo log and
// reverted when the transaction function fails.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
)

type data struct {
	mu        sync.RWMutex
	doctors   map[uuid.UUID]*model.Doctor
	assocs    map[model.AssociationKey]*model.BranchAssociation
	transfers map[uuid.UUID]*model.TransferRecord
	events    []*model.OutboxEvent
}

type undoLog struct {
	steps []func()
}

func (l *undoLog) record(fn func()) {
	if l != nil {
		l.steps = append(l.steps, fn)
	}
}

func (l *undoLog) mark() int {
	return len(l.steps)
}

func (l *undoLog) rollbackTo(mark int) {
	for i := len(l.steps) - 1; i >= mark; i-- {
		l.steps[i]()
	}
	l.steps = l.steps[:mark]
}

// Store is safe for concurrent use. Reads outside a transaction may observe
// writes of transactions that have not finished yet.
type Store struct {
	queries
	locks sync.Map
}

func NewStore() *Store {
	d := &data{
		doctors:   make(map[uuid.UUID]*model.Doctor),
		assocs:    make(map[model.AssociationKey]*model.BranchAssociation),
		transfers: make(map[uuid.UUID]*model.TransferRecord),
	}
	return &Store{queries: queries{d: d}}
}

var _ repository.Store = (*Store)(nil)

type tx struct {
	queries
}

func (t *tx) Savepoint(_ context.Context, _ string, fn func() error) error {
	m := t.log.mark()
	if err := fn(); err != nil {
		t.log.rollbackTo(m)
		return err
	}
	return nil
}

func (s *Store) doctorLock(id uuid.UUID) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *Store) WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(repository.Tx, *model.Doctor) error) (err error) {
	lock := s.doctorLock(doctorID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	doctor, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}

	log := &undoLog{}
	t := &tx{queries{d: s.d, log: log}}

	defer func() {
		if p := recover(); p != nil {
			log.rollbackTo(0)
			panic(p)
		}
	}()

	if err := fn(t, doctor); err != nil {
		log.rollbackTo(0)
		return err
	}
	return nil
}

// AddDoctor seeds a doctor row. The doctor profile itself is owned elsewhere.
func (s *Store) AddDoctor(doctor *model.Doctor) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if doctor.Status == "" {
		doctor.Status = model.DoctorStatusActive
	}
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = time.Now()
		doctor.UpdatedAt = doctor.CreatedAt
	}
	s.d.doctors[doctor.ID] = doctor.Clone()
}

// Events returns a copy of every outbox event written so far.
func (s *Store) Events() []*model.OutboxEvent {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	out := make([]*model.OutboxEvent, 0, len(s.d.events))
	for _, e := range s.d.events {
		c := *e
		out = append(out, &c)
	}
	return out
}

// Associations returns a copy of every association row.
func (s *Store) Associations() []*model.BranchAssociation {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	out := make([]*model.BranchAssociation, 0, len(s.d.assocs))
	for _, a := range s.d.assocs {
		out = append(out, a.Clone())
	}
	model.SortAssociations(out)
	return out
}
