package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
)

// queries implements repository.Queries. log is nil outside a transaction.
type queries struct {
	d   *data
	log *undoLog
}

func (q *queries) restoreAssoc(key model.AssociationKey, prev *model.BranchAssociation) func() {
	return func() {
		q.d.mu.Lock()
		defer q.d.mu.Unlock()
		if prev == nil {
			delete(q.d.assocs, key)
			return
		}
		q.d.assocs[key] = prev
	}
}

func (q *queries) restoreDoctor(id uuid.UUID, prev *model.Doctor) func() {
	return func() {
		q.d.mu.Lock()
		defer q.d.mu.Unlock()
		q.d.doctors[id] = prev
	}
}

func (q *queries) Get(_ context.Context, key model.AssociationKey) (*model.BranchAssociation, error) {
	q.d.mu.RLock()
	defer q.d.mu.RUnlock()
	a, ok := q.d.assocs[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (q *queries) list(match func(*model.BranchAssociation) bool) []*model.BranchAssociation {
	q.d.mu.RLock()
	defer q.d.mu.RUnlock()
	out := make([]*model.BranchAssociation, 0)
	for _, a := range q.d.assocs {
		if match(a) {
			out = append(out, a.Clone())
		}
	}
	model.SortAssociations(out)
	return out
}

func (q *queries) ListByDoctor(_ context.Context, doctorID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error) {
	return q.list(func(a *model.BranchAssociation) bool {
		return a.DoctorID == doctorID && (status == nil || a.Status == *status)
	}), nil
}

func (q *queries) ListByBranch(_ context.Context, branchID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error) {
	return q.list(func(a *model.BranchAssociation) bool {
		return a.BranchID == branchID && (status == nil || a.Status == *status)
	}), nil
}

func (q *queries) Upsert(_ context.Context, assoc *model.BranchAssociation) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	key := assoc.AssociationKey
	prev := q.d.assocs[key]
	next := assoc.Clone()
	if prev != nil {
		next.CreatedAt = prev.CreatedAt
	}
	q.d.assocs[key] = next
	q.log.record(q.restoreAssoc(key, prev))
	return nil
}

func applyStatus(a *model.BranchAssociation, status model.AssociationStatus, reason *string, at time.Time) *model.BranchAssociation {
	next := a.Clone()
	next.Status = status
	next.UpdatedAt = at
	if status == model.AssociationInactive {
		t := at
		next.DeactivatedAt = &t
		next.DeactivationReason = reason
	} else {
		next.DeactivatedAt = nil
		next.DeactivationReason = nil
	}
	return next
}

func (q *queries) SetStatus(_ context.Context, key model.AssociationKey, status model.AssociationStatus, reason *string, at time.Time) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	prev, ok := q.d.assocs[key]
	if !ok {
		return repository.ErrNotFound
	}
	q.d.assocs[key] = applyStatus(prev, status, reason, at)
	q.log.record(q.restoreAssoc(key, prev))
	return nil
}

func (q *queries) SetStatusBulk(_ context.Context, doctorID uuid.UUID, branchIDs []uuid.UUID, status model.AssociationStatus, reason *string, at time.Time) (int64, error) {
	branches := make(map[uuid.UUID]struct{}, len(branchIDs))
	for _, id := range branchIDs {
		branches[id] = struct{}{}
	}

	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	var n int64
	for key, prev := range q.d.assocs {
		if key.DoctorID != doctorID || prev.Status == status {
			continue
		}
		if _, ok := branches[key.BranchID]; !ok {
			continue
		}
		q.d.assocs[key] = applyStatus(prev, status, reason, at)
		q.log.record(q.restoreAssoc(key, prev))
		n++
	}
	return n, nil
}

func (q *queries) hardDelete(match func(model.AssociationKey) bool) int64 {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	var n int64
	for key, prev := range q.d.assocs {
		if !match(key) {
			continue
		}
		delete(q.d.assocs, key)
		q.log.record(q.restoreAssoc(key, prev))
		n++
	}
	return n
}

func (q *queries) HardDeleteByDoctor(_ context.Context, doctorID uuid.UUID) (int64, error) {
	return q.hardDelete(func(k model.AssociationKey) bool { return k.DoctorID == doctorID }), nil
}

func (q *queries) HardDeleteDoctorBranch(_ context.Context, doctorID, branchID uuid.UUID) (int64, error) {
	return q.hardDelete(func(k model.AssociationKey) bool {
		return k.DoctorID == doctorID && k.BranchID == branchID
	}), nil
}

func (q *queries) GetDoctor(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	q.d.mu.RLock()
	defer q.d.mu.RUnlock()
	d, ok := q.d.doctors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d.Clone(), nil
}

func (q *queries) mutateDoctor(id uuid.UUID, fn func(*model.Doctor)) (*model.Doctor, error) {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	prev, ok := q.d.doctors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := prev.Clone()
	fn(next)
	q.d.doctors[id] = next
	q.log.record(q.restoreDoctor(id, prev))
	return next.Clone(), nil
}

func (q *queries) UpdateBranchState(_ context.Context, doctor *model.Doctor) error {
	_, err := q.mutateDoctor(doctor.ID, func(d *model.Doctor) {
		d.PrimaryBranchID = doctor.Clone().PrimaryBranchID
		d.IsMultiBranch = doctor.IsMultiBranch
		d.UpdatedAt = doctor.UpdatedAt
	})
	return err
}

func (q *queries) UpdateDoctorStatus(_ context.Context, id uuid.UUID, status model.DoctorStatus, at time.Time) error {
	_, err := q.mutateDoctor(id, func(d *model.Doctor) {
		d.Status = status
		d.UpdatedAt = at
	})
	return err
}

func (q *queries) BumpAssociationVersion(_ context.Context, id uuid.UUID) (int64, error) {
	d, err := q.mutateDoctor(id, func(d *model.Doctor) {
		d.AssociationVersion++
	})
	if err != nil {
		return 0, err
	}
	return d.AssociationVersion, nil
}

func (q *queries) CreateTransfer(_ context.Context, rec *model.TransferRecord) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	q.d.transfers[rec.ID] = rec.Clone()
	id := rec.ID
	q.log.record(func() {
		q.d.mu.Lock()
		defer q.d.mu.Unlock()
		delete(q.d.transfers, id)
	})
	return nil
}

func (q *queries) GetTransfer(_ context.Context, id uuid.UUID) (*model.TransferRecord, error) {
	q.d.mu.RLock()
	defer q.d.mu.RUnlock()
	rec, ok := q.d.transfers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (q *queries) GetTransferByRollbackID(_ context.Context, rollbackID uuid.UUID) (*model.TransferRecord, error) {
	q.d.mu.RLock()
	defer q.d.mu.RUnlock()
	for _, rec := range q.d.transfers {
		if rec.RollbackID == rollbackID {
			return rec.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *queries) MarkRolledBack(_ context.Context, id uuid.UUID, at time.Time) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	prev, ok := q.d.transfers[id]
	if !ok {
		return repository.ErrNotFound
	}
	next := prev.Clone()
	next.Status = model.TransferRolledBack
	t := at
	next.RolledBackAt = &t
	q.d.transfers[id] = next
	q.log.record(func() {
		q.d.mu.Lock()
		defer q.d.mu.Unlock()
		q.d.transfers[id] = prev
	})
	return nil
}

func (q *queries) DeleteExpiredTransfers(_ context.Context, before time.Time) (int64, error) {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	var n int64
	for id, rec := range q.d.transfers {
		if rec.ExpiresAt.Before(before) {
			delete(q.d.transfers, id)
			n++
		}
	}
	return n, nil
}

func (q *queries) CreateEvent(_ context.Context, event *model.OutboxEvent) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	e := *event
	q.d.events = append(q.d.events, &e)
	id := e.ID
	q.log.record(func() {
		q.d.mu.Lock()
		defer q.d.mu.Unlock()
		for i, ev := range q.d.events {
			if ev.ID == id {
				q.d.events = append(q.d.events[:i], q.d.events[i+1:]...)
				return
			}
		}
	})
	return nil
}
