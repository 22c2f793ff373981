// Package resolver derives a doctor's primary branch and multi-branch flag
// from the doctor's ACTIVE associations.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

// State is the derived part of a doctor.
type State struct {
	PrimaryBranchID *uuid.UUID
	IsMultiBranch   bool
}

// Compute returns the state implied by assocs. A current primary is kept as
// long as one of its associations is ACTIVE; otherwise the branch of the
// earliest created ACTIVE association wins, ties broken by lowest branch id.
func Compute(current *uuid.UUID, assocs []*model.BranchAssociation) State {
	active := make([]*model.BranchAssociation, 0, len(assocs))
	for _, a := range assocs {
		if a.Active() {
			active = append(active, a)
		}
	}
	model.SortAssociations(active)
	branches := model.DistinctBranches(active)

	st := State{IsMultiBranch: len(branches) > 1}
	if len(branches) == 0 {
		return st
	}
	if current != nil {
		for _, b := range branches {
			if b == *current {
				id := b
				st.PrimaryBranchID = &id
				return st
			}
		}
	}
	id := branches[0]
	st.PrimaryBranchID = &id
	return st
}

func samePrimary(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type Resolver struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(m *metrics.Metrics) *Resolver {
	return &Resolver{metrics: m, now: time.Now}
}

// WithClock overrides the time source used for updated_at.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve recomputes the doctor's derived fields and persists them only if
// they changed. It returns the doctor as stored after the call.
func (r *Resolver) Resolve(ctx context.Context, q repository.Queries, doctorID uuid.UUID) (*model.Doctor, error) {
	doctor, err := q.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load doctor: %w", err)
	}

	status := model.AssociationActive
	active, err := q.ListByDoctor(ctx, doctorID, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to list active associations: %w", err)
	}

	st := Compute(doctor.PrimaryBranchID, active)
	if samePrimary(st.PrimaryBranchID, doctor.PrimaryBranchID) && st.IsMultiBranch == doctor.IsMultiBranch {
		return doctor, nil
	}

	doctor.PrimaryBranchID = st.PrimaryBranchID
	doctor.IsMultiBranch = st.IsMultiBranch
	doctor.UpdatedAt = r.now()
	if err := q.UpdateBranchState(ctx, doctor); err != nil {
		return nil, fmt.Errorf("failed to update doctor branch state: %w", err)
	}
	r.metrics.ObserveResolverWrite()
	return doctor, nil
}

// AfterMutation bumps the association version and resolves. Every operation
// that changes association rows calls it as its last step.
func (r *Resolver) AfterMutation(ctx context.Context, tx repository.Tx, doctorID uuid.UUID) (*model.Doctor, error) {
	if _, err := tx.BumpAssociationVersion(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("failed to bump association version: %w", err)
	}
	return r.Resolve(ctx, tx, doctorID)
}
