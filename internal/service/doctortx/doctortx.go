// Package doctortx runs service work inside a doctor-scoped transaction.
package doctortx

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

// Run calls fn inside store.WithDoctorTx. A missing doctor is reported as
// ErrDoctorNotFound; errors returned by fn pass through untouched.
func Run(ctx context.Context, store repository.Store, doctorID uuid.UUID, fn func(repository.Tx, *model.Doctor) error) error {
	entered := false
	err := store.WithDoctorTx(ctx, doctorID, func(tx repository.Tx, doctor *model.Doctor) error {
		entered = true
		return fn(tx, doctor)
	})
	if err != nil && !entered && errors.Is(err, repository.ErrNotFound) {
		return apperrors.Wrapf(apperrors.ErrDoctorNotFound, "doctor %s", doctorID)
	}
	return err
}

// LoadDoctor reads a doctor outside a transaction.
func LoadDoctor(ctx context.Context, q repository.DoctorStore, doctorID uuid.UUID) (*model.Doctor, error) {
	doctor, err := q.GetDoctor(ctx, doctorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Wrapf(apperrors.ErrDoctorNotFound, "doctor %s", doctorID)
	}
	return doctor, err
}

// BranchCounts returns the distinct ACTIVE and total branch counts of assocs.
func BranchCounts(assocs []*model.BranchAssociation) (active, total int) {
	activeSet := make(map[uuid.UUID]struct{})
	allSet := make(map[uuid.UUID]struct{})
	for _, a := range assocs {
		allSet[a.BranchID] = struct{}{}
		if a.Active() {
			activeSet[a.BranchID] = struct{}{}
		}
	}
	return len(activeSet), len(allSet)
}
