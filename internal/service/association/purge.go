package association

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/internal/service/doctortx"
	"github.com/jwalitptl/doctor-branch-service/internal/service/event"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

// maxPurgePasses bounds how often PurgeBranch re-scans for rows added while
// it was running.
const maxPurgePasses = 3

// PurgeDoctor physically deletes every association of a doctor that is being
// removed permanently. The doctor ends with no primary branch.
func (s *Service) PurgeDoctor(ctx context.Context, doctorID uuid.UUID) (deleted int64, err error) {
	defer func() { s.metrics.ObserveMutation("purge_doctor", err) }()

	err = doctortx.Run(ctx, s.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		n, err := tx.HardDeleteByDoctor(ctx, doctorID)
		if err != nil {
			return fmt.Errorf("failed to delete associations: %w", err)
		}
		deleted = n
		if _, err := s.resolver.AfterMutation(ctx, tx, doctorID); err != nil {
			return err
		}
		id := doctorID
		return s.events.Emit(ctx, tx, model.EventAssociationsPurged, doctorID, event.AssociationsPurged{
			DoctorID:   &id,
			Deleted:    n,
			Actor:      access.ActorFrom(ctx).ID,
			OccurredAt: s.now(),
		})
	})
	if err != nil {
		return 0, err
	}

	s.logger.Warn("doctor associations purged", "doctor_id", doctorID.String(), "deleted", deleted)
	return deleted, nil
}

// PurgeBranch removes a branch that no longer exists. Every doctor with a
// row at the branch, in any status, is purged in its own doctor transaction:
// the rows go, the association version moves and the primary is resolved
// before commit. Doctors that disappeared meanwhile are skipped.
func (s *Service) PurgeBranch(ctx context.Context, branchID uuid.UUID) (deleted int64, err error) {
	defer func() { s.metrics.ObserveMutation("purge_branch", err) }()

	for pass := 0; pass < maxPurgePasses; pass++ {
		rows, err := s.store.ListByBranch(ctx, branchID, nil)
		if err != nil {
			return deleted, fmt.Errorf("failed to list branch associations: %w", err)
		}
		var progressed bool
		for _, doctorID := range distinctDoctors(rows) {
			n, err := s.purgeDoctorBranch(ctx, doctorID, branchID)
			if errors.Is(err, apperrors.ErrDoctorNotFound) {
				continue
			}
			if err != nil {
				return deleted, err
			}
			deleted += n
			progressed = progressed || n > 0
		}
		if !progressed {
			s.logger.Warn("branch associations purged", "branch_id", branchID.String(), "deleted", deleted)
			return deleted, nil
		}
	}

	return deleted, apperrors.Wrapf(apperrors.ErrPurgeIncomplete,
		"branch %s gained associations during %d passes; retry", branchID, maxPurgePasses)
}

func (s *Service) purgeDoctorBranch(ctx context.Context, doctorID, branchID uuid.UUID) (deleted int64, err error) {
	err = doctortx.Run(ctx, s.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		n, err := tx.HardDeleteDoctorBranch(ctx, doctorID, branchID)
		if err != nil {
			return fmt.Errorf("failed to delete branch associations: %w", err)
		}
		if n == 0 {
			return nil
		}
		deleted = n
		if _, err := s.resolver.AfterMutation(ctx, tx, doctorID); err != nil {
			return err
		}
		did, bid := doctorID, branchID
		return s.events.Emit(ctx, tx, model.EventAssociationsPurged, doctorID, event.AssociationsPurged{
			DoctorID:   &did,
			BranchID:   &bid,
			Deleted:    n,
			Actor:      access.ActorFrom(ctx).ID,
			OccurredAt: s.now(),
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func distinctDoctors(rows []*model.BranchAssociation) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.DoctorID]; ok {
			continue
		}
		seen[r.DoctorID] = struct{}{}
		out = append(out, r.DoctorID)
	}
	return out
}
