package transfer

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

const rollbackReason = "transfer rolled back"

// Rollback restores the associations and primary branch captured by a
// successful transfer. It is refused once the window has expired, after a
// previous rollback, or when any other association change happened to the
// doctor since the transfer.
func (c *Coordinator) Rollback(ctx context.Context, rollbackID uuid.UUID) (result *model.RollbackResult, err error) {
	defer func() { c.metrics.ObserveRollback(err) }()

	rec, err := c.store.GetTransferByRollbackID(ctx, rollbackID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Wrapf(apperrors.ErrTransferNotFound, "no transfer for rollback id %s", rollbackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	if err := c.checkAccess(ctx, rec.SourceBranchID, rec.TargetBranchID); err != nil {
		return nil, err
	}

	err = doctortx.Run(ctx, c.store, rec.DoctorID, func(tx repository.Tx, doctor *model.Doctor) error {
		// Re-read under the doctor lock so concurrent rollbacks serialize.
		rec, err := tx.GetTransfer(ctx, rec.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Wrapf(apperrors.ErrTransferNotFound, "no transfer for rollback id %s", rollbackID)
		}
		if err != nil {
			return fmt.Errorf("failed to get transfer: %w", err)
		}
		if err := c.rollbackAllowed(rec, doctor); err != nil {
			return err
		}

		now := c.now()
		reason := rollbackReason
		for _, e := range rec.Snapshot.Entries {
			if err := c.restore(ctx, tx, e, &reason); err != nil {
				return err
			}
		}

		doctor.PrimaryBranchID = rec.Snapshot.PrimaryBranchID
		doctor.IsMultiBranch = rec.Snapshot.IsMultiBranch
		doctor.UpdatedAt = now
		if err := tx.UpdateBranchState(ctx, doctor); err != nil {
			return fmt.Errorf("failed to restore primary branch: %w", err)
		}
		updated, err := c.resolver.AfterMutation(ctx, tx, rec.DoctorID)
		if err != nil {
			return err
		}
		if err := tx.MarkRolledBack(ctx, rec.ID, now); err != nil {
			return fmt.Errorf("failed to mark transfer rolled back: %w", err)
		}

		status := model.AssociationActive
		active, err := tx.ListByDoctor(ctx, rec.DoctorID, &status)
		if err != nil {
			return fmt.Errorf("failed to list associations: %w", err)
		}
		result = &model.RollbackResult{
			RollbackID:           rollbackID,
			TransferID:           rec.ID,
			DoctorID:             rec.DoctorID,
			Status:               model.TransferRolledBack,
			RestoredAssociations: len(rec.Snapshot.Entries),
			PrimaryBranchID:      updated.PrimaryBranchID,
			IsMultiBranch:        updated.IsMultiBranch,
			BranchAssignments:    model.BuildAssignments(updated, active),
		}

		return c.events.Emit(ctx, tx, model.EventTransferRolledBack, rec.DoctorID, event.TransferRolledBack{
			TransferID: rec.ID,
			RollbackID: rollbackID,
			DoctorID:   rec.DoctorID,
			Restored:   result.RestoredAssociations,
			Actor:      access.ActorFrom(ctx).ID,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("transfer rolled back",
		"transfer_id", result.TransferID.String(),
		"rollback_id", rollbackID.String(),
		"doctor_id", result.DoctorID.String(),
		"restored", result.RestoredAssociations)
	return result, nil
}

func (c *Coordinator) rollbackAllowed(rec *model.TransferRecord, doctor *model.Doctor) error {
	if rec.Status != model.TransferSuccess || !rec.Status.CanTransition(model.TransferRolledBack) {
		return apperrors.Wrapf(apperrors.ErrRollbackUnavailable, "transfer %s is %s", rec.ID, rec.Status)
	}
	if !c.now().Before(rec.ExpiresAt) {
		return apperrors.Wrapf(apperrors.ErrRollbackUnavailable, "rollback window for transfer %s closed at %s", rec.ID, rec.ExpiresAt)
	}
	if doctor.AssociationVersion != rec.AssociationVersion {
		return apperrors.Wrapf(apperrors.ErrRollbackUnavailable, "associations of doctor %s changed since transfer %s", doctor.ID, rec.ID)
	}
	return nil
}

// restore puts one association key back to its pre-transfer state. Keys the
// transfer created are left INACTIVE.
func (c *Coordinator) restore(ctx context.Context, tx repository.Tx, e model.SnapshotEntry, reason *string) error {
	status := model.AssociationInactive
	if e.Existed {
		status = e.Status
	}
	var why *string
	if status == model.AssociationInactive {
		why = reason
	}

	now := c.now()
	err := tx.SetStatus(ctx, e.Key, status, why, now)
	if errors.Is(err, repository.ErrNotFound) {
		if !e.Existed {
			return nil
		}
		assoc := &model.BranchAssociation{
			AssociationKey: e.Key,
			Status:         status,
			Timestamps:     model.Timestamps{CreatedAt: now, UpdatedAt: now},
		}
		if status == model.AssociationInactive {
			assoc.DeactivationReason = why
			assoc.DeactivatedAt = &now
		}
		err = tx.Upsert(ctx, assoc)
	}
	if err != nil {
		return fmt.Errorf("failed to restore association %s: %w", e.Key, err)
	}
	return nil
}
