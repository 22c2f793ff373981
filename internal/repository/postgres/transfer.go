package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

const transferColumns = `id, rollback_id, doctor_id, source_branch_id, target_branch_id, transfer_type, status,
	reason, requested_by, snapshot, association_version, created_at, expires_at, rolled_back_at`

func (r *queries) CreateTransfer(ctx context.Context, rec *model.TransferRecord) error {
	query := `
		INSERT INTO doctor_transfers (
			id, rollback_id, doctor_id, source_branch_id, target_branch_id, transfer_type, status,
			reason, requested_by, snapshot, association_version, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`
	_, err := r.q.ExecContext(ctx, query,
		rec.ID,
		rec.RollbackID,
		rec.DoctorID,
		rec.SourceBranchID,
		rec.TargetBranchID,
		rec.TransferType,
		rec.Status,
		rec.Reason,
		rec.RequestedBy,
		rec.Snapshot,
		rec.AssociationVersion,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

func (r *queries) GetTransfer(ctx context.Context, id uuid.UUID) (*model.TransferRecord, error) {
	var rec model.TransferRecord
	if err := sqlx.GetContext(ctx, r.q, &rec, `SELECT `+transferColumns+` FROM doctor_transfers WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *queries) GetTransferByRollbackID(ctx context.Context, rollbackID uuid.UUID) (*model.TransferRecord, error) {
	var rec model.TransferRecord
	if err := sqlx.GetContext(ctx, r.q, &rec, `SELECT `+transferColumns+` FROM doctor_transfers WHERE rollback_id = $1`, rollbackID); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *queries) MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE doctor_transfers SET status = $1, rolled_back_at = $2 WHERE id = $3`,
		model.TransferRolledBack, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark transfer rolled back: %w", err)
	}
	return requireRow(res)
}

func (r *queries) DeleteExpiredTransfers(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM doctor_transfers WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired transfers: %w", err)
	}
	return res.RowsAffected()
}
