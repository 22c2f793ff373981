package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

const associationColumns = `doctor_id, branch_id, practice_role, status, deactivation_reason, deactivated_at, created_at, updated_at`

func (r *queries) Get(ctx context.Context, key model.AssociationKey) (*model.BranchAssociation, error) {
	query := `SELECT ` + associationColumns + `
		FROM doctor_branch_associations
		WHERE doctor_id = $1 AND branch_id = $2 AND practice_role = $3`

	var assoc model.BranchAssociation
	if err := sqlx.GetContext(ctx, r.q, &assoc, query, key.DoctorID, key.BranchID, key.Role); err != nil {
		return nil, notFound(err)
	}
	return &assoc, nil
}

func (r *queries) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error) {
	query := `SELECT ` + associationColumns + `
		FROM doctor_branch_associations
		WHERE doctor_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at, branch_id::text, practice_role`

	assocs := []*model.BranchAssociation{}
	if err := sqlx.SelectContext(ctx, r.q, &assocs, query, doctorID, status); err != nil {
		return nil, fmt.Errorf("failed to list doctor associations: %w", err)
	}
	return assocs, nil
}

func (r *queries) ListByBranch(ctx context.Context, branchID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error) {
	query := `SELECT ` + associationColumns + `
		FROM doctor_branch_associations
		WHERE branch_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at, doctor_id::text, practice_role`

	assocs := []*model.BranchAssociation{}
	if err := sqlx.SelectContext(ctx, r.q, &assocs, query, branchID, status); err != nil {
		return nil, fmt.Errorf("failed to list branch associations: %w", err)
	}
	return assocs, nil
}

// Upsert inserts the row or overwrites its status fields; created_at of an
// existing row is preserved.
func (r *queries) Upsert(ctx context.Context, assoc *model.BranchAssociation) error {
	query := `
		INSERT INTO doctor_branch_associations (
			doctor_id, branch_id, practice_role, status,
			deactivation_reason, deactivated_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (doctor_id, branch_id, practice_role) DO UPDATE SET
			status = EXCLUDED.status,
			deactivation_reason = EXCLUDED.deactivation_reason,
			deactivated_at = EXCLUDED.deactivated_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		assoc.DoctorID,
		assoc.BranchID,
		assoc.Role,
		assoc.Status,
		assoc.DeactivationReason,
		assoc.DeactivatedAt,
		assoc.CreatedAt,
		assoc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert association: %w", err)
	}
	return nil
}

func (r *queries) SetStatus(ctx context.Context, key model.AssociationKey, status model.AssociationStatus, reason *string, at time.Time) error {
	query := `
		UPDATE doctor_branch_associations
		SET status = $1,
			deactivation_reason = CASE WHEN $1 = 'INACTIVE' THEN $2::text ELSE NULL END,
			deactivated_at = CASE WHEN $1 = 'INACTIVE' THEN $3::timestamptz ELSE NULL END,
			updated_at = $3
		WHERE doctor_id = $4 AND branch_id = $5 AND practice_role = $6
	`
	res, err := r.q.ExecContext(ctx, query, status, reason, at, key.DoctorID, key.BranchID, key.Role)
	if err != nil {
		return fmt.Errorf("failed to set association status: %w", err)
	}
	return requireRow(res)
}

func (r *queries) SetStatusBulk(ctx context.Context, doctorID uuid.UUID, branchIDs []uuid.UUID, status model.AssociationStatus, reason *string, at time.Time) (int64, error) {
	ids := make([]string, 0, len(branchIDs))
	for _, id := range branchIDs {
		ids = append(ids, id.String())
	}

	query := `
		UPDATE doctor_branch_associations
		SET status = $1,
			deactivation_reason = CASE WHEN $1 = 'INACTIVE' THEN $2::text ELSE NULL END,
			deactivated_at = CASE WHEN $1 = 'INACTIVE' THEN $3::timestamptz ELSE NULL END,
			updated_at = $3
		WHERE doctor_id = $4 AND branch_id = ANY($5::uuid[]) AND status <> $1
	`
	res, err := r.q.ExecContext(ctx, query, status, reason, at, doctorID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update association status: %w", err)
	}
	return res.RowsAffected()
}

func (r *queries) HardDeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM doctor_branch_associations WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete doctor associations: %w", err)
	}
	return res.RowsAffected()
}

func (r *queries) HardDeleteDoctorBranch(ctx context.Context, doctorID, branchID uuid.UUID) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM doctor_branch_associations WHERE doctor_id = $1 AND branch_id = $2`, doctorID, branchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete branch associations: %w", err)
	}
	return res.RowsAffected()
}
