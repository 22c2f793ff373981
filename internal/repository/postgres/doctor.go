package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

const doctorColumns = `id, name, status, primary_branch_id, is_multi_branch, association_version, created_at, updated_at`

func (r *queries) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	var doctor model.Doctor
	err := sqlx.GetContext(ctx, r.q, &doctor, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &doctor, nil
}

func (r *queries) UpdateBranchState(ctx context.Context, doctor *model.Doctor) error {
	query := `
		UPDATE doctors
		SET primary_branch_id = $1, is_multi_branch = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := r.q.ExecContext(ctx, query, doctor.PrimaryBranchID, doctor.IsMultiBranch, doctor.UpdatedAt, doctor.ID)
	if err != nil {
		return fmt.Errorf("failed to update doctor branch state: %w", err)
	}
	return requireRow(res)
}

func (r *queries) UpdateDoctorStatus(ctx context.Context, id uuid.UUID, status model.DoctorStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE doctors SET status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
	if err != nil {
		return fmt.Errorf("failed to update doctor status: %w", err)
	}
	return requireRow(res)
}

func (r *queries) BumpAssociationVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := sqlx.GetContext(ctx, r.q, &version,
		`UPDATE doctors SET association_version = association_version + 1 WHERE id = $1 RETURNING association_version`, id)
	if err != nil {
		return 0, notFound(err)
	}
	return version, nil
}
