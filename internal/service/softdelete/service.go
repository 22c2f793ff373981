// Package softdelete deactivates and reactivates a doctor's associations
// branch by branch, rolling the result up into the doctor's global status
// when asked to.
package softdelete

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/internal/service/doctortx"
	"github.com/jwalitptl/doctor-branch-service/internal/service/event"
	"github.com/jwalitptl/doctor-branch-service/internal/service/resolver"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

type BranchStatusServicer interface {
	DeactivateBranches(ctx context.Context, doctorID uuid.UUID, req model.BranchStatusRequest) (*model.SoftDeleteSummary, error)
	ActivateBranches(ctx context.Context, doctorID uuid.UUID, req model.BranchStatusRequest) (*model.SoftDeleteSummary, error)
	UpdateDoctorStatus(ctx context.Context, doctorID uuid.UUID, status model.DoctorStatus, reason string) (*model.Doctor, error)
}

type Coordinator struct {
	store    repository.Store
	resolver *resolver.Resolver
	events   *event.Recorder
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
		c.resolver.WithClock(now)
		c.events.WithClock(now)
	}
}

func NewCoordinator(store repository.Store, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		store:    store,
		resolver: resolver.New(m),
		events:   event.NewRecorder(),
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ BranchStatusServicer = (*Coordinator)(nil)

func uniqueBranches(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "at least one branch id is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "branch id must not be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// changedBranches returns the requested branches holding at least one
// association whose status differs from target.
func changedBranches(before []*model.BranchAssociation, requested []uuid.UUID, target model.AssociationStatus) []uuid.UUID {
	want := make(map[uuid.UUID]struct{}, len(requested))
	for _, id := range requested {
		want[id] = struct{}{}
	}
	var hits []*model.BranchAssociation
	for _, a := range before {
		if _, ok := want[a.BranchID]; ok && a.Status != target {
			hits = append(hits, a)
		}
	}
	return model.DistinctBranches(hits)
}

func (c *Coordinator) apply(ctx context.Context, tx repository.Tx, doctorID uuid.UUID, branchIDs []uuid.UUID, target model.AssociationStatus, reason string, op model.BranchOperation) (*model.SoftDeleteSummary, error) {
	before, err := tx.ListByDoctor(ctx, doctorID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}

	var why *string
	if reason != "" && target == model.AssociationInactive {
		why = &reason
	}
	n, err := tx.SetStatusBulk(ctx, doctorID, branchIDs, target, why, c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update association status: %w", err)
	}

	if n > 0 {
		_, err = c.resolver.AfterMutation(ctx, tx, doctorID)
	} else {
		_, err = c.resolver.Resolve(ctx, tx, doctorID)
	}
	if err != nil {
		return nil, err
	}

	after, err := tx.ListByDoctor(ctx, doctorID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	remaining, total := doctortx.BranchCounts(after)
	affected := changedBranches(before, branchIDs, target)

	return &model.SoftDeleteSummary{
		DoctorID:                doctorID,
		Success:                 true,
		AffectedBranches:        affected,
		AffectedAssociations:    n,
		RemainingActiveBranches: remaining,
		TotalBranches:           total,
		OperationType:           op,
	}, nil
}

// DeactivateBranches marks every association of the doctor at the given
// branches INACTIVE. When updateGlobalStatus is set and no ACTIVE branch is
// left, the doctor itself becomes INACTIVE.
func (c *Coordinator) DeactivateBranches(ctx context.Context, doctorID uuid.UUID, req model.BranchStatusRequest) (summary *model.SoftDeleteSummary, err error) {
	defer func() { c.metrics.ObserveMutation("deactivate_branches", err) }()

	branchIDs, err := uniqueBranches(req.BranchIDs)
	if err != nil {
		return nil, err
	}

	actor := access.ActorFrom(ctx).ID
	err = doctortx.Run(ctx, c.store, doctorID, func(tx repository.Tx, current *model.Doctor) error {
		summary, err = c.apply(ctx, tx, doctorID, branchIDs, model.AssociationInactive, req.Reason, model.OperationDeactivateBranches)
		if err != nil {
			return err
		}

		// The rollup is reported whenever it applies; an already INACTIVE
		// doctor is not written again.
		if summary.RemainingActiveBranches == 0 && req.UpdateGlobalStatus {
			status := model.DoctorStatusInactive
			summary.GlobalStatusChanged = true
			summary.NewGlobalStatus = &status
		}
		if summary.GlobalStatusChanged && current.Status != model.DoctorStatusInactive {
			status := model.DoctorStatusInactive
			if err := tx.UpdateDoctorStatus(ctx, doctorID, status, c.now()); err != nil {
				return fmt.Errorf("failed to update doctor status: %w", err)
			}
			if err := c.events.Emit(ctx, tx, model.EventDoctorStatusChanged, doctorID, event.DoctorStatusChanged{
				DoctorID:   doctorID,
				From:       current.Status,
				To:         status,
				Reason:     req.Reason,
				Actor:      actor,
				OccurredAt: c.now(),
			}); err != nil {
				return err
			}
		}

		summary.Message = fmt.Sprintf("deactivated %d associations across %d branches", summary.AffectedAssociations, len(summary.AffectedBranches))
		if summary.AffectedAssociations == 0 {
			return nil
		}
		return c.events.Emit(ctx, tx, model.EventBranchesDeactivated, doctorID, event.BranchesChanged{
			DoctorID:             doctorID,
			BranchIDs:            summary.AffectedBranches,
			AffectedAssociations: summary.AffectedAssociations,
			Reason:               req.Reason,
			Actor:                actor,
			OccurredAt:           c.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("branches deactivated",
		"doctor_id", doctorID.String(),
		"associations", summary.AffectedAssociations,
		"remaining_active_branches", summary.RemainingActiveBranches,
		"global_status_changed", summary.GlobalStatusChanged)
	return summary, nil
}

// ActivateBranches reactivates the doctor's existing associations at the
// given branches. It never changes the doctor's global status; use
// UpdateDoctorStatus for that.
func (c *Coordinator) ActivateBranches(ctx context.Context, doctorID uuid.UUID, req model.BranchStatusRequest) (summary *model.SoftDeleteSummary, err error) {
	defer func() { c.metrics.ObserveMutation("activate_branches", err) }()

	branchIDs, err := uniqueBranches(req.BranchIDs)
	if err != nil {
		return nil, err
	}

	err = doctortx.Run(ctx, c.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		summary, err = c.apply(ctx, tx, doctorID, branchIDs, model.AssociationActive, req.Reason, model.OperationActivateBranches)
		if err != nil {
			return err
		}
		summary.Message = fmt.Sprintf("activated %d associations across %d branches", summary.AffectedAssociations, len(summary.AffectedBranches))
		if summary.AffectedAssociations == 0 {
			return nil
		}
		return c.events.Emit(ctx, tx, model.EventBranchesActivated, doctorID, event.BranchesChanged{
			DoctorID:             doctorID,
			BranchIDs:            summary.AffectedBranches,
			AffectedAssociations: summary.AffectedAssociations,
			Reason:               req.Reason,
			Actor:                access.ActorFrom(ctx).ID,
			OccurredAt:           c.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("branches activated", "doctor_id", doctorID.String(), "associations", summary.AffectedAssociations)
	return summary, nil
}

// UpdateDoctorStatus sets the doctor's global status explicitly.
func (c *Coordinator) UpdateDoctorStatus(ctx context.Context, doctorID uuid.UUID, status model.DoctorStatus, reason string) (doctor *model.Doctor, err error) {
	defer func() { c.metrics.ObserveMutation("update_doctor_status", err) }()

	if !status.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "unknown doctor status %q", status)
	}

	err = doctortx.Run(ctx, c.store, doctorID, func(tx repository.Tx, current *model.Doctor) error {
		doctor = current
		if current.Status == status {
			return nil
		}
		now := c.now()
		if err := tx.UpdateDoctorStatus(ctx, doctorID, status, now); err != nil {
			return fmt.Errorf("failed to update doctor status: %w", err)
		}
		from := current.Status
		doctor.Status = status
		doctor.UpdatedAt = now
		return c.events.Emit(ctx, tx, model.EventDoctorStatusChanged, doctorID, event.DoctorStatusChanged{
			DoctorID:   doctorID,
			From:       from,
			To:         status,
			Reason:     reason,
			Actor:      access.ActorFrom(ctx).ID,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("doctor status updated", "doctor_id", doctorID.String(), "status", string(status))
	return doctor, nil
}
