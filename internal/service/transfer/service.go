// Package transfer moves a doctor's associations from one branch to another
// as a single unit of work and keeps a snapshot so the move can be undone
// while the retention window is open.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/directory"
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

const DefaultRetention = 72 * time.Hour

type TransferServicer interface {
	TransferDoctor(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error)
	EmergencyTransfer(ctx context.Context, doctorID uuid.UUID, req model.EmergencyTransferRequest) (*model.TransferResult, error)
	Rollback(ctx context.Context, rollbackID uuid.UUID) (*model.RollbackResult, error)
	CanTransferDoctor(ctx context.Context, doctorID, targetBranchID uuid.UUID) (*model.TransferEligibility, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (*model.TransferRecord, error)
}

type Coordinator struct {
	store      repository.Store
	directory  directory.Directory
	authorizer access.Authorizer
	resolver   *resolver.Resolver
	events     *event.Recorder
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	retention  time.Duration
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
		c.resolver.WithClock(now)
		c.events.WithClock(now)
	}
}

// WithRetention sets how long a successful transfer can be rolled back.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

func NewCoordinator(store repository.Store, dir directory.Directory, authz access.Authorizer, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		store:      store,
		directory:  dir,
		authorizer: authz,
		resolver:   resolver.New(m),
		events:     event.NewRecorder(),
		logger:     log,
		metrics:    m,
		now:        time.Now,
		retention:  DefaultRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ TransferServicer = (*Coordinator)(nil)

// applyError marks a failure of the APPLYING phase. Everything else returned
// from the transaction is a validation failure.
type applyError struct {
	err error
}

func (e *applyError) Error() string { return e.err.Error() }
func (e *applyError) Unwrap() error { return e.err }

func applyFailed(format string, args ...interface{}) error {
	return &applyError{err: fmt.Errorf(format, args...)}
}

// tracker walks a transfer through its states.
type tracker struct {
	status model.TransferStatus
}

func (t *tracker) to(next model.TransferStatus) {
	if !t.status.CanTransition(next) {
		panic(fmt.Sprintf("invalid transfer transition %s -> %s", t.status, next))
	}
	t.status = next
}

// TransferDoctor moves every ACTIVE association the doctor holds at the
// source branch (or only the requested roles) to the target branch.
// Validation failures are returned as errors and change nothing. A failure
// while applying is rolled back in full and reported as a FAILED result.
func (c *Coordinator) TransferDoctor(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error) {
	return c.transfer(ctx, req, req.TransferType == model.TransferTypeEmergency)
}

// EmergencyTransfer skips the capacity check and completes even when the
// target assignment fails, in which case the doctor may be left without any
// branch. The doctor's global status is never changed here.
func (c *Coordinator) EmergencyTransfer(ctx context.Context, doctorID uuid.UUID, req model.EmergencyTransferRequest) (*model.TransferResult, error) {
	return c.transfer(ctx, model.TransferRequest{
		DoctorID:       doctorID,
		SourceBranchID: req.SourceBranchID,
		TargetBranchID: req.TargetBranchID,
		TransferType:   model.TransferTypeEmergency,
		Options:        model.TransferOptions{Reason: req.Reason},
	}, true)
}

func (c *Coordinator) transfer(ctx context.Context, req model.TransferRequest, emergency bool) (*model.TransferResult, error) {
	start := c.now()
	st := &tracker{status: model.TransferRequested}

	if err := normalize(&req); err != nil {
		return nil, err
	}

	st.to(model.TransferValidating)
	if err := c.validate(ctx, req, emergency); err != nil {
		c.logger.Debug("transfer rejected", "doctor_id", req.DoctorID.String(), "error", err.Error())
		return nil, err
	}

	result := &model.TransferResult{
		TransferID:     uuid.New(),
		DoctorID:       req.DoctorID,
		SourceBranchID: req.SourceBranchID,
		TargetBranchID: req.TargetBranchID,
		TransferType:   req.TransferType,
	}

	st.to(model.TransferApplying)
	err := doctortx.Run(ctx, c.store, req.DoctorID, func(tx repository.Tx, doctor *model.Doctor) error {
		return c.apply(ctx, tx, doctor, req, emergency, result)
	})

	var failed *applyError
	switch {
	case errors.As(err, &failed):
		st.to(model.TransferFailed)
		c.fail(ctx, result, failed)
	case err != nil:
		return nil, err
	default:
		st.to(model.TransferSuccess)
	}
	result.Status = st.status
	result.CompletedAt = c.now()

	c.metrics.ObserveTransfer(string(req.TransferType), string(result.Status), c.now().Sub(start))
	c.logger.Info("transfer completed",
		"transfer_id", result.TransferID.String(),
		"doctor_id", req.DoctorID.String(),
		"source_branch_id", req.SourceBranchID.String(),
		"target_branch_id", req.TargetBranchID.String(),
		"type", string(req.TransferType),
		"status", string(result.Status),
		"warnings", len(result.Warnings),
		"errors", len(result.Errors))
	return result, nil
}

// fail resets result to the committed, pre-transfer state of the doctor.
func (c *Coordinator) fail(ctx context.Context, result *model.TransferResult, cause *applyError) {
	c.logger.Error(cause.err, "transfer failed, changes rolled back",
		"transfer_id", result.TransferID.String(),
		"doctor_id", result.DoctorID.String())

	result.MovedRoles = nil
	result.RollbackAvailable = false
	result.RollbackID = nil
	result.Errors = append(result.Errors, cause.Error())

	doctor, err := c.store.GetDoctor(ctx, result.DoctorID)
	if err != nil {
		return
	}
	status := model.AssociationActive
	active, err := c.store.ListByDoctor(ctx, result.DoctorID, &status)
	if err != nil {
		return
	}
	result.PrimaryBranchID = doctor.PrimaryBranchID
	result.IsMultiBranch = doctor.IsMultiBranch
	result.BranchAssignments = model.BuildAssignments(doctor, active)
}

func (c *Coordinator) apply(ctx context.Context, tx repository.Tx, doctor *model.Doctor, req model.TransferRequest, emergency bool, result *model.TransferResult) error {
	// State may have moved since validation; recheck under the lock.
	moves, warnings, err := sourceRoles(ctx, tx, req)
	if err != nil {
		return err
	}
	result.Warnings = warnings
	result.Errors = nil
	result.MovedRoles = nil

	snapshot := model.TransferSnapshot{
		PrimaryBranchID: doctor.PrimaryBranchID,
		IsMultiBranch:   doctor.IsMultiBranch,
	}

	reason := req.Options.Reason
	if reason == "" {
		reason = fmt.Sprintf("transferred to branch %s", req.TargetBranchID)
	}

	for _, src := range moves {
		role := src.Role
		targetKey := model.AssociationKey{DoctorID: req.DoctorID, BranchID: req.TargetBranchID, Role: role}

		existing, err := tx.Get(ctx, targetKey)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			existing = nil
		case err != nil:
			return applyFailed("read target association %s: %v", targetKey, err)
		}

		if existing != nil && existing.Active() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("already associated with target under role %s", role))
		} else {
			entry := model.SnapshotEntry{Key: targetKey}
			if existing != nil {
				entry.Existed = true
				entry.Status = existing.Status
			}
			assign := func() error {
				return c.assign(ctx, tx, targetKey, existing != nil)
			}
			if emergency {
				if err := tx.Savepoint(ctx, "assign_"+string(role), assign); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("failed to assign role %s at target: %v", role, err))
				} else {
					snapshot.Entries = append(snapshot.Entries, entry)
				}
			} else {
				if err := assign(); err != nil {
					return applyFailed("assign role %s at target: %v", role, err)
				}
				snapshot.Entries = append(snapshot.Entries, entry)
			}
		}

		if err := tx.SetStatus(ctx, src.AssociationKey, model.AssociationInactive, &reason, c.now()); err != nil {
			return applyFailed("deactivate role %s at source: %v", role, err)
		}
		snapshot.Entries = append(snapshot.Entries, model.SnapshotEntry{
			Key:     src.AssociationKey,
			Existed: true,
			Status:  model.AssociationActive,
		})
		result.MovedRoles = append(result.MovedRoles, role)
	}

	updated, err := c.resolver.AfterMutation(ctx, tx, req.DoctorID)
	if err != nil {
		return applyFailed("resolve primary branch: %v", err)
	}

	now := c.now()
	rec := &model.TransferRecord{
		ID:                 result.TransferID,
		RollbackID:         uuid.New(),
		DoctorID:           req.DoctorID,
		SourceBranchID:     req.SourceBranchID,
		TargetBranchID:     req.TargetBranchID,
		TransferType:       req.TransferType,
		Status:             model.TransferSuccess,
		Reason:             req.Options.Reason,
		RequestedBy:        access.ActorFrom(ctx).ID,
		Snapshot:           snapshot,
		AssociationVersion: updated.AssociationVersion,
		CreatedAt:          now,
		ExpiresAt:          now.Add(c.retention),
	}
	if err := tx.CreateTransfer(ctx, rec); err != nil {
		return applyFailed("store transfer snapshot: %v", err)
	}

	if err := c.events.Emit(ctx, tx, model.EventDoctorTransferred, req.DoctorID, event.DoctorTransferred{
		TransferID:     rec.ID,
		DoctorID:       req.DoctorID,
		SourceBranchID: req.SourceBranchID,
		TargetBranchID: req.TargetBranchID,
		TransferType:   req.TransferType,
		MovedRoles:     result.MovedRoles,
		Actor:          rec.RequestedBy,
		OccurredAt:     now,
	}); err != nil {
		return applyFailed("record transfer event: %v", err)
	}

	status := model.AssociationActive
	active, err := tx.ListByDoctor(ctx, req.DoctorID, &status)
	if err != nil {
		return applyFailed("list associations: %v", err)
	}

	rollbackID := rec.RollbackID
	result.RollbackAvailable = true
	result.RollbackID = &rollbackID
	result.PrimaryBranchID = updated.PrimaryBranchID
	result.IsMultiBranch = updated.IsMultiBranch
	result.BranchAssignments = model.BuildAssignments(updated, active)
	return nil
}

// assign makes key ACTIVE, reactivating the row when it exists.
func (c *Coordinator) assign(ctx context.Context, tx repository.Tx, key model.AssociationKey, exists bool) error {
	now := c.now()
	if exists {
		return tx.SetStatus(ctx, key, model.AssociationActive, nil, now)
	}
	return tx.Upsert(ctx, &model.BranchAssociation{
		AssociationKey: key,
		Status:         model.AssociationActive,
		Timestamps:     model.Timestamps{CreatedAt: now, UpdatedAt: now},
	})
}

func (c *Coordinator) GetTransfer(ctx context.Context, transferID uuid.UUID) (*model.TransferRecord, error) {
	rec, err := c.store.GetTransfer(ctx, transferID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Wrapf(apperrors.ErrTransferNotFound, "transfer %s", transferID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return rec, nil
}

// CleanupExpired deletes transfer records whose rollback window closed
// before the given age.
func (c *Coordinator) CleanupExpired(ctx context.Context, keep time.Duration) (int64, error) {
	n, err := c.store.DeleteExpiredTransfers(ctx, c.now().Add(-keep))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired transfers: %w", err)
	}
	if n > 0 {
		c.logger.Info("expired transfers deleted", "count", n)
	}
	return n, nil
}
