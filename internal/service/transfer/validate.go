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
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

func normalize(req *model.TransferRequest) error {
	if req.DoctorID == uuid.Nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "doctor id is required")
	}
	if req.SourceBranchID == uuid.Nil || req.TargetBranchID == uuid.Nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "source and target branch ids are required")
	}
	if req.SourceBranchID == req.TargetBranchID {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "source and target branch must differ")
	}
	if req.TransferType == "" {
		req.TransferType = model.TransferTypeBranch
	}
	if !req.TransferType.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "unknown transfer type %q", req.TransferType)
	}
	for _, r := range req.Options.Roles {
		if !r.Valid() {
			return apperrors.Wrapf(apperrors.ErrInvalidRequest, "unknown practice role %q", r)
		}
	}
	return nil
}

func (c *Coordinator) checkAccess(ctx context.Context, branches ...uuid.UUID) error {
	actor := access.ActorFrom(ctx)
	for _, b := range branches {
		ok, err := c.authorizer.HasBranchAccess(ctx, actor, b)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrIntegrationFailure, err)
		}
		if !ok {
			return apperrors.Wrapf(apperrors.ErrBranchAccessDenied, "actor %q may not act on branch %s", actor.ID, b)
		}
	}
	return nil
}

func (c *Coordinator) checkTarget(ctx context.Context, target uuid.UUID, capacity bool) error {
	ok, err := c.directory.Exists(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Wrapf(apperrors.ErrBranchNotFound, "target branch %s", target)
	}
	if !capacity {
		return nil
	}
	ok, err = c.directory.HasCapacity(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Wrapf(apperrors.ErrCapacityExceeded, "target branch %s has no capacity", target)
	}
	return nil
}

// sourceRoles returns the ACTIVE associations to move, restricted to roles
// when given. Requested roles missing at the source become warnings.
func sourceRoles(ctx context.Context, q repository.AssociationStore, req model.TransferRequest) ([]*model.BranchAssociation, []string, error) {
	status := model.AssociationActive
	active, err := q.ListByDoctor(ctx, req.DoctorID, &status)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list associations: %w", err)
	}

	wanted := make(map[model.PracticeRole]bool, len(req.Options.Roles))
	for _, r := range req.Options.Roles {
		wanted[r] = true
	}

	var moves []*model.BranchAssociation
	found := make(map[model.PracticeRole]bool)
	for _, a := range active {
		if a.BranchID != req.SourceBranchID {
			continue
		}
		if len(wanted) > 0 && !wanted[a.Role] {
			continue
		}
		moves = append(moves, a)
		found[a.Role] = true
	}

	var warnings []string
	for _, r := range req.Options.Roles {
		if !found[r] {
			warnings = append(warnings, fmt.Sprintf("not associated with source under role %s", r))
		}
	}

	if len(moves) == 0 {
		return nil, nil, apperrors.Wrapf(apperrors.ErrNotAssociated, "doctor %s has no active association at branch %s", req.DoctorID, req.SourceBranchID)
	}
	return moves, warnings, nil
}

// validate runs every precondition that can be checked without locking the
// doctor, in order: doctor, access, target, source association, capacity.
func (c *Coordinator) validate(ctx context.Context, req model.TransferRequest, emergency bool) error {
	if _, err := doctortx.LoadDoctor(ctx, c.store, req.DoctorID); err != nil {
		return err
	}
	if err := c.checkAccess(ctx, req.SourceBranchID, req.TargetBranchID); err != nil {
		return err
	}
	if err := c.checkTarget(ctx, req.TargetBranchID, false); err != nil {
		return err
	}
	if _, _, err := sourceRoles(ctx, c.store, req); err != nil {
		return err
	}
	if req.Options.ValidateTargetBranchCapacity && !emergency {
		return c.checkTarget(ctx, req.TargetBranchID, true)
	}
	return nil
}

// CanTransferDoctor reports whether the doctor could be transferred to the
// target branch right now. It changes nothing. Only a missing doctor and
// collaborator failures are returned as errors; every other failed check is
// listed in Reasons.
func (c *Coordinator) CanTransferDoctor(ctx context.Context, doctorID, targetBranchID uuid.UUID) (*model.TransferEligibility, error) {
	doctor, err := doctortx.LoadDoctor(ctx, c.store, doctorID)
	if err != nil {
		return nil, err
	}
	status := model.AssociationActive
	active, err := c.store.ListByDoctor(ctx, doctorID, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}

	out := &model.TransferEligibility{
		DoctorID:       doctorID,
		TargetBranchID: targetBranchID,
		Current:        model.BuildAssignments(doctor, active),
	}

	add := func(err error) error {
		if errors.Is(err, apperrors.ErrIntegrationFailure) {
			return err
		}
		if err != nil {
			out.Reasons = append(out.Reasons, err.Error())
		}
		return nil
	}

	if err := add(c.checkAccess(ctx, targetBranchID)); err != nil {
		return nil, err
	}
	if err := add(c.checkTarget(ctx, targetBranchID, true)); err != nil {
		return nil, err
	}

	elsewhere, accessible := false, false
	actor := access.ActorFrom(ctx)
	for _, b := range model.DistinctBranches(active) {
		if b == targetBranchID {
			continue
		}
		elsewhere = true
		ok, err := c.authorizer.HasBranchAccess(ctx, actor, b)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrIntegrationFailure, err)
		}
		accessible = accessible || ok
	}
	switch {
	case len(active) == 0:
		out.Reasons = append(out.Reasons, "doctor has no active branch associations")
	case !elsewhere:
		out.Reasons = append(out.Reasons, "doctor is only associated with the target branch")
	case !accessible:
		out.Reasons = append(out.Reasons, "actor has no access to any of the doctor's current branches")
	}

	out.CanTransfer = len(out.Reasons) == 0
	return out, nil
}
