package association

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

type AssociationServicer interface {
	AddAssociation(ctx context.Context, doctorID, branchID uuid.UUID, role model.PracticeRole) (*model.BranchAssociation, error)
	RemoveAssociation(ctx context.Context, doctorID, branchID uuid.UUID, role model.PracticeRole, reason string) error
	AddBatch(ctx context.Context, doctorID uuid.UUID, items []model.BatchItem) (*model.BatchResult, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, filter model.AssociationFilter, page *model.Pagination) (*model.AssociationPage, error)
	ListByBranch(ctx context.Context, branchID uuid.UUID, filter model.AssociationFilter, page *model.Pagination) (*model.AssociationPage, error)
	ListByRole(ctx context.Context, doctorID uuid.UUID, role model.PracticeRole, page *model.Pagination) (*model.AssociationPage, error)
	GetCurrentBranches(ctx context.Context, doctorID uuid.UUID) (*model.CurrentBranches, error)
	PurgeDoctor(ctx context.Context, doctorID uuid.UUID) (int64, error)
	PurgeBranch(ctx context.Context, branchID uuid.UUID) (int64, error)
}

type Service struct {
	store     repository.Store
	directory directory.Directory
	resolver  *resolver.Resolver
	events    *event.Recorder
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

// WithClock sets the time source for row and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.resolver.WithClock(now)
		s.events.WithClock(now)
	}
}

func NewService(store repository.Store, dir directory.Directory, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:     store,
		directory: dir,
		resolver:  resolver.New(m),
		events:    event.NewRecorder(),
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ AssociationServicer = (*Service)(nil)

func validateRole(role model.PracticeRole) error {
	if !role.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "unknown practice role %q", role)
	}
	return nil
}

func (s *Service) requireBranch(ctx context.Context, branchID uuid.UUID) error {
	ok, err := s.directory.Exists(ctx, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Wrapf(apperrors.ErrBranchNotFound, "branch %s", branchID)
	}
	return nil
}

// activate makes key ACTIVE, reactivating an INACTIVE row or inserting a new
// one. It fails with ErrAlreadyAssociated if the row is already ACTIVE.
func (s *Service) activate(ctx context.Context, tx repository.Tx, key model.AssociationKey) (reactivated bool, err error) {
	existing, err := tx.Get(ctx, key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		now := s.now()
		return false, tx.Upsert(ctx, &model.BranchAssociation{
			AssociationKey: key,
			Status:         model.AssociationActive,
			Timestamps:     model.Timestamps{CreatedAt: now, UpdatedAt: now},
		})
	case err != nil:
		return false, fmt.Errorf("failed to get association: %w", err)
	case existing.Active():
		return false, apperrors.Wrapf(apperrors.ErrAlreadyAssociated, "doctor %s already holds role %s at branch %s", key.DoctorID, key.Role, key.BranchID)
	default:
		return true, tx.SetStatus(ctx, key, model.AssociationActive, nil, s.now())
	}
}

func (s *Service) AddAssociation(ctx context.Context, doctorID, branchID uuid.UUID, role model.PracticeRole) (result *model.BranchAssociation, err error) {
	defer func() { s.metrics.ObserveMutation("add", err) }()

	if err := validateRole(role); err != nil {
		return nil, err
	}
	if err := s.requireBranch(ctx, branchID); err != nil {
		return nil, err
	}

	key := model.AssociationKey{DoctorID: doctorID, BranchID: branchID, Role: role}
	err = doctortx.Run(ctx, s.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		reactivated, err := s.activate(ctx, tx, key)
		if err != nil {
			return err
		}
		doctor, err := s.resolver.AfterMutation(ctx, tx, doctorID)
		if err != nil {
			return err
		}
		result, err = tx.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to reload association: %w", err)
		}
		return s.events.Emit(ctx, tx, model.EventAssociationAdded, doctorID, event.AssociationChanged{
			Key:             key,
			Status:          model.AssociationActive,
			Reactivated:     reactivated,
			PrimaryBranchID: doctor.PrimaryBranchID,
			IsMultiBranch:   doctor.IsMultiBranch,
			Actor:           access.ActorFrom(ctx).ID,
			OccurredAt:      s.now(),
		})
	})
	if err != nil {
		s.logger.Debug("add association rejected", "key", key.String(), "error", err.Error())
		return nil, err
	}

	s.logger.Info("association added", "doctor_id", doctorID.String(), "branch_id", branchID.String(), "role", string(role))
	return result, nil
}

func (s *Service) RemoveAssociation(ctx context.Context, doctorID, branchID uuid.UUID, role model.PracticeRole, reason string) (err error) {
	defer func() { s.metrics.ObserveMutation("remove", err) }()

	if err := validateRole(role); err != nil {
		return err
	}

	key := model.AssociationKey{DoctorID: doctorID, BranchID: branchID, Role: role}
	err = doctortx.Run(ctx, s.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		existing, err := tx.Get(ctx, key)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && !existing.Active()) {
			return apperrors.Wrapf(apperrors.ErrNotAssociated, "doctor %s has no active role %s at branch %s", doctorID, role, branchID)
		}
		if err != nil {
			return fmt.Errorf("failed to get association: %w", err)
		}

		var why *string
		if reason != "" {
			why = &reason
		}
		if err := tx.SetStatus(ctx, key, model.AssociationInactive, why, s.now()); err != nil {
			return fmt.Errorf("failed to deactivate association: %w", err)
		}
		doctor, err := s.resolver.AfterMutation(ctx, tx, doctorID)
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, model.EventAssociationRemoved, doctorID, event.AssociationChanged{
			Key:             key,
			Status:          model.AssociationInactive,
			PrimaryBranchID: doctor.PrimaryBranchID,
			IsMultiBranch:   doctor.IsMultiBranch,
			Actor:           access.ActorFrom(ctx).ID,
			OccurredAt:      s.now(),
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("association removed", "doctor_id", doctorID.String(), "branch_id", branchID.String(), "role", string(role))
	return nil
}

// AddBatch adds each item independently. Items that conflict, name an
// unknown branch or an unknown role become warnings. Directory outages fail
// the whole batch before anything is written.
func (s *Service) AddBatch(ctx context.Context, doctorID uuid.UUID, items []model.BatchItem) (result *model.BatchResult, err error) {
	defer func() { s.metrics.ObserveMutation("add_batch", err) }()

	if len(items) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "batch is empty")
	}

	result = &model.BatchResult{DoctorID: doctorID, Added: []*model.BranchAssociation{}}
	known := make(map[uuid.UUID]bool)
	for _, item := range items {
		if _, seen := known[item.BranchID]; seen {
			continue
		}
		ok, err := s.directory.Exists(ctx, item.BranchID)
		if err != nil {
			return nil, err
		}
		known[item.BranchID] = ok
	}

	err = doctortx.Run(ctx, s.store, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		result.Added = result.Added[:0]
		result.Warnings = nil
		for _, item := range items {
			key := model.AssociationKey{DoctorID: doctorID, BranchID: item.BranchID, Role: item.Role}
			if err := validateRole(item.Role); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", key, err))
				continue
			}
			if !known[item.BranchID] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: branch not found", key))
				continue
			}
			reactivated, err := s.activate(ctx, tx, key)
			if errors.Is(err, apperrors.ErrAlreadyAssociated) {
				result.Warnings = append(result.Warnings, fmt.Sprintf("already associated with branch %s under role %s", item.BranchID, item.Role))
				continue
			}
			if err != nil {
				return err
			}
			added, err := tx.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to reload association: %w", err)
			}
			result.Added = append(result.Added, added)
			if err := s.events.Emit(ctx, tx, model.EventAssociationAdded, doctorID, event.AssociationChanged{
				Key:         key,
				Status:      model.AssociationActive,
				Reactivated: reactivated,
				Actor:       access.ActorFrom(ctx).ID,
				OccurredAt:  s.now(),
			}); err != nil {
				return err
			}
		}

		if len(result.Added) == 0 {
			_, err := s.resolver.Resolve(ctx, tx, doctorID)
			return err
		}
		_, err := s.resolver.AfterMutation(ctx, tx, doctorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("association batch applied", "doctor_id", doctorID.String(), "added", len(result.Added), "warnings", len(result.Warnings))
	return result, nil
}

func paginate(all []*model.BranchAssociation, filter model.AssociationFilter, page *model.Pagination) *model.AssociationPage {
	items := make([]*model.BranchAssociation, 0, len(all))
	for _, a := range all {
		if filter.Match(a) {
			items = append(items, a)
		}
	}
	if page == nil {
		return &model.AssociationPage{Items: items, Total: len(items), Page: 1, PageSize: len(items)}
	}
	p := page.Normalize()
	start, end := p.Bounds(len(items))
	return &model.AssociationPage{Items: items[start:end], Total: len(items), Page: p.Page, PageSize: p.PageSize}
}

// ListByDoctor returns the doctor's associations; page nil means no paging.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, filter model.AssociationFilter, page *model.Pagination) (*model.AssociationPage, error) {
	if _, err := doctortx.LoadDoctor(ctx, s.store, doctorID); err != nil {
		return nil, err
	}
	all, err := s.store.ListByDoctor(ctx, doctorID, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	return paginate(all, filter, page), nil
}

func (s *Service) ListByBranch(ctx context.Context, branchID uuid.UUID, filter model.AssociationFilter, page *model.Pagination) (*model.AssociationPage, error) {
	all, err := s.store.ListByBranch(ctx, branchID, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	return paginate(all, filter, page), nil
}

// ListByRole returns the doctor's ACTIVE associations under role.
func (s *Service) ListByRole(ctx context.Context, doctorID uuid.UUID, role model.PracticeRole, page *model.Pagination) (*model.AssociationPage, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	status := model.AssociationActive
	return s.ListByDoctor(ctx, doctorID, model.AssociationFilter{Status: &status, Role: &role}, page)
}

func (s *Service) GetCurrentBranches(ctx context.Context, doctorID uuid.UUID) (*model.CurrentBranches, error) {
	doctor, err := doctortx.LoadDoctor(ctx, s.store, doctorID)
	if err != nil {
		return nil, err
	}
	status := model.AssociationActive
	active, err := s.store.ListByDoctor(ctx, doctorID, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	return &model.CurrentBranches{
		DoctorID:        doctorID,
		PrimaryBranchID: doctor.PrimaryBranchID,
		IsMultiBranch:   doctor.IsMultiBranch,
		Branches:        model.BuildAssignments(doctor, active),
	}, nil
}
