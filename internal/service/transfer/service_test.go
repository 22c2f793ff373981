package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jwalitptl/doctor-branch-service/internal/directory"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/memory"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/internal/service/association"
	"github.com/jwalitptl/doctor-branch-service/internal/testutil"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

var errInjected = errors.New("injected failure")

// faultyStore hands fn a Tx built by wrap so tests can fail individual writes.
type faultyStore struct {
	*memory.Store
	wrap func(repository.Tx) repository.Tx
}

func (f *faultyStore) WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(repository.Tx, *model.Doctor) error) error {
	return f.Store.WithDoctorTx(ctx, doctorID, func(tx repository.Tx, d *model.Doctor) error {
		return fn(f.wrap(tx), d)
	})
}

type failingTx struct {
	repository.Tx
	failCreateTransfer bool
	failUpsertAt       uuid.UUID
	// failUpsertNth limits the failure to the nth upsert at failUpsertAt.
	failUpsertNth int
	upserts       int
}

func (t *failingTx) CreateTransfer(ctx context.Context, rec *model.TransferRecord) error {
	if t.failCreateTransfer {
		return errInjected
	}
	return t.Tx.CreateTransfer(ctx, rec)
}

func (t *failingTx) Upsert(ctx context.Context, assoc *model.BranchAssociation) error {
	if assoc.BranchID == t.failUpsertAt {
		t.upserts++
		if t.failUpsertNth == 0 || t.upserts == t.failUpsertNth {
			return errInjected
		}
	}
	return t.Tx.Upsert(ctx, assoc)
}

type TransferSuite struct {
	suite.Suite
	ctx          context.Context
	clock        *testutil.Clock
	store        *memory.Store
	dir          *directory.Static
	associations *association.Service
	coordinator  *Coordinator

	x, y, z uuid.UUID
}

func TestTransferSuite(t *testing.T) {
	suite.Run(t, new(TransferSuite))
}

func (s *TransferSuite) SetupTest() {
	s.ctx = access.WithActor(context.Background(), model.Actor{ID: "admin-1", Roles: []string{model.RoleAdmin}})
	s.clock = testutil.NewClock()
	s.store = memory.NewStore()
	s.x, s.y, s.z = uuid.New(), uuid.New(), uuid.New()
	s.dir = directory.NewStatic(s.x, s.y, s.z)
	s.associations = association.NewService(s.store, s.dir, nil, nil, association.WithClock(s.clock.Now))
	s.coordinator = s.newCoordinator(s.store)
}

func (s *TransferSuite) newCoordinator(store repository.Store) *Coordinator {
	return NewCoordinator(store, s.dir, access.NewClaimsAuthorizer(), nil, nil, WithClock(s.clock.Now))
}

func (s *TransferSuite) add(d, b uuid.UUID, role model.PracticeRole) {
	_, err := s.associations.AddAssociation(s.ctx, d, b, role)
	s.Require().NoError(err)
}

func (s *TransferSuite) doctor(id uuid.UUID) *model.Doctor {
	d, err := s.store.GetDoctor(s.ctx, id)
	s.Require().NoError(err)
	return d
}

func (s *TransferSuite) status(d, b uuid.UUID, role model.PracticeRole) model.AssociationStatus {
	a, err := s.store.Get(s.ctx, model.AssociationKey{DoctorID: d, BranchID: b, Role: role})
	s.Require().NoError(err)
	return a.Status
}

func (s *TransferSuite) rows(d uuid.UUID) map[model.AssociationKey]model.AssociationStatus {
	out := make(map[model.AssociationKey]model.AssociationStatus)
	for _, a := range s.store.Associations() {
		if a.DoctorID == d {
			out[a.AssociationKey] = a.Status
		}
	}
	return out
}

// multiBranch seeds a doctor active at x then y, primary x.
func (s *TransferSuite) multiBranch() uuid.UUID {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	s.add(d, s.y, model.RoleConsultant)
	return d
}

func (s *TransferSuite) transfer(d, from, to uuid.UUID) *model.TransferResult {
	result, err := s.coordinator.TransferDoctor(s.ctx, model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: from,
		TargetBranchID: to,
	})
	s.Require().NoError(err)
	s.Require().Equal(model.TransferSuccess, result.Status)
	return result
}

func (s *TransferSuite) TestTransfer_PrimaryFallsToEarliestRemainingBranch() {
	d := s.multiBranch()
	s.Equal(s.x, *s.doctor(d).PrimaryBranchID)

	result := s.transfer(d, s.x, s.z)
	s.Equal(model.TransferTypeBranch, result.TransferType)
	s.Equal([]model.PracticeRole{model.RoleConsultant}, result.MovedRoles)
	s.True(result.RollbackAvailable)
	s.Require().NotNil(result.RollbackID)
	s.Empty(result.Errors)

	s.Equal(model.AssociationInactive, s.status(d, s.x, model.RoleConsultant))
	s.Equal(model.AssociationActive, s.status(d, s.y, model.RoleConsultant))
	s.Equal(model.AssociationActive, s.status(d, s.z, model.RoleConsultant))

	doctor := s.doctor(d)
	s.Require().NotNil(doctor.PrimaryBranchID)
	s.Equal(s.y, *doctor.PrimaryBranchID)
	s.True(doctor.IsMultiBranch)
	s.Equal(doctor.PrimaryBranchID, result.PrimaryBranchID)
	s.Len(result.BranchAssignments, 2)
	testutil.RequireInvariants(s.T(), s.store, d)

	rec, err := s.coordinator.GetTransfer(s.ctx, result.TransferID)
	s.Require().NoError(err)
	s.Equal(*result.RollbackID, rec.RollbackID)
	s.Equal(doctor.AssociationVersion, rec.AssociationVersion)
	s.Equal("admin-1", rec.RequestedBy)

	events := s.store.Events()
	s.Equal(model.EventDoctorTransferred, events[len(events)-1].EventType)
}

func (s *TransferSuite) TestTransfer_OnlySelectedRoles() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	s.add(d, s.x, model.RoleResident)

	result, err := s.coordinator.TransferDoctor(s.ctx, model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: s.x,
		TargetBranchID: s.z,
		Options: model.TransferOptions{
			Roles: []model.PracticeRole{model.RoleResident, model.RoleSpecialist},
		},
	})
	s.Require().NoError(err)
	s.Equal([]model.PracticeRole{model.RoleResident}, result.MovedRoles)
	s.Contains(result.Warnings, "not associated with source under role SPECIALIST")

	s.Equal(model.AssociationActive, s.status(d, s.x, model.RoleConsultant))
	s.Equal(model.AssociationInactive, s.status(d, s.x, model.RoleResident))
	s.Equal(model.AssociationActive, s.status(d, s.z, model.RoleResident))
	s.True(s.doctor(d).IsMultiBranch)
	testutil.RequireInvariants(s.T(), s.store, d)
}

func (s *TransferSuite) TestTransfer_TargetAlreadyAssociated() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	s.add(d, s.z, model.RoleConsultant)

	result := s.transfer(d, s.x, s.z)
	s.Contains(result.Warnings, "already associated with target under role CONSULTANT")
	s.Equal(model.AssociationInactive, s.status(d, s.x, model.RoleConsultant))
	s.Equal(model.AssociationActive, s.status(d, s.z, model.RoleConsultant))

	doctor := s.doctor(d)
	s.Equal(s.z, *doctor.PrimaryBranchID)
	s.False(doctor.IsMultiBranch)
	testutil.RequireInvariants(s.T(), s.store, d)
}

func (s *TransferSuite) TestTransfer_ValidationErrors() {
	d := s.multiBranch()

	cases := []struct {
		name string
		req  model.TransferRequest
		want error
	}{
		{"same branch", model.TransferRequest{DoctorID: d, SourceBranchID: s.x, TargetBranchID: s.x}, apperrors.ErrInvalidRequest},
		{"unknown type", model.TransferRequest{DoctorID: d, SourceBranchID: s.x, TargetBranchID: s.z, TransferType: "SIDEWAYS"}, apperrors.ErrInvalidRequest},
		{"unknown doctor", model.TransferRequest{DoctorID: uuid.New(), SourceBranchID: s.x, TargetBranchID: s.z}, apperrors.ErrDoctorNotFound},
		{"unknown target", model.TransferRequest{DoctorID: d, SourceBranchID: s.x, TargetBranchID: uuid.New()}, apperrors.ErrBranchNotFound},
		{"not at source", model.TransferRequest{DoctorID: d, SourceBranchID: s.z, TargetBranchID: s.y}, apperrors.ErrNotAssociated},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			before := s.rows(d)
			result, err := s.coordinator.TransferDoctor(s.ctx, tc.req)
			s.ErrorIs(err, tc.want)
			s.Nil(result)
			s.Equal(before, s.rows(d))
		})
	}
}

func (s *TransferSuite) TestTransfer_CapacityCheckedUnlessEmergency() {
	d := s.multiBranch()
	s.dir.SetFull(s.z, true)

	req := model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: s.x,
		TargetBranchID: s.z,
		Options:        model.TransferOptions{ValidateTargetBranchCapacity: true},
	}
	_, err := s.coordinator.TransferDoctor(s.ctx, req)
	s.ErrorIs(err, apperrors.ErrCapacityExceeded)

	req.TransferType = model.TransferTypeEmergency
	result, err := s.coordinator.TransferDoctor(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(model.TransferSuccess, result.Status)
	s.Equal(model.TransferTypeEmergency, result.TransferType)
}

func (s *TransferSuite) TestTransfer_AccessDenied() {
	d := s.multiBranch()
	ctx := access.WithActor(context.Background(), model.Actor{ID: "clerk", BranchIDs: []uuid.UUID{s.x}})

	_, err := s.coordinator.TransferDoctor(ctx, model.TransferRequest{DoctorID: d, SourceBranchID: s.x, TargetBranchID: s.z})
	s.ErrorIs(err, apperrors.ErrBranchAccessDenied)
	s.Equal(model.AssociationActive, s.status(d, s.x, model.RoleConsultant))
}

func (s *TransferSuite) TestTransfer_FailureLeavesNothingBehind() {
	d := s.multiBranch()
	before := s.rows(d)
	doctorBefore := s.doctor(d)
	eventsBefore := len(s.store.Events())

	faulty := &faultyStore{Store: s.store, wrap: func(tx repository.Tx) repository.Tx {
		return &failingTx{Tx: tx, failCreateTransfer: true}
	}}
	result, err := s.newCoordinator(faulty).TransferDoctor(s.ctx, model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: s.x,
		TargetBranchID: s.z,
	})
	s.Require().NoError(err)
	s.Equal(model.TransferFailed, result.Status)
	s.False(result.RollbackAvailable)
	s.Nil(result.RollbackID)
	s.Empty(result.MovedRoles)
	s.Require().Len(result.Errors, 1)
	s.Contains(result.Errors[0], errInjected.Error())

	s.Equal(before, s.rows(d))
	s.Equal(doctorBefore, s.doctor(d))
	s.Len(s.store.Events(), eventsBefore)
	s.Equal(doctorBefore.PrimaryBranchID, result.PrimaryBranchID)
	s.Len(result.BranchAssignments, 2)

	_, err = s.coordinator.GetTransfer(s.ctx, result.TransferID)
	s.ErrorIs(err, apperrors.ErrTransferNotFound)
}

func (s *TransferSuite) TestTransfer_PartialMoveLeavesNothingBehind() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	s.add(d, s.x, model.RoleSpecialist)
	s.add(d, s.x, model.RoleResident)
	s.add(d, s.y, model.RoleConsultant)
	before := s.rows(d)
	doctorBefore := s.doctor(d)
	eventsBefore := len(s.store.Events())

	faulty := &faultyStore{Store: s.store, wrap: func(tx repository.Tx) repository.Tx {
		return &failingTx{Tx: tx, failUpsertAt: s.z, failUpsertNth: 3}
	}}
	result, err := s.newCoordinator(faulty).TransferDoctor(s.ctx, model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: s.x,
		TargetBranchID: s.z,
	})
	s.Require().NoError(err)
	s.Equal(model.TransferFailed, result.Status)
	s.Empty(result.MovedRoles)
	s.Nil(result.RollbackID)
	s.Require().Len(result.Errors, 1)
	s.Contains(result.Errors[0], errInjected.Error())

	s.Equal(before, s.rows(d))
	s.Equal(doctorBefore, s.doctor(d))
	s.Len(s.store.Events(), eventsBefore)
	for _, a := range s.store.Associations() {
		s.NotEqual(s.z, a.BranchID)
	}
	testutil.RequireInvariants(s.T(), s.store, d)
}

func (s *TransferSuite) TestRollback_RefusedAfterBranchPurge() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	result := s.transfer(d, s.x, s.z)

	_, err := s.associations.PurgeBranch(s.ctx, s.x)
	s.Require().NoError(err)
	_, err = s.store.Get(s.ctx, model.AssociationKey{DoctorID: d, BranchID: s.x, Role: model.RoleConsultant})
	s.Require().ErrorIs(err, repository.ErrNotFound)

	_, err = s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.ErrorIs(err, apperrors.ErrRollbackUnavailable)

	_, err = s.store.Get(s.ctx, model.AssociationKey{DoctorID: d, BranchID: s.x, Role: model.RoleConsultant})
	s.ErrorIs(err, repository.ErrNotFound)
	doctor := s.doctor(d)
	s.Require().NotNil(doctor.PrimaryBranchID)
	s.Equal(s.z, *doctor.PrimaryBranchID)
	testutil.RequireInvariants(s.T(), s.store, d)
}

func (s *TransferSuite) TestEmergencyTransfer_TargetFailureStillVacatesSource() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleEmergencyDoctor)

	faulty := &faultyStore{Store: s.store, wrap: func(tx repository.Tx) repository.Tx {
		return &failingTx{Tx: tx, failUpsertAt: s.z}
	}}
	coordinator := s.newCoordinator(faulty)
	result, err := coordinator.EmergencyTransfer(s.ctx, d, model.EmergencyTransferRequest{
		SourceBranchID: s.x,
		TargetBranchID: s.z,
		Reason:         "flood",
	})
	s.Require().NoError(err)
	s.Equal(model.TransferSuccess, result.Status)
	s.Require().Len(result.Errors, 1)
	s.Contains(result.Errors[0], "EMERGENCY_DOCTOR")

	s.Equal(model.AssociationInactive, s.status(d, s.x, model.RoleEmergencyDoctor))
	_, err = s.store.Get(s.ctx, model.AssociationKey{DoctorID: d, BranchID: s.z, Role: model.RoleEmergencyDoctor})
	s.ErrorIs(err, repository.ErrNotFound)

	doctor := s.doctor(d)
	s.Nil(doctor.PrimaryBranchID)
	s.Equal(model.DoctorStatusActive, doctor.Status)
	testutil.RequireInvariants(s.T(), s.store, d)

	rolled, err := coordinator.Rollback(s.ctx, *result.RollbackID)
	s.Require().NoError(err)
	s.Equal(1, rolled.RestoredAssociations)
	s.Equal(model.AssociationActive, s.status(d, s.x, model.RoleEmergencyDoctor))
	s.Equal(s.x, *s.doctor(d).PrimaryBranchID)
}

func (s *TransferSuite) TestRollback_RestoresPreviousState() {
	d := s.multiBranch()
	s.add(d, s.z, model.RoleResident)
	err := s.associations.RemoveAssociation(s.ctx, d, s.z, model.RoleResident, "left")
	s.Require().NoError(err)
	before := s.rows(d)
	doctorBefore := s.doctor(d)

	result, err := s.coordinator.TransferDoctor(s.ctx, model.TransferRequest{
		DoctorID:       d,
		SourceBranchID: s.x,
		TargetBranchID: s.z,
		Options:        model.TransferOptions{Roles: []model.PracticeRole{model.RoleConsultant}},
	})
	s.Require().NoError(err)
	s.Equal(s.y, *s.doctor(d).PrimaryBranchID)

	rolled, err := s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.Require().NoError(err)
	s.Equal(model.TransferRolledBack, rolled.Status)
	s.Equal(2, rolled.RestoredAssociations)

	after := s.rows(d)
	// The transfer created z/CONSULTANT; rollback leaves it INACTIVE.
	created := model.AssociationKey{DoctorID: d, BranchID: s.z, Role: model.RoleConsultant}
	s.Equal(model.AssociationInactive, after[created])
	delete(after, created)
	s.Equal(before, after)

	doctor := s.doctor(d)
	s.Equal(doctorBefore.PrimaryBranchID, doctor.PrimaryBranchID)
	s.Equal(doctorBefore.IsMultiBranch, doctor.IsMultiBranch)
	testutil.RequireInvariants(s.T(), s.store, d)

	rec, err := s.coordinator.GetTransfer(s.ctx, result.TransferID)
	s.Require().NoError(err)
	s.Equal(model.TransferRolledBack, rec.Status)
	s.NotNil(rec.RolledBackAt)

	_, err = s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.ErrorIs(err, apperrors.ErrRollbackUnavailable)
}

func (s *TransferSuite) TestRollback_RestoresReactivatedTarget() {
	d := testutil.SeedDoctor(s.store, "D")
	s.add(d, s.x, model.RoleConsultant)
	s.add(d, s.z, model.RoleConsultant)
	err := s.associations.RemoveAssociation(s.ctx, d, s.z, model.RoleConsultant, "left")
	s.Require().NoError(err)

	result := s.transfer(d, s.x, s.z)
	s.Equal(model.AssociationActive, s.status(d, s.z, model.RoleConsultant))

	_, err = s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.Require().NoError(err)
	s.Equal(model.AssociationActive, s.status(d, s.x, model.RoleConsultant))
	s.Equal(model.AssociationInactive, s.status(d, s.z, model.RoleConsultant))
	s.Equal(s.x, *s.doctor(d).PrimaryBranchID)
}

func (s *TransferSuite) TestRollback_StaleAfterLaterChange() {
	d := s.multiBranch()
	result := s.transfer(d, s.x, s.z)
	s.add(d, s.x, model.RoleResident)

	_, err := s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.ErrorIs(err, apperrors.ErrRollbackUnavailable)
	s.Equal(model.AssociationInactive, s.status(d, s.x, model.RoleConsultant))
}

func (s *TransferSuite) TestRollback_Expired() {
	d := s.multiBranch()
	result := s.transfer(d, s.x, s.z)
	s.clock.Advance(DefaultRetention + time.Minute)

	_, err := s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.ErrorIs(err, apperrors.ErrRollbackUnavailable)

	n, err := s.coordinator.CleanupExpired(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	_, err = s.coordinator.Rollback(s.ctx, *result.RollbackID)
	s.ErrorIs(err, apperrors.ErrTransferNotFound)
}

func (s *TransferSuite) TestRollback_UnknownID() {
	_, err := s.coordinator.Rollback(s.ctx, uuid.New())
	s.ErrorIs(err, apperrors.ErrTransferNotFound)
}

func (s *TransferSuite) TestCanTransferDoctor() {
	d := s.multiBranch()

	out, err := s.coordinator.CanTransferDoctor(s.ctx, d, s.z)
	s.Require().NoError(err)
	s.True(out.CanTransfer)
	s.Empty(out.Reasons)
	s.Len(out.Current, 2)

	s.dir.SetFull(s.z, true)
	out, err = s.coordinator.CanTransferDoctor(s.ctx, d, s.z)
	s.Require().NoError(err)
	s.False(out.CanTransfer)
	s.Len(out.Reasons, 1)

	only := testutil.SeedDoctor(s.store, "Only")
	s.add(only, s.y, model.RoleConsultant)
	out, err = s.coordinator.CanTransferDoctor(s.ctx, only, s.y)
	s.Require().NoError(err)
	s.False(out.CanTransfer)
	s.Contains(out.Reasons, "doctor is only associated with the target branch")

	none := testutil.SeedDoctor(s.store, "None")
	out, err = s.coordinator.CanTransferDoctor(s.ctx, none, s.y)
	s.Require().NoError(err)
	s.Contains(out.Reasons, "doctor has no active branch associations")

	_, err = s.coordinator.CanTransferDoctor(s.ctx, uuid.New(), s.y)
	s.ErrorIs(err, apperrors.ErrDoctorNotFound)
}
