package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

// ErrNotFound is returned by stores when a row does not exist. Services
// translate it into a domain error.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// AssociationStore persists (doctor, branch, role) rows. It performs no
	// validation; callers enforce invariants.
	AssociationStore interface {
		Get(ctx context.Context, key model.AssociationKey) (*model.BranchAssociation, error)
		ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error)
		ListByBranch(ctx context.Context, branchID uuid.UUID, status *model.AssociationStatus) ([]*model.BranchAssociation, error)
		Upsert(ctx context.Context, assoc *model.BranchAssociation) error
		SetStatus(ctx context.Context, key model.AssociationKey, status model.AssociationStatus, reason *string, at time.Time) error
		SetStatusBulk(ctx context.Context, doctorID uuid.UUID, branchIDs []uuid.UUID, status model.AssociationStatus, reason *string, at time.Time) (int64, error)
		HardDeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int64, error)
		HardDeleteDoctorBranch(ctx context.Context, doctorID, branchID uuid.UUID) (int64, error)
	}

	// DoctorStore touches only the doctor fields owned by this service.
	DoctorStore interface {
		GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		UpdateBranchState(ctx context.Context, doctor *model.Doctor) error
		UpdateDoctorStatus(ctx context.Context, id uuid.UUID, status model.DoctorStatus, at time.Time) error
		BumpAssociationVersion(ctx context.Context, id uuid.UUID) (int64, error)
	}

	TransferStore interface {
		CreateTransfer(ctx context.Context, rec *model.TransferRecord) error
		GetTransfer(ctx context.Context, id uuid.UUID) (*model.TransferRecord, error)
		GetTransferByRollbackID(ctx context.Context, rollbackID uuid.UUID) (*model.TransferRecord, error)
		MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) error
		DeleteExpiredTransfers(ctx context.Context, before time.Time) (int64, error)
	}

	OutboxWriter interface {
		CreateEvent(ctx context.Context, event *model.OutboxEvent) error
	}

	// Queries is the full set of reads and writes available with or
	// without a transaction.
	Queries interface {
		AssociationStore
		DoctorStore
		TransferStore
		OutboxWriter
	}

	// Tx is a unit of work scoped to one locked doctor.
	Tx interface {
		Queries
		// Savepoint runs fn; if fn fails only its writes are discarded and
		// the transaction stays usable.
		Savepoint(ctx context.Context, name string, fn func() error) error
	}

	// Store opens doctor-scoped transactions. WithDoctorTx locks the doctor
	// row for the lifetime of fn and commits all writes made through tx if
	// fn returns nil, discarding them otherwise. It returns ErrNotFound when
	// the doctor does not exist.
	Store interface {
		Queries
		WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(tx Tx, doctor *model.Doctor) error) error
	}

	// OutboxRepository is consumed by the outbox processor.
	OutboxRepository interface {
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
