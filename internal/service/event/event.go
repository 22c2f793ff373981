package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

// AssociationChanged is the payload of association.added and association.removed.
type AssociationChanged struct {
	Key             model.AssociationKey    `json:"key"`
	Status          model.AssociationStatus `json:"status"`
	Reactivated     bool                    `json:"reactivated,omitempty"`
	PrimaryBranchID *uuid.UUID              `json:"primary_branch_id,omitempty"`
	IsMultiBranch   bool                    `json:"is_multi_branch"`
	Actor           string                  `json:"actor,omitempty"`
	OccurredAt      time.Time               `json:"occurred_at"`
}

// BranchesChanged is the payload of branches.deactivated and branches.activated.
type BranchesChanged struct {
	DoctorID             uuid.UUID   `json:"doctor_id"`
	BranchIDs            []uuid.UUID `json:"branch_ids"`
	AffectedAssociations int64       `json:"affected_associations"`
	Reason               string      `json:"reason,omitempty"`
	Actor                string      `json:"actor,omitempty"`
	OccurredAt           time.Time   `json:"occurred_at"`
}

type DoctorTransferred struct {
	TransferID     uuid.UUID            `json:"transfer_id"`
	DoctorID       uuid.UUID            `json:"doctor_id"`
	SourceBranchID uuid.UUID            `json:"source_branch_id"`
	TargetBranchID uuid.UUID            `json:"target_branch_id"`
	TransferType   model.TransferType   `json:"transfer_type"`
	MovedRoles     []model.PracticeRole `json:"moved_roles"`
	Actor          string               `json:"actor,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

type TransferRolledBack struct {
	TransferID uuid.UUID `json:"transfer_id"`
	RollbackID uuid.UUID `json:"rollback_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	Restored   int       `json:"restored"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type DoctorStatusChanged struct {
	DoctorID   uuid.UUID          `json:"doctor_id"`
	From       model.DoctorStatus `json:"from"`
	To         model.DoctorStatus `json:"to"`
	Reason     string             `json:"reason,omitempty"`
	Actor      string             `json:"actor,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// AssociationsPurged is emitted by administrative hard deletes. A doctor purge
// sets DoctorID; a branch purge emits one event per doctor with both set.
type AssociationsPurged struct {
	DoctorID   *uuid.UUID `json:"doctor_id,omitempty"`
	BranchID   *uuid.UUID `json:"branch_id,omitempty"`
	Deleted    int64      `json:"deleted"`
	Actor      string     `json:"actor,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
