package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransferType string

const (
	TransferTypeBranch    TransferType = "BRANCH_TRANSFER"
	TransferTypeTemporary TransferType = "TEMPORARY_TRANSFER"
	TransferTypeEmergency TransferType = "EMERGENCY_TRANSFER"
)

func (t TransferType) Valid() bool {
	switch t {
	case TransferTypeBranch, TransferTypeTemporary, TransferTypeEmergency:
		return true
	}
	return false
}

type TransferStatus string

const (
	TransferRequested  TransferStatus = "REQUESTED"
	TransferValidating TransferStatus = "VALIDATING"
	TransferApplying   TransferStatus = "APPLYING"
	TransferSuccess    TransferStatus = "SUCCESS"
	TransferFailed     TransferStatus = "FAILED"
	TransferRolledBack TransferStatus = "ROLLED_BACK"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferRequested:  {TransferValidating, TransferFailed},
	TransferValidating: {TransferApplying, TransferFailed},
	TransferApplying:   {TransferSuccess, TransferFailed},
	TransferSuccess:    {TransferRolledBack},
}

// CanTransition reports whether a transfer may move from s to next.
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type TransferOptions struct {
	ValidateTargetBranchCapacity bool           `json:"validate_target_branch_capacity"`
	Reason                       string         `json:"reason,omitempty"`
	Roles                        []PracticeRole `json:"roles,omitempty" binding:"omitempty,dive,practice_role"`
}

type TransferRequest struct {
	DoctorID       uuid.UUID       `json:"-"`
	SourceBranchID uuid.UUID       `json:"source_branch_id" binding:"required"`
	TargetBranchID uuid.UUID       `json:"target_branch_id" binding:"required"`
	TransferType   TransferType    `json:"transfer_type"`
	Options        TransferOptions `json:"options"`
}

type EmergencyTransferRequest struct {
	SourceBranchID uuid.UUID `json:"source_branch_id" binding:"required"`
	TargetBranchID uuid.UUID `json:"target_branch_id" binding:"required"`
	Reason         string    `json:"reason" binding:"required"`
}

type TransferResult struct {
	TransferID        uuid.UUID          `json:"transfer_id"`
	DoctorID          uuid.UUID          `json:"doctor_id"`
	SourceBranchID    uuid.UUID          `json:"source_branch_id"`
	TargetBranchID    uuid.UUID          `json:"target_branch_id"`
	TransferType      TransferType       `json:"transfer_type"`
	Status            TransferStatus     `json:"status"`
	MovedRoles        []PracticeRole     `json:"moved_roles,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
	Errors            []string           `json:"errors,omitempty"`
	RollbackAvailable bool               `json:"rollback_available"`
	RollbackID        *uuid.UUID         `json:"rollback_id,omitempty"`
	PrimaryBranchID   *uuid.UUID         `json:"primary_branch_id,omitempty"`
	IsMultiBranch     bool               `json:"is_multi_branch"`
	BranchAssignments []BranchAssignment `json:"branch_assignments"`
	CompletedAt       time.Time          `json:"completed_at"`
}

// SnapshotEntry is the pre-transfer state of one association key touched by
// a transfer. Existed is false when the transfer created the row.
type SnapshotEntry struct {
	Key     AssociationKey    `json:"key"`
	Existed bool              `json:"existed"`
	Status  AssociationStatus `json:"status,omitempty"`
}

type TransferSnapshot struct {
	PrimaryBranchID *uuid.UUID      `json:"primary_branch_id,omitempty"`
	IsMultiBranch   bool            `json:"is_multi_branch"`
	Entries         []SnapshotEntry `json:"entries"`
}

func (s TransferSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *TransferSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = TransferSnapshot{}
		return nil
	default:
		return fmt.Errorf("unsupported snapshot type %T", src)
	}
}

// TransferRecord is the persisted outcome of a successful transfer, kept for
// the rollback retention window.
type TransferRecord struct {
	ID                 uuid.UUID        `db:"id" json:"transfer_id"`
	RollbackID         uuid.UUID        `db:"rollback_id" json:"rollback_id"`
	DoctorID           uuid.UUID        `db:"doctor_id" json:"doctor_id"`
	SourceBranchID     uuid.UUID        `db:"source_branch_id" json:"source_branch_id"`
	TargetBranchID     uuid.UUID        `db:"target_branch_id" json:"target_branch_id"`
	TransferType       TransferType     `db:"transfer_type" json:"transfer_type"`
	Status             TransferStatus   `db:"status" json:"status"`
	Reason             string           `db:"reason" json:"reason,omitempty"`
	RequestedBy        string           `db:"requested_by" json:"requested_by,omitempty"`
	Snapshot           TransferSnapshot `db:"snapshot" json:"snapshot"`
	AssociationVersion int64            `db:"association_version" json:"association_version"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	ExpiresAt          time.Time        `db:"expires_at" json:"expires_at"`
	RolledBackAt       *time.Time       `db:"rolled_back_at" json:"rolled_back_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *TransferRecord) Clone() *TransferRecord {
	c := *r
	c.Snapshot.Entries = append([]SnapshotEntry(nil), r.Snapshot.Entries...)
	if r.Snapshot.PrimaryBranchID != nil {
		id := *r.Snapshot.PrimaryBranchID
		c.Snapshot.PrimaryBranchID = &id
	}
	if r.RolledBackAt != nil {
		t := *r.RolledBackAt
		c.RolledBackAt = &t
	}
	return &c
}

type RollbackResult struct {
	RollbackID           uuid.UUID          `json:"rollback_id"`
	TransferID           uuid.UUID          `json:"transfer_id"`
	DoctorID             uuid.UUID          `json:"doctor_id"`
	Status               TransferStatus     `json:"status"`
	RestoredAssociations int                `json:"restored_associations"`
	PrimaryBranchID      *uuid.UUID         `json:"primary_branch_id,omitempty"`
	IsMultiBranch        bool               `json:"is_multi_branch"`
	BranchAssignments    []BranchAssignment `json:"branch_assignments"`
}

type TransferEligibility struct {
	DoctorID       uuid.UUID          `json:"doctor_id"`
	TargetBranchID uuid.UUID          `json:"target_branch_id"`
	CanTransfer    bool               `json:"can_transfer"`
	Reasons        []string           `json:"reasons,omitempty"`
	Current        []BranchAssignment `json:"current_branches"`
}
