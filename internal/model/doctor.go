package model

import (
	"time"

	"github.com/google/uuid"
)

type DoctorStatus string

const (
	DoctorStatusActive    DoctorStatus = "ACTIVE"
	DoctorStatusInactive  DoctorStatus = "INACTIVE"
	DoctorStatusSuspended DoctorStatus = "SUSPENDED"
)

func (s DoctorStatus) Valid() bool {
	switch s {
	case DoctorStatusActive, DoctorStatusInactive, DoctorStatusSuspended:
		return true
	}
	return false
}

// Doctor is the subset of the doctor profile aggregate that branch
// associations derive. AssociationVersion increases on every association
// mutation and is used to detect stale transfer snapshots.
type Doctor struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	Name               string       `db:"name" json:"name"`
	Status             DoctorStatus `db:"status" json:"status"`
	PrimaryBranchID    *uuid.UUID   `db:"primary_branch_id" json:"primary_branch_id,omitempty"`
	IsMultiBranch      bool         `db:"is_multi_branch" json:"is_multi_branch"`
	AssociationVersion int64        `db:"association_version" json:"association_version"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the doctor.
func (d *Doctor) Clone() *Doctor {
	c := *d
	if d.PrimaryBranchID != nil {
		id := *d.PrimaryBranchID
		c.PrimaryBranchID = &id
	}
	return &c
}

// IsPrimary reports whether branchID is the doctor's primary branch.
func (d *Doctor) IsPrimary(branchID uuid.UUID) bool {
	return d.PrimaryBranchID != nil && *d.PrimaryBranchID == branchID
}

type UpdateDoctorStatusRequest struct {
	Status DoctorStatus `json:"status" binding:"required,oneof=ACTIVE INACTIVE SUSPENDED"`
	Reason string       `json:"reason"`
}
