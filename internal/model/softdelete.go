package model

import (
	"github.com/google/uuid"
)

type BranchOperation string

const (
	OperationDeactivateBranches BranchOperation = "DEACTIVATE_BRANCHES"
	OperationActivateBranches   BranchOperation = "ACTIVATE_BRANCHES"
)

type BranchStatusRequest struct {
	BranchIDs          []uuid.UUID `json:"branch_ids" binding:"required,min=1"`
	Reason             string      `json:"reason"`
	UpdateGlobalStatus bool        `json:"update_global_status"`
}

// SoftDeleteSummary reports the outcome of a branch-scoped bulk status change.
type SoftDeleteSummary struct {
	DoctorID                uuid.UUID       `json:"doctor_id"`
	Success                 bool            `json:"success"`
	Message                 string          `json:"message"`
	AffectedBranches        []uuid.UUID     `json:"affected_branches"`
	AffectedAssociations    int64           `json:"affected_associations"`
	GlobalStatusChanged     bool            `json:"global_status_changed"`
	NewGlobalStatus         *DoctorStatus   `json:"new_global_status,omitempty"`
	RemainingActiveBranches int             `json:"remaining_active_branches"`
	TotalBranches           int             `json:"total_branches"`
	OperationType           BranchOperation `json:"operation_type"`
}
