package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PracticeRole string

const (
	RoleConsultant       PracticeRole = "CONSULTANT"
	RoleVisitingDoctor   PracticeRole = "VISITING_DOCTOR"
	RoleHeadOfDepartment PracticeRole = "HEAD_OF_DEPARTMENT"
	RoleResident         PracticeRole = "RESIDENT"
	RoleSpecialist       PracticeRole = "SPECIALIST"
	RoleEmergencyDoctor  PracticeRole = "EMERGENCY_DOCTOR"
)

// PracticeRoles lists every known role in a stable order.
var PracticeRoles = []PracticeRole{
	RoleConsultant,
	RoleVisitingDoctor,
	RoleHeadOfDepartment,
	RoleResident,
	RoleSpecialist,
	RoleEmergencyDoctor,
}

func (r PracticeRole) Valid() bool {
	for _, known := range PracticeRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParsePracticeRole accepts any letter case and surrounding whitespace.
func ParsePracticeRole(s string) (PracticeRole, error) {
	r := PracticeRole(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown practice role %q", s)
	}
	return r, nil
}

type AssociationStatus string

const (
	AssociationActive   AssociationStatus = "ACTIVE"
	AssociationInactive AssociationStatus = "INACTIVE"
)

func (s AssociationStatus) Valid() bool {
	return s == AssociationActive || s == AssociationInactive
}

// AssociationKey is the natural identity of a branch association.
type AssociationKey struct {
	DoctorID uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	BranchID uuid.UUID    `db:"branch_id" json:"branch_id"`
	Role     PracticeRole `db:"practice_role" json:"practice_role"`
}

func (k AssociationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DoctorID, k.BranchID, k.Role)
}

// BranchAssociation records that a doctor practices at a branch under a role.
// Rows are never removed in normal operation; deactivation flips Status.
type BranchAssociation struct {
	AssociationKey
	Status             AssociationStatus `db:"status" json:"status"`
	DeactivationReason *string           `db:"deactivation_reason" json:"deactivation_reason,omitempty"`
	DeactivatedAt      *time.Time        `db:"deactivated_at" json:"deactivated_at,omitempty"`
	Timestamps
}

func (a *BranchAssociation) Active() bool {
	return a.Status == AssociationActive
}

// Clone returns a deep copy of the association.
func (a *BranchAssociation) Clone() *BranchAssociation {
	c := *a
	if a.DeactivationReason != nil {
		r := *a.DeactivationReason
		c.DeactivationReason = &r
	}
	if a.DeactivatedAt != nil {
		t := *a.DeactivatedAt
		c.DeactivatedAt = &t
	}
	return &c
}

// SortAssociations orders associations by creation time, then branch and role.
func SortAssociations(list []*BranchAssociation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.BranchID != b.BranchID {
			return a.BranchID.String() < b.BranchID.String()
		}
		return a.Role < b.Role
	})
}

// DistinctBranches returns the distinct branch ids of list, in first-seen order.
func DistinctBranches(list []*BranchAssociation) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(list))
	out := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		if _, ok := seen[a.BranchID]; ok {
			continue
		}
		seen[a.BranchID] = struct{}{}
		out = append(out, a.BranchID)
	}
	return out
}

// AssociationFilter narrows association queries.
type AssociationFilter struct {
	Status *AssociationStatus
	Role   *PracticeRole
}

func (f AssociationFilter) Match(a *BranchAssociation) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Role != nil && a.Role != *f.Role {
		return false
	}
	return true
}

type AssociationPage struct {
	Items    []*BranchAssociation `json:"items"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// BranchAssignment is the per-branch view of a doctor's ACTIVE associations.
type BranchAssignment struct {
	BranchID  uuid.UUID      `json:"branch_id"`
	Roles     []PracticeRole `json:"roles"`
	IsPrimary bool           `json:"is_primary"`
	Since     time.Time      `json:"since"`
}

// BuildAssignments groups ACTIVE associations by branch, oldest branch first.
func BuildAssignments(doctor *Doctor, active []*BranchAssociation) []BranchAssignment {
	sorted := make([]*BranchAssociation, 0, len(active))
	for _, a := range active {
		if a.Active() {
			sorted = append(sorted, a)
		}
	}
	SortAssociations(sorted)

	index := make(map[uuid.UUID]int)
	out := make([]BranchAssignment, 0)
	for _, a := range sorted {
		i, ok := index[a.BranchID]
		if !ok {
			index[a.BranchID] = len(out)
			out = append(out, BranchAssignment{
				BranchID:  a.BranchID,
				IsPrimary: doctor != nil && doctor.IsPrimary(a.BranchID),
				Since:     a.CreatedAt,
			})
			i = len(out) - 1
		}
		out[i].Roles = append(out[i].Roles, a.Role)
	}
	return out
}

type AddAssociationRequest struct {
	BranchID uuid.UUID    `json:"branch_id" binding:"required"`
	Role     PracticeRole `json:"practice_role" binding:"required,practice_role"`
}

type BatchAssociationRequest struct {
	Items []AddAssociationRequest `json:"items" binding:"required,min=1,dive"`
}

// BatchItem is a single (branch, role) pair of a batch add.
type BatchItem struct {
	BranchID uuid.UUID    `json:"branch_id"`
	Role     PracticeRole `json:"practice_role"`
}

type BatchResult struct {
	DoctorID uuid.UUID            `json:"doctor_id"`
	Added    []*BranchAssociation `json:"added"`
	Warnings []string             `json:"warnings,omitempty"`
}

type CurrentBranches struct {
	DoctorID        uuid.UUID          `json:"doctor_id"`
	PrimaryBranchID *uuid.UUID         `json:"primary_branch_id,omitempty"`
	IsMultiBranch   bool               `json:"is_multi_branch"`
	Branches        []BranchAssignment `json:"branches"`
}
