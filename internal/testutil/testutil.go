// Package testutil holds fixtures shared by service and handler tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/memory"
)

// Clock advances by Step on every call to Now.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), Step: time.Second}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.Step)
	return c.t
}

// Advance moves the clock forward without returning a value.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// SeedDoctor adds an ACTIVE doctor with no associations.
func SeedDoctor(store *memory.Store, name string) uuid.UUID {
	id := uuid.New()
	store.AddDoctor(&model.Doctor{ID: id, Name: name, Status: model.DoctorStatusActive})
	return id
}

// RequireInvariants checks the doctor's derived branch fields and key
// uniqueness against the store contents.
func RequireInvariants(t *testing.T, store *memory.Store, doctorID uuid.UUID) {
	t.Helper()

	doctor, err := store.GetDoctor(context.Background(), doctorID)
	require.NoError(t, err)

	seen := make(map[model.AssociationKey]bool)
	active := make(map[uuid.UUID]bool)
	for _, a := range store.Associations() {
		if a.DoctorID != doctorID {
			continue
		}
		require.False(t, seen[a.AssociationKey], "duplicate association %s", a.AssociationKey)
		seen[a.AssociationKey] = true
		if a.Active() {
			active[a.BranchID] = true
		}
	}

	require.Equal(t, len(active) > 1, doctor.IsMultiBranch, "isMultiBranch must reflect distinct active branches")
	if len(active) == 0 {
		require.Nil(t, doctor.PrimaryBranchID, "doctor without active branches must have no primary")
		return
	}
	require.NotNil(t, doctor.PrimaryBranchID, "doctor with active branches must have a primary")
	require.True(t, active[*doctor.PrimaryBranchID], "primary branch must have an active association")
}
