package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/memory"
)

func TestRecorder_Emit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder().WithClock(func() time.Time { return at })
	doctorID := uuid.New()

	payload := DoctorStatusChanged{
		DoctorID: doctorID,
		From:     model.DoctorStatusActive,
		To:       model.DoctorStatusInactive,
	}
	require.NoError(t, rec.Emit(ctx, store, model.EventDoctorStatusChanged, doctorID, payload))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDoctorStatusChanged, events[0].EventType)
	assert.Equal(t, doctorID, events[0].AggregateID)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)
	assert.Equal(t, at, events[0].CreatedAt)

	var decoded DoctorStatusChanged
	require.NoError(t, json.Unmarshal(events[0].Payload, &decoded))
	assert.Equal(t, model.DoctorStatusInactive, decoded.To)
}

func TestRecorder_EmitDiscardedWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	doctorID := uuid.New()
	store.AddDoctor(&model.Doctor{ID: doctorID})
	rec := NewRecorder()

	boom := errors.New("boom")
	err := store.WithDoctorTx(ctx, doctorID, func(tx repository.Tx, _ *model.Doctor) error {
		require.NoError(t, rec.Emit(ctx, tx, model.EventAssociationAdded, doctorID, AssociationChanged{}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.Events())
}

func TestRecorder_EmitRejectsUnencodablePayload(t *testing.T) {
	err := NewRecorder().Emit(context.Background(), memory.NewStore(), "x", uuid.New(), make(chan int))
	assert.Error(t, err)
}
