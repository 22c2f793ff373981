package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

func TestClaimsAuthorizer(t *testing.T) {
	ctx := context.Background()
	branch := uuid.New()
	auth := NewClaimsAuthorizer()

	ok, err := auth.HasBranchAccess(ctx, model.Actor{ID: "u1", BranchIDs: []uuid.UUID{branch}}, branch)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.HasBranchAccess(ctx, model.Actor{ID: "u2", BranchIDs: []uuid.UUID{uuid.New()}}, branch)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = auth.HasBranchAccess(ctx, model.Actor{ID: "root", Roles: []string{model.RoleAdmin}}, branch)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActorContext(t *testing.T) {
	assert.Equal(t, model.Actor{}, ActorFrom(context.Background()))

	actor := model.Actor{ID: "u1", Email: "u1@example.com"}
	ctx := WithActor(context.Background(), actor)
	assert.Equal(t, actor, ActorFrom(ctx))
}
