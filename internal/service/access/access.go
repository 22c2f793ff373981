// Package access decides whether an actor may act on a branch.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

type Authorizer interface {
	HasBranchAccess(ctx context.Context, actor model.Actor, branchID uuid.UUID) (bool, error)
}

// ClaimsAuthorizer grants access from the branch list carried in the
// actor's token. Admins may act on any branch.
type ClaimsAuthorizer struct{}

func NewClaimsAuthorizer() ClaimsAuthorizer {
	return ClaimsAuthorizer{}
}

func (ClaimsAuthorizer) HasBranchAccess(_ context.Context, actor model.Actor, branchID uuid.UUID) (bool, error) {
	if actor.HasRole(model.RoleAdmin) {
		return true, nil
	}
	for _, id := range actor.BranchIDs {
		if id == branchID {
			return true, nil
		}
	}
	return false, nil
}

// AllowAll grants every request. Used for internal callers and tests.
type AllowAll struct{}

func (AllowAll) HasBranchAccess(context.Context, model.Actor, uuid.UUID) (bool, error) {
	return true, nil
}

type actorKey struct{}

// WithActor stores the caller on ctx.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller stored on ctx, or the zero Actor.
func ActorFrom(ctx context.Context) model.Actor {
	actor, _ := ctx.Value(actorKey{}).(model.Actor)
	return actor
}
