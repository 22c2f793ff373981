package model

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const RoleAdmin = "admin"

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID        string      `json:"id"`
	Email     string      `json:"email,omitempty"`
	Roles     []string    `json:"roles,omitempty"`
	BranchIDs []uuid.UUID `json:"branch_ids,omitempty"`
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenClaims represents JWT claims
type TokenClaims struct {
	jwt.RegisteredClaims
	Email     string      `json:"email,omitempty"`
	Roles     []string    `json:"roles,omitempty"`
	BranchIDs []uuid.UUID `json:"branch_ids,omitempty"`
}

func (c *TokenClaims) Actor() Actor {
	return Actor{
		ID:        c.Subject,
		Email:     c.Email,
		Roles:     c.Roles,
		BranchIDs: c.BranchIDs,
	}
}
