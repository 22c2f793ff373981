package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/pkg/auth"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

const ContextActorID = "actor_id"

type AuthMiddleware struct {
	tokens auth.TokenService
}

func NewAuthMiddleware(tokens auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and puts the caller on the request
// context for the services.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrUnauthenticated, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrUnauthenticated, "invalid authorization format"))
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrUnauthenticated, "invalid token"))
			return
		}

		actor := claims.Actor()
		c.Set(ContextActorID, actor.ID)
		c.Request = c.Request.WithContext(access.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RequireRole rejects callers whose token lacks role.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !access.ActorFrom(c.Request.Context()).HasRole(role) {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrBranchAccessDenied, "role %s required", role))
			return
		}
		c.Next()
	}
}

// RequireAdmin is RequireRole for administrators.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return m.RequireRole(model.RoleAdmin)
}
