package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/response"
)

// RequireRoles blocks callers whose token role is not in the allowed set.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
