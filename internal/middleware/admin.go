package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/response"
)

// RequireRoles admits only callers holding one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient role"))
			return
		}
		c.Next()
	}
}

// AdminOnly is RequireRoles(models.RoleAdmin).
func AdminOnly() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin)
}
