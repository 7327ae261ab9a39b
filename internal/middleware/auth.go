package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/logger"
	"github.com/noah-isme/fileshare-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator verifies an access token against the current account and
// returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present. Requests
// without one continue as anonymous; a malformed or invalid token is
// rejected rather than silently downgraded.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, err := bearerToken(header)
		if err != nil {
			response.Error(c, err)
			return
		}
		claims, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// Claims returns the authenticated caller's claims, or nil.
func Claims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func setClaims(c *gin.Context, claims *models.JWTClaims) {
	c.Set(ContextUserKey, claims)
	c.Set(logger.PrincipalKey, claims.UserID)
}
