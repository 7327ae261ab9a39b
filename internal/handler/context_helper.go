package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/middleware"
	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// principalFromContext returns nil for anonymous callers.
func principalFromContext(c *gin.Context) *models.Principal {
	return models.PrincipalFromClaims(claimsFromContext(c))
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

// mutationMeta reports a notification that failed after its mutation committed.
func mutationMeta(c *gin.Context, notifyErr error) map[string]interface{} {
	if notifyErr != nil {
		middleware.SetMeta(c, "notification_error", appErrors.FromError(notifyErr).Message)
	}
	return middleware.ExtractMeta(c)
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
