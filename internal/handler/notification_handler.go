package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/dto"
	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, recipientID string, page, pageSize int, unreadOnly bool) ([]models.Notification, *models.Pagination, int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// NotificationHandler serves the caller's notification inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler builds a NotificationHandler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param unread query bool false "Only unread"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, size := pageParams(c)
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))

	items, pagination, unread, err := h.service.List(c.Request.Context(), claims.UserID, page, size, unreadOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, map[string]interface{}{"unread": unread})
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark all my notifications read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications/mark-read-all [put]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	modified, err := h.service.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MarkAllReadResult{ModifiedCount: modified})
}
