package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/pkg/export"
	"github.com/noah-isme/fileshare-api/pkg/response"
)

type adminService interface {
	ListFiles(ctx context.Context, principal *models.Principal, filter models.FileFilter) ([]models.AdminFile, *models.Pagination, error)
	Stats(ctx context.Context, principal *models.Principal) (*models.AdminStats, error)
	Export(ctx context.Context, principal *models.Principal, format string) (*export.Document, error)
}

// AdminHandler exposes the admin inventory.
type AdminHandler struct {
	service adminService
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(svc adminService) *AdminHandler {
	return &AdminHandler{service: svc}
}

// ListFiles godoc
// @Summary List all files
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param q query string false "Name or owner email search"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/files [get]
func (h *AdminHandler) ListFiles(c *gin.Context) {
	page, size := pageParams(c)
	files, pagination, err := h.service.ListFiles(c.Request.Context(), principalFromContext(c), models.FileFilter{
		Search:   strings.TrimSpace(c.Query("q")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, pagination)
}

// Stats godoc
// @Summary Platform totals
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), principalFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Export godoc
// @Summary Export the file inventory
// @Tags Admin
// @Produce text/csv,application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /admin/files/export [get]
func (h *AdminHandler) Export(c *gin.Context) {
	doc, err := h.service.Export(c.Request.Context(), principalFromContext(c), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}
