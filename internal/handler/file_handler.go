package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fileshare-api/internal/dto"
	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/internal/service"
	"github.com/noah-isme/fileshare-api/pkg/response"
)

const multipartOverhead = 1 << 20

type fileService interface {
	Upload(ctx context.Context, principal *models.Principal, in service.UploadInput) (*models.File, error)
	ListMine(ctx context.Context, principal *models.Principal, filter models.FileFilter) ([]models.File, *models.Pagination, error)
	Get(ctx context.Context, principal *models.Principal, fileID string) (*dto.FileView, error)
	OpenDownload(ctx context.Context, fileID, token string) (*models.File, io.ReadCloser, error)
	Update(ctx context.Context, principal *models.Principal, fileID string, in service.UpdateInput) (*models.File, error)
	Delete(ctx context.Context, principal *models.Principal, fileID string) error
	RequestAccess(ctx context.Context, principal *models.Principal, fileID string) (string, *service.MutationResult, error)
	ListRequests(ctx context.Context, principal *models.Principal, fileID string) ([]models.UserSummary, error)
	Grant(ctx context.Context, principal *models.Principal, fileID string, req dto.GrantRequest) (*service.MutationResult, error)
	Deny(ctx context.Context, principal *models.Principal, fileID string, req dto.DenyRequest) (*service.MutationResult, error)
	ManageAccess(ctx context.Context, principal *models.Principal, fileID string, req dto.ManageAccessRequest) (*service.MutationResult, error)
	ShareByEmail(ctx context.Context, principal *models.Principal, fileID string, req dto.ShareByEmailRequest) (*service.MutationResult, error)
	SetGeneralAccess(ctx context.Context, principal *models.Principal, fileID string, req dto.GeneralAccessRequest) (*models.File, error)
}

// FileHandler exposes file and sharing endpoints.
type FileHandler struct {
	service      fileService
	maxFileBytes int64
}

// NewFileHandler builds a FileHandler. maxFileBytes bounds upload bodies; zero disables the bound.
func NewFileHandler(svc fileService, maxFileBytes int64) *FileHandler {
	return &FileHandler{service: svc, maxFileBytes: maxFileBytes}
}

// Upload godoc
// @Summary Upload a file
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File content"
// @Param name formData string false "Display name, defaults to the uploaded filename"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	h.limitBody(c)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, invalidPayload(err, "file is required"))
		return
	}
	in, closer, err := uploadInput(header, c.PostForm("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closer.Close()

	file, err := h.service.Upload(c.Request.Context(), principalFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// ListMine godoc
// @Summary List my files
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param q query string false "Name search"
// @Success 200 {object} response.Envelope
// @Router /files/mine [get]
func (h *FileHandler) ListMine(c *gin.Context) {
	page, size := pageParams(c)
	files, pagination, err := h.service.ListMine(c.Request.Context(), principalFromContext(c), models.FileFilter{
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

// Get godoc
// @Summary Get a file
// @Description Anonymous callers may read public files.
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		if view != nil {
			response.ErrorWithMeta(c, err, map[string]interface{}{
				"has_pending_request": view.Access.HasPendingRequest,
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Download godoc
// @Summary Download file content with a signed token
// @Tags Files
// @Produce octet-stream
// @Param id path string true "File ID"
// @Param token query string true "Download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /files/{id}/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	file, body, err := h.service.OpenDownload(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, file.SizeBytes, contentType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Name),
	})
}

// Update godoc
// @Summary Rename a file or replace its content
// @Description JSON {"name"} renames; multipart with "file" replaces content and may rename.
// @Tags Files
// @Accept json,multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id} [put]
func (h *FileHandler) Update(c *gin.Context) {
	var in service.UpdateInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.limitBody(c)
		header, err := c.FormFile("file")
		if err != nil {
			response.Error(c, invalidPayload(err, "file is required"))
			return
		}
		content, closer, err := uploadInput(header, "")
		if err != nil {
			response.Error(c, err)
			return
		}
		defer closer.Close()
		in.Content = &content
		if name, ok := c.GetPostForm("name"); ok {
			in.Name = &name
		}
	} else {
		var req struct {
			Name *string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid update payload"))
			return
		}
		in.Name = req.Name
	}

	file, err := h.service.Update(c.Request.Context(), principalFromContext(c), c.Param("id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, file)
}

// Delete godoc
// @Summary Delete a file
// @Tags Files
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), principalFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RequestAccess godoc
// @Summary Request access to a file
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id}/request [post]
func (h *FileHandler) RequestAccess(c *gin.Context) {
	status, result, err := h.service.RequestAccess(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"status": status, "file": result.File}, mutationMeta(c, result.NotificationError))
}

// ListRequests godoc
// @Summary List pending access requests
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/requests [get]
func (h *FileHandler) ListRequests(c *gin.Context) {
	users, err := h.service.ListRequests(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, users)
}

// Grant godoc
// @Summary Grant access to a user
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body dto.GrantRequest true "Grant payload"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/grant [post]
func (h *FileHandler) Grant(c *gin.Context) {
	var req dto.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid grant payload"))
		return
	}
	h.respondMutation(c)(h.service.Grant(c.Request.Context(), principalFromContext(c), c.Param("id"), req))
}

// Deny godoc
// @Summary Deny a pending access request
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body dto.DenyRequest true "Deny payload"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/deny [post]
func (h *FileHandler) Deny(c *gin.Context) {
	var req dto.DenyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid deny payload"))
		return
	}
	h.respondMutation(c)(h.service.Deny(c.Request.Context(), principalFromContext(c), c.Param("id"), req))
}

// ManageAccess godoc
// @Summary Change or remove a user's share
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body dto.ManageAccessRequest true "Role or \"remove\""
// @Success 200 {object} response.Envelope
// @Router /files/{id}/manage-access [put]
func (h *FileHandler) ManageAccess(c *gin.Context) {
	var req dto.ManageAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid manage access payload"))
		return
	}
	h.respondMutation(c)(h.service.ManageAccess(c.Request.Context(), principalFromContext(c), c.Param("id"), req))
}

// ShareByEmail godoc
// @Summary Share a file with a registered email
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body dto.ShareByEmailRequest true "Share payload"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/share [post]
func (h *FileHandler) ShareByEmail(c *gin.Context) {
	var req dto.ShareByEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid share payload"))
		return
	}
	h.respondMutation(c)(h.service.ShareByEmail(c.Request.Context(), principalFromContext(c), c.Param("id"), req))
}

// SetGeneralAccess godoc
// @Summary Update general access
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body dto.GeneralAccessRequest true "General access"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/access [put]
func (h *FileHandler) SetGeneralAccess(c *gin.Context) {
	var req dto.GeneralAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid general access payload"))
		return
	}
	file, err := h.service.SetGeneralAccess(c.Request.Context(), principalFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, file)
}

func (h *FileHandler) respondMutation(c *gin.Context) func(*service.MutationResult, error) {
	return func(result *service.MutationResult, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, result.File, mutationMeta(c, result.NotificationError))
	}
}

func (h *FileHandler) limitBody(c *gin.Context) {
	if h.maxFileBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileBytes+multipartOverhead)
	}
}

func uploadInput(header *multipart.FileHeader, name string) (service.UploadInput, io.Closer, error) {
	body, err := header.Open()
	if err != nil {
		return service.UploadInput{}, nil, invalidPayload(err, "could not read uploaded file")
	}
	if strings.TrimSpace(name) == "" {
		name = header.Filename
	}
	return service.UploadInput{
		Name:        name,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        body,
	}, body, nil
}
