package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fileshare-api/internal/access"
	"github.com/noah-isme/fileshare-api/internal/dto"
	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/internal/repository"
	"github.com/noah-isme/fileshare-api/pkg/config"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/storage"
)

const sniffLen = 3072

type fileStore interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error)
	AddAccessRequest(ctx context.Context, fileID, userID string) (bool, error)
	Grant(ctx context.Context, fileID, userID string, role models.ShareRole) (models.ShareRole, bool, error)
	UpdateShareRole(ctx context.Context, fileID, userID string, role models.ShareRole) (bool, bool, error)
	RemoveShare(ctx context.Context, fileID, userID string) (bool, error)
	DenyRequest(ctx context.Context, fileID, userID string) (bool, error)
	ListRequesters(ctx context.Context, fileID string) ([]models.UserSummary, error)
	SetGeneralAccess(ctx context.Context, fileID string, accessType *models.AccessType, permission *models.ShareRole) error
	UpdateContent(ctx context.Context, file *models.File) error
	Delete(ctx context.Context, fileID string) (string, error)
}

type userDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notifier interface {
	Emit(ctx context.Context, n *models.Notification) error
}

type blobReleaser interface {
	Release(ctx context.Context, key string)
}

// FileServiceConfig tunes the access-control gateway.
type FileServiceConfig struct {
	RestrictedReadResponse string
	StoreTimeout           time.Duration
	BlobTimeout            time.Duration
	MaxFileSizeBytes       int64
	DownloadPathPrefix     string
}

// UploadInput carries new file content.
type UploadInput struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UpdateInput renames a file, replaces its content, or both.
type UpdateInput struct {
	Name    *string
	Content *UploadInput
}

// MutationResult is the outcome of a sharing mutation. NotificationError is
// set when the mutation committed but its notification could not be stored.
type MutationResult struct {
	File              *models.File
	Changed           bool
	NotificationError error
}

// FileService is the access-control gateway: every file operation resolves
// the caller's access, authorizes it, then mutates state.
type FileService struct {
	files    fileStore
	users    userDirectory
	blobs    storage.BlobStore
	releaser blobReleaser
	notifier notifier
	audit     auditLogger
	validator *validator.Validate
	signer    *storage.DownloadSigner
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      FileServiceConfig
}

// NewFileService constructs a FileService.
func NewFileService(
	files fileStore,
	users userDirectory,
	blobs storage.BlobStore,
	releaser blobReleaser,
	notifier notifier,
	audit auditLogger,
	validate *validator.Validate,
	signer *storage.DownloadSigner,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg FileServiceConfig,
) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = 30 * time.Second
	}
	if cfg.RestrictedReadResponse == "" {
		cfg.RestrictedReadResponse = config.RestrictedReadForbidden
	}
	if cfg.DownloadPathPrefix == "" {
		cfg.DownloadPathPrefix = "/api/v1/files"
	}
	return &FileService{
		files:    files,
		users:    users,
		blobs:    blobs,
		releaser: releaser,
		notifier: notifier,
		audit:     audit,
		validator: validate,
		signer:    signer,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Upload stores the content and creates the file record owned by the caller.
// The blob is removed again when the record cannot be created.
func (s *FileService) Upload(ctx context.Context, principal *models.Principal, in UploadInput) (file *models.File, err error) {
	defer func() { s.metrics.RecordSharingOperation("upload", err) }()

	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}

	fileID := uuid.NewString()
	file = models.NewFile(fileID, principal.ID, name)
	if err := s.putContent(ctx, file, in); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.files.Create(storeCtx, file); err != nil {
		s.discardBlob(ctx, file.StorageKey)
		return nil, appErrors.Internal(err, "failed to save file")
	}

	s.metrics.ObserveUpload(file.SizeBytes)
	s.recordAudit(ctx, principal, models.AuditActionFileUpload, file.ID, map[string]interface{}{
		"name": file.Name,
		"size": file.SizeBytes,
	})
	s.logger.Info("file uploaded", zap.String("file_id", file.ID), zap.String("owner_id", principal.ID))
	return file, nil
}

// ListMine returns the caller's own files, newest first.
func (s *FileService) ListMine(ctx context.Context, principal *models.Principal, filter models.FileFilter) ([]models.File, *models.Pagination, error) {
	if principal == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	filter.OwnerID = principal.ID
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	files, total, err := s.files.ListByOwner(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list files")
	}
	return files, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns the caller's view of a file. When read is refused the returned
// view still carries the access summary so the caller can tell whether a
// request is pending.
func (s *FileService) Get(ctx context.Context, principal *models.Principal, fileID string) (*dto.FileView, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	view := &dto.FileView{Access: accessView(d)}
	if err := s.authorize(access.OpRead, d); err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return nil, err
		}
		return view, err
	}

	view.File = visibleTo(file, d)
	if s.signer != nil {
		token, expiresAt, err := s.signer.Sign(file.ID, file.StorageKey)
		if err != nil {
			s.logger.Warn("download token not issued", zap.String("file_id", file.ID), zap.Error(err))
		} else {
			view.Download = &dto.DownloadLink{
				Path:      fmt.Sprintf("%s/%s/download?token=%s", s.cfg.DownloadPathPrefix, file.ID, token),
				ExpiresAt: expiresAt,
			}
		}
	}
	return view, nil
}

// OpenDownload verifies a signed download token and opens the blob. The
// token is bound to the content it was issued for, so replaced content is
// not served through an old link.
func (s *FileService) OpenDownload(ctx context.Context, fileID, token string) (*models.File, io.ReadCloser, error) {
	if s.signer == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "downloads are not enabled")
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	if claims.FileID != fileID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}

	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.StorageKey != claims.StorageKey {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link is no longer valid")
	}

	body, err := s.blobs.Open(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file content not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to open file content")
	}
	return file, body, nil
}

// Update renames and/or replaces a file's content under the version check.
// New content is stored first; the old blob is released only after the
// record points at the new one.
func (s *FileService) Update(ctx context.Context, principal *models.Principal, fileID string, in UpdateInput) (file *models.File, err error) {
	defer func() { s.metrics.RecordSharingOperation("update", err) }()

	if in.Name == nil && in.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	var newName string
	if in.Name != nil {
		newName = strings.TrimSpace(*in.Name)
		if newName == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file name cannot be empty")
		}
	}

	file, err = s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if in.Name != nil {
		if err := s.authorize(access.OpRename, d); err != nil {
			return nil, err
		}
	}
	if in.Content != nil {
		if err := s.authorize(access.OpReplace, d); err != nil {
			return nil, err
		}
	}

	var oldKey, newKey string
	if in.Content != nil {
		staged := *file
		if err := s.putContent(ctx, &staged, *in.Content); err != nil {
			return nil, err
		}
		newKey = staged.StorageKey
		oldKey = file.ReplaceContent(staged.URL, staged.StorageKey, staged.ContentType, staged.SizeBytes)
	}
	if in.Name != nil {
		file.Name = newName
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.files.UpdateContent(storeCtx, file); err != nil {
		s.discardBlob(ctx, newKey)
		switch {
		case errors.Is(err, repository.ErrStaleVersion):
			return nil, appErrors.Clone(appErrors.ErrConflict, "file was modified concurrently, retry")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		default:
			return nil, appErrors.Internal(err, "failed to update file")
		}
	}

	if oldKey != "" && oldKey != newKey {
		s.release(ctx, oldKey)
	}

	values := map[string]interface{}{"version": file.Version}
	if in.Name != nil {
		values["name"] = file.Name
		s.recordAudit(ctx, principal, models.AuditActionFileRename, file.ID, values)
	}
	if in.Content != nil {
		values["size"] = file.SizeBytes
		s.recordAudit(ctx, principal, models.AuditActionFileReplace, file.ID, values)
	}
	return visibleTo(file, d), nil
}

// Delete removes the file record, then releases its blob best-effort.
func (s *FileService) Delete(ctx context.Context, principal *models.Principal, fileID string) (err error) {
	defer func() { s.metrics.RecordSharingOperation("delete", err) }()

	file, err := s.load(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.authorize(access.OpDelete, access.Resolve(file, principal)); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	key, err := s.files.Delete(storeCtx, file.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Internal(err, "failed to delete file")
	}

	s.release(ctx, key)
	s.recordAudit(ctx, principal, models.AuditActionFileDelete, file.ID, map[string]interface{}{"name": file.Name})
	return nil
}

// RequestAccess records a pending request from the caller and notifies the
// owner. Callers already holding access through an admin role or a share
// are left untouched.
func (s *FileService) RequestAccess(ctx context.Context, principal *models.Principal, fileID string) (status string, result *MutationResult, err error) {
	defer func() { s.metrics.RecordSharingOperation("request_access", err) }()

	file, err := s.load(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	d := access.Resolve(file, principal)
	if err := access.Authorize(access.OpRequestAccess, d); err != nil {
		return "", nil, err
	}

	result = &MutationResult{}
	if d.Source == access.SourceAdmin || d.Source == access.SourceShare {
		result.File = visibleTo(file, d)
		return dto.RequestStatusAlreadyGranted, result, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	added, err := s.files.AddAccessRequest(storeCtx, file.ID, principal.ID)
	if err != nil {
		return "", nil, s.mutationError(err, "failed to record access request")
	}
	if !added {
		d.HasPendingRequest = true
		result.File = visibleTo(file, d)
		return dto.RequestStatusAlreadyPending, result, nil
	}

	file.AddAccessRequest(principal.ID)
	d.HasPendingRequest = true
	result.File = visibleTo(file, d)
	result.Changed = true
	result.NotificationError = s.notify(ctx, file.OwnerID, principal.ID, file.ID, models.NotificationRequest,
		accessRequestedMessage(displayName(principal), file.Name))
	s.recordAudit(ctx, principal, models.AuditActionAccessRequest, file.ID, nil)
	return dto.RequestStatusPending, result, nil
}

// ListRequests returns the users with pending requests on the file.
func (s *FileService) ListRequests(ctx context.Context, principal *models.Principal, fileID string) ([]models.UserSummary, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(access.OpListRequests, access.Resolve(file, principal)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	users, err := s.files.ListRequesters(ctx, file.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list access requests")
	}
	return users, nil
}

// Grant shares the file with userID at role, consuming any pending request.
func (s *FileService) Grant(ctx context.Context, principal *models.Principal, fileID string, req dto.GrantRequest) (result *MutationResult, err error) {
	defer func() { s.metrics.RecordSharingOperation("grant", err) }()

	if err := s.validate(req, "invalid grant payload"); err != nil {
		return nil, err
	}
	userID := req.UserID
	role, err := access.ParseShareRole(req.Role)
	if err != nil {
		return nil, err
	}
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if err := s.authorize(access.OpGrant, d); err != nil {
		return nil, err
	}
	if userID == file.OwnerID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "the owner already has full access")
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.grant(ctx, file, userID, role); err != nil {
		return nil, err
	}

	result = &MutationResult{File: visibleTo(file, d), Changed: true}
	result.NotificationError = s.notify(ctx, userID, principal.ID, file.ID, models.NotificationGranted,
		accessGrantedMessage(displayName(principal), file.Name, role))
	s.recordAudit(ctx, principal, models.AuditActionShareGrant, file.ID, map[string]interface{}{
		"user_id": userID,
		"role":    role,
	})
	return result, nil
}

// Deny discards a pending request without granting anything.
func (s *FileService) Deny(ctx context.Context, principal *models.Principal, fileID string, req dto.DenyRequest) (result *MutationResult, err error) {
	defer func() { s.metrics.RecordSharingOperation("deny", err) }()

	if err := s.validate(req, "invalid deny payload"); err != nil {
		return nil, err
	}
	userID := req.UserID

	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if err := s.authorize(access.OpDeny, d); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	removed, err := s.files.DenyRequest(storeCtx, file.ID, userID)
	if err != nil {
		return nil, s.mutationError(err, "failed to deny access request")
	}
	if !removed {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no pending request from this user")
	}
	file.DenyRequest(userID)

	s.recordAudit(ctx, principal, models.AuditActionShareDeny, file.ID, map[string]interface{}{"user_id": userID})
	return &MutationResult{File: visibleTo(file, d), Changed: true}, nil
}

// ManageAccess changes an existing share's role, or removes it when the
// requested role is "remove". Setting the current role again changes nothing
// and notifies nobody.
func (s *FileService) ManageAccess(ctx context.Context, principal *models.Principal, fileID string, req dto.ManageAccessRequest) (result *MutationResult, err error) {
	defer func() { s.metrics.RecordSharingOperation("manage_access", err) }()

	if err := s.validate(req, "invalid manage access payload"); err != nil {
		return nil, err
	}
	userID := req.UserID
	remove := strings.EqualFold(strings.TrimSpace(req.Role), "remove")
	var role models.ShareRole
	if !remove {
		if role, err = access.ParseShareRole(req.Role); err != nil {
			return nil, err
		}
	}

	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if err := s.authorize(access.OpManageShare, d); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	result = &MutationResult{}
	if remove {
		removed, err := s.files.RemoveShare(storeCtx, file.ID, userID)
		if err != nil {
			return nil, s.mutationError(err, "failed to remove share")
		}
		if !removed {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user has no share on this file")
		}
		file.RemoveShare(userID)
		result.File = visibleTo(file, d)
		result.Changed = true
		result.NotificationError = s.notify(ctx, userID, principal.ID, file.ID, models.NotificationRevoked,
			accessRevokedMessage(displayName(principal), file.Name))
		s.recordAudit(ctx, principal, models.AuditActionShareRemove, file.ID, map[string]interface{}{"user_id": userID})
		return result, nil
	}

	changed, found, err := s.files.UpdateShareRole(storeCtx, file.ID, userID, role)
	if err != nil {
		return nil, s.mutationError(err, "failed to update share")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user has no share on this file")
	}
	result.Changed = changed
	if changed {
		file.UpdateShare(userID, role)
		result.NotificationError = s.notify(ctx, userID, principal.ID, file.ID, models.NotificationUpdate,
			accessUpdatedMessage(displayName(principal), file.Name, role))
		s.recordAudit(ctx, principal, models.AuditActionShareUpdate, file.ID, map[string]interface{}{
			"user_id": userID,
			"role":    role,
		})
	}
	result.File = visibleTo(file, d)
	return result, nil
}

// ShareByEmail grants access to the account registered under email.
func (s *FileService) ShareByEmail(ctx context.Context, principal *models.Principal, fileID string, req dto.ShareByEmailRequest) (result *MutationResult, err error) {
	defer func() { s.metrics.RecordSharingOperation("share_by_email", err) }()

	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate(req, "invalid share payload"); err != nil {
		return nil, err
	}
	email := req.Email
	role, err := access.ParseShareRole(req.Role)
	if err != nil {
		return nil, err
	}
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if err := s.authorize(access.OpShareByEmail, d); err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	target, err := s.users.FindByEmail(lookupCtx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no user with that email")
		}
		return nil, appErrors.Internal(err, "failed to look up user")
	}
	if target.ID == file.OwnerID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cannot share a file with its owner")
	}

	if err := s.grant(ctx, file, target.ID, role); err != nil {
		return nil, err
	}

	result = &MutationResult{File: visibleTo(file, d), Changed: true}
	result.NotificationError = s.notify(ctx, target.ID, principal.ID, file.ID, models.NotificationGranted,
		fileSharedMessage(displayName(principal), file.Name, role))
	s.recordAudit(ctx, principal, models.AuditActionShareGrant, file.ID, map[string]interface{}{
		"user_id": target.ID,
		"role":    role,
		"email":   target.Email,
	})
	return result, nil
}

// SetGeneralAccess updates the access type and/or the public permission.
// Omitted fields keep their value; shares are never touched.
func (s *FileService) SetGeneralAccess(ctx context.Context, principal *models.Principal, fileID string, req dto.GeneralAccessRequest) (file *models.File, err error) {
	defer func() { s.metrics.RecordSharingOperation("general_access", err) }()

	if req.AccessType == nil && req.PublicPermission == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "accessType or publicPermission is required")
	}
	var accessType *models.AccessType
	if req.AccessType != nil {
		parsed, err := access.ParseAccessType(*req.AccessType)
		if err != nil {
			return nil, err
		}
		accessType = &parsed
	}
	var permission *models.ShareRole
	if req.PublicPermission != nil {
		parsed, err := access.ParsePublicPermission(*req.PublicPermission)
		if err != nil {
			return nil, err
		}
		permission = &parsed
	}

	file, err = s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	d := access.Resolve(file, principal)
	if err := s.authorize(access.OpGeneralAccess, d); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.files.SetGeneralAccess(storeCtx, file.ID, accessType, permission); err != nil {
		return nil, s.mutationError(err, "failed to update general access")
	}
	file.SetGeneralAccess(accessType, permission)

	s.recordAudit(ctx, principal, models.AuditActionGeneralAccess, file.ID, map[string]interface{}{
		"access_type":       file.AccessType,
		"public_permission": file.PublicPermission,
	})
	return visibleTo(file, d), nil
}

func (s *FileService) grant(ctx context.Context, file *models.File, userID string, role models.ShareRole) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if _, _, err := s.files.Grant(storeCtx, file.ID, userID, role); err != nil {
		return s.mutationError(err, "failed to grant access")
	}
	if _, _, err := file.Grant(userID, role); err != nil {
		return appErrors.Clone(appErrors.ErrConflict, err.Error())
	}
	return nil
}

func (s *FileService) validate(req interface{}, message string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	return nil
}

// load fetches a file and maps a missing row to NotFound. Ids that are not
// UUIDs cannot exist and are reported the same way.
func (s *FileService) load(ctx context.Context, fileID string) (*models.File, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Internal(err, "failed to load file")
	}
	return file, nil
}

// authorize applies the policy and, when configured, reports refusals to
// callers without any access as NotFound.
func (s *FileService) authorize(op access.Operation, d access.Decision) error {
	err := access.Authorize(op, d)
	if err == nil {
		return nil
	}
	if s.cfg.RestrictedReadResponse == config.RestrictedReadNotFound && !d.Granted && !d.Anonymous {
		return appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return err
}

func (s *FileService) mutationError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return appErrors.Internal(err, message)
}

// putContent stores in under a fresh key and fills the content fields of
// file. The content type is sniffed when the client did not supply one.
func (s *FileService) putContent(ctx context.Context, file *models.File, in UploadInput) error {
	if in.Body == nil {
		return appErrors.Clone(appErrors.ErrValidation, "file content is required")
	}
	if s.cfg.MaxFileSizeBytes > 0 && in.Size > s.cfg.MaxFileSizeBytes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return appErrors.Clone(appErrors.ErrValidation, "could not read file content")
	}
	head = head[:n]

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(head).String()
	}

	key := path.Join(file.OwnerID, uuid.NewString(), safeObjectName(file.Name))
	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), in.Body)}

	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	url, err := s.blobs.Put(blobCtx, key, counter, in.Size, contentType)
	if err != nil {
		return appErrors.Internal(err, "failed to store file content")
	}
	if s.cfg.MaxFileSizeBytes > 0 && counter.n > s.cfg.MaxFileSizeBytes {
		s.discardBlob(ctx, key)
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}

	file.URL = url
	file.StorageKey = key
	file.ContentType = contentType
	file.SizeBytes = counter.n
	return nil
}

// discardBlob removes a blob that never became referenced by a record.
func (s *FileService) discardBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	s.release(ctx, key)
}

func (s *FileService) release(ctx context.Context, key string) {
	if s.releaser != nil {
		s.releaser.Release(ctx, key)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BlobTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("blob release failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *FileService) notify(ctx context.Context, recipientID, senderID, fileID string, kind models.NotificationType, message string) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Emit(ctx, NewNotification(recipientID, senderID, fileID, kind, message))
}

func (s *FileService) findUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to look up user")
	}
	return user, nil
}

func (s *FileService) recordAudit(ctx context.Context, principal *models.Principal, action, fileID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "file",
		ResourceID: &fileID,
	}
	if principal != nil {
		id := principal.ID
		entry.UserID = &id
	}
	if len(values) > 0 {
		if encoded, err := json.Marshal(values); err == nil {
			entry.NewValues = string(encoded)
		}
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record file audit log", zap.String("action", action), zap.Error(err))
	}
}

// visibleTo hides the share list and pending requests from callers that
// do not manage the file.
func visibleTo(file *models.File, d access.Decision) *models.File {
	if d.IsOwner || d.IsAdmin {
		return file
	}
	redacted := *file
	redacted.SharedWith = models.ShareSet{}
	redacted.AccessRequests = models.RequestSet{}
	return &redacted
}

func accessView(d access.Decision) dto.AccessView {
	view := dto.AccessView{
		Granted:           d.Granted,
		Source:            string(d.Source),
		IsOwner:           d.IsOwner,
		HasPendingRequest: d.HasPendingRequest,
	}
	if d.Role != access.RoleNone {
		view.EffectiveRole = string(d.Role)
	}
	return view
}

func displayName(p *models.Principal) string {
	if p == nil {
		return "Someone"
	}
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return "Someone"
}

func safeObjectName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	cleaned = strings.ReplaceAll(strings.Trim(cleaned, "."), "..", "_")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
