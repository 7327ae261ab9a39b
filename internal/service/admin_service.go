package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/export"
)

type adminFileStore interface {
	ListAll(ctx context.Context, filter models.FileFilter) ([]models.AdminFile, int, error)
	Stats(ctx context.Context) (int, int64, error)
}

type userCounter interface {
	Count(ctx context.Context) (int, error)
}

// AdminServiceConfig tunes the admin views.
type AdminServiceConfig struct {
	StatsTTL     time.Duration
	StoreTimeout time.Duration
}

// AdminService serves the cross-owner file listing, totals and exports.
type AdminService struct {
	files   adminFileStore
	users   userCounter
	cache   *CacheService
	logger  *zap.Logger
	cfg     AdminServiceConfig
	nowFunc func() time.Time
}

// NewAdminService constructs an AdminService.
func NewAdminService(files adminFileStore, users userCounter, cache *CacheService, logger *zap.Logger, cfg AdminServiceConfig) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &AdminService{files: files, users: users, cache: cache, logger: logger, cfg: cfg, nowFunc: time.Now}
}

// ListFiles returns every file with its owner, newest first.
func (s *AdminService) ListFiles(ctx context.Context, principal *models.Principal, filter models.FileFilter) ([]models.AdminFile, *models.Pagination, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, nil, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = 20
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	files, total, err := s.files.ListAll(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list files")
	}
	return files, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Stats returns platform totals, served from cache when fresh.
func (s *AdminService) Stats(ctx context.Context, principal *models.Principal) (*models.AdminStats, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	var cached models.AdminStats
	if s.cache.Get(ctx, adminStatsCacheKey, &cached) {
		return &cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	totalFiles, totalBytes, err := s.files.Stats(storeCtx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load file stats")
	}
	totalUsers, err := s.users.Count(storeCtx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count users")
	}

	stats := &models.AdminStats{TotalFiles: totalFiles, TotalUsers: totalUsers, TotalBytes: totalBytes}
	s.cache.Set(ctx, adminStatsCacheKey, stats, s.cfg.StatsTTL)
	return stats, nil
}

// Export renders the full file listing as CSV or PDF.
func (s *AdminService) Export(ctx context.Context, principal *models.Principal, rawFormat string) (*export.Document, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	files, _, err := s.ListFiles(ctx, principal, models.FileFilter{Page: 1, PageSize: -1})
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Title:   "Files",
		Headers: []string{"ID", "Name", "Owner", "Owner Email", "Access", "Public Permission", "Size", "Updated"},
		Rows:    make([]map[string]string, 0, len(files)),
	}
	for _, f := range files {
		data.Rows = append(data.Rows, map[string]string{
			"ID":                f.ID,
			"Name":              f.Name,
			"Owner":             f.OwnerName,
			"Owner Email":       f.OwnerEmail,
			"Access":            string(f.AccessType),
			"Public Permission": string(f.PublicPermission),
			"Size":              strconv.FormatInt(f.SizeBytes, 10),
			"Updated":           f.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	doc, err := export.Render(format, fmt.Sprintf("files-%s", s.nowFunc().UTC().Format("20060102-150405")), data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	s.logger.Info("file export rendered", zap.String("format", string(format)), zap.Int("rows", len(files)))
	return doc, nil
}

func requireAdmin(principal *models.Principal) error {
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}
	return nil
}
