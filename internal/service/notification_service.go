package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	ListByRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// NotificationServiceConfig tunes the emitter.
type NotificationServiceConfig struct {
	Timeout   time.Duration
	UnreadTTL time.Duration
}

// NotificationService emits sharing notifications and serves a recipient's
// inbox. Delivery is by polling; nothing is pushed.
type NotificationService struct {
	store   notificationStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     NotificationServiceConfig
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(store notificationStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &NotificationService{store: store, cache: cache, metrics: metrics, logger: logger, cfg: cfg}
}

// NewNotification builds an unread notification. It performs no I/O.
func NewNotification(recipientID, senderID, fileID string, kind models.NotificationType, message string) *models.Notification {
	n := &models.Notification{
		RecipientID: recipientID,
		SenderID:    senderID,
		Type:        kind,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if fileID != "" {
		n.FileID = &fileID
	}
	return n
}

// Emit persists n under the notify timeout. Failures are logged and counted
// and returned so the caller can surface them without undoing its mutation.
func (s *NotificationService) Emit(ctx context.Context, n *models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.store.Create(ctx, n); err != nil {
		s.metrics.RecordNotificationFailure(string(n.Type))
		s.logger.Error("notification not stored",
			zap.String("type", string(n.Type)),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err))
		return appErrors.Internal(err, "notification could not be recorded")
	}
	s.cache.Invalidate(ctx, unreadCacheKey(n.RecipientID))
	return nil
}

// List returns a page of the recipient's notifications newest first and
// the recipient's unread total.
func (s *NotificationService) List(ctx context.Context, recipientID string, page, pageSize int, unreadOnly bool) ([]models.Notification, *models.Pagination, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	filter := models.NotificationFilter{RecipientID: recipientID, UnreadOnly: unreadOnly, Page: page, PageSize: pageSize}
	items, total, err := s.store.ListByRecipient(ctx, filter)
	if err != nil {
		return nil, nil, 0, appErrors.Internal(err, "failed to list notifications")
	}
	unread, err := s.UnreadCount(ctx, recipientID)
	if err != nil {
		return nil, nil, 0, err
	}
	if items == nil {
		items = []models.Notification{}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, unread, nil
}

// UnreadCount returns the recipient's unread total, cached when enabled.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var cached int
	if s.cache.Get(ctx, unreadCacheKey(recipientID), &cached) {
		return cached, nil
	}
	count, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count unread notifications")
	}
	s.cache.Set(ctx, unreadCacheKey(recipientID), count, s.cfg.UnreadTTL)
	return count, nil
}

// MarkRead marks one notification read after checking it belongs to
// recipientID. Marking an already read notification succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to load notification")
	}
	if n.RecipientID != recipientID {
		return appErrors.Clone(appErrors.ErrForbidden, "notification belongs to another user")
	}
	if n.Read {
		return nil
	}
	if err := s.store.MarkRead(ctx, id, recipientID); err != nil {
		return appErrors.Internal(err, "failed to mark notification read")
	}
	s.cache.Invalidate(ctx, unreadCacheKey(recipientID))
	return nil
}

// MarkAllRead marks every unread notification of the recipient and returns
// the number changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	n, err := s.store.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to mark notifications read")
	}
	s.cache.Invalidate(ctx, unreadCacheKey(recipientID))
	return n, nil
}
