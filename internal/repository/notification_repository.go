package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fileshare-api/internal/models"
)

const notificationColumns = `id, recipient_id, sender_id, file_id, type, message, read, created_at`

// NotificationRepository persists notification records.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, sender_id, file_id, type, message, read, created_at) VALUES (:id, :recipient_id, :sender_id, :file_id, :type, :message, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns one notification.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &n, nil
}

// ListByRecipient returns a page of the recipient's notifications, newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := `WHERE recipient_id = $1`
	if filter.UnreadOnly {
		where += ` AND read = FALSE`
	}
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT %s FROM notifications %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, notificationColumns, where, pageSize, (page-1)*pageSize)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, listQuery, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications `+where, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead flags one of the recipient's notifications as read. Repeating
// the call is harmless.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2 AND read = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, recipientID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead flags every unread notification of the recipient and returns
// how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND read = FALSE`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountUnread returns the recipient's unread total.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE`, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}
