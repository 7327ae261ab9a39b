package models

import "time"

// NotificationType classifies a sharing event.
type NotificationType string

const (
	NotificationRequest NotificationType = "request"
	NotificationGranted NotificationType = "granted"
	NotificationRevoked NotificationType = "revoked"
	NotificationUpdate  NotificationType = "update"
)

// Notification is an immutable record of a sharing event addressed to one
// user. Only Read changes after creation.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipientId"`
	SenderID    string           `db:"sender_id" json:"senderId"`
	FileID      *string          `db:"file_id" json:"fileId,omitempty"`
	Type        NotificationType `db:"type" json:"type"`
	Message     string           `db:"message" json:"message"`
	Read        bool             `db:"read" json:"read"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// NotificationFilter pages a recipient's notifications.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Page        int
	PageSize    int
}
