package dto

import (
	"time"

	"github.com/noah-isme/fileshare-api/internal/models"
)

// AccessView reports how the caller relates to a file.
type AccessView struct {
	Granted           bool   `json:"granted"`
	EffectiveRole     string `json:"effectiveRole,omitempty"`
	Source            string `json:"source"`
	IsOwner           bool   `json:"isOwner"`
	HasPendingRequest bool   `json:"hasPendingRequest"`
}

// DownloadLink is a short-lived signed URL path for the file bytes.
type DownloadLink struct {
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileView is the read surface of a file for one caller.
type FileView struct {
	File     *models.File  `json:"file,omitempty"`
	Access   AccessView    `json:"access"`
	Download *DownloadLink `json:"download,omitempty"`
}

// GrantRequest approves access for a user.
type GrantRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Role   string `json:"role" validate:"required,max=16"`
}

// DenyRequest rejects a pending access request.
type DenyRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

// ManageAccessRequest changes or removes a share; Role "remove" revokes.
type ManageAccessRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Role   string `json:"role" validate:"required,max=16"`
}

// ShareByEmailRequest shares a file with the account owning Email.
type ShareByEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"required,max=16"`
}

// GeneralAccessRequest is a partial update of a file's general access.
type GeneralAccessRequest struct {
	AccessType       *string `json:"accessType"`
	PublicPermission *string `json:"publicPermission"`
}

// RequestAccessResult tells the requester what happened.
type RequestAccessResult struct {
	Status string `json:"status"`
}

// Request access outcomes.
const (
	RequestStatusPending        = "pending"
	RequestStatusAlreadyPending = "already_pending"
	RequestStatusAlreadyGranted = "already_granted"
)

// MarkAllReadResult reports how many notifications changed.
type MarkAllReadResult struct {
	ModifiedCount int64 `json:"modifiedCount"`
}
