// Package access decides what a principal may do with a file.
package access

import (
	"strings"

	"github.com/noah-isme/fileshare-api/internal/models"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

// Role is an effective permission level. It extends the share roles with
// the owner and the global admin bypass.
type Role string

const (
	RoleNone   Role = ""
	RoleView   Role = Role(models.ShareView)
	RoleEdit   Role = Role(models.ShareEdit)
	RoleDelete Role = Role(models.ShareDelete)
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

// CanEdit reports whether role may rename or replace content.
func CanEdit(role Role) bool {
	return role == RoleOwner || role == RoleEdit
}

// CanDelete reports whether role may delete the file.
func CanDelete(role Role) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleEdit, RoleDelete:
		return true
	default:
		return false
	}
}

// ParseShareRole validates a role for a sharedWith entry.
func ParseShareRole(raw string) (models.ShareRole, error) {
	switch role := models.ShareRole(strings.ToLower(strings.TrimSpace(raw))); role {
	case models.ShareView, models.ShareEdit, models.ShareDelete:
		return role, nil
	case "":
		return "", appErrors.Clone(appErrors.ErrValidation, "role is required")
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "role must be one of view, edit, delete")
	}
}

// ParsePublicPermission validates the permission granted by public access.
func ParsePublicPermission(raw string) (models.ShareRole, error) {
	switch role := models.ShareRole(strings.ToLower(strings.TrimSpace(raw))); role {
	case models.ShareView, models.ShareEdit:
		return role, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "publicPermission must be view or edit")
	}
}

// ParseAccessType validates a general-access mode.
func ParseAccessType(raw string) (models.AccessType, error) {
	switch at := models.AccessType(strings.ToLower(strings.TrimSpace(raw))); at {
	case models.AccessRestricted, models.AccessPublic:
		return at, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "accessType must be restricted or public")
	}
}
