package access

import "github.com/noah-isme/fileshare-api/internal/models"

// Source names the rule that produced a decision.
type Source string

const (
	SourceNone   Source = "none"
	SourceAdmin  Source = "admin"
	SourceOwner  Source = "owner"
	SourceShare  Source = "share"
	SourcePublic Source = "public"
)

// Decision is the resolved relationship between a principal and a file.
type Decision struct {
	Granted bool
	// Role is the effective role after precedence, admin bypass included.
	Role   Role
	Source Source
	// BaseRole is what the principal would hold without the admin bypass.
	// Operations the bypass does not cover are checked against it.
	BaseRole          Role
	IsOwner           bool
	IsAdmin           bool
	Anonymous         bool
	HasPendingRequest bool
}

// Resolve applies admin, owner, share and public rules in that order.
// Anonymous callers can only be granted through public access.
func Resolve(file *models.File, principal *models.Principal) Decision {
	d := Decision{Role: RoleNone, BaseRole: RoleNone, Source: SourceNone}
	if principal == nil {
		d.Anonymous = true
		if file.AccessType == models.AccessPublic {
			d.Granted = true
			d.Role = Role(file.PublicPermission)
			d.BaseRole = d.Role
			d.Source = SourcePublic
		}
		return d
	}

	d.IsAdmin = principal.IsAdmin()
	d.IsOwner = principal.ID == file.OwnerID

	base, baseSource := resolveBase(file, principal.ID, d.IsOwner)
	d.BaseRole = base

	if d.IsAdmin {
		d.Granted = true
		d.Role = RoleAdmin
		d.Source = SourceAdmin
		return d
	}

	d.Role = base
	d.Source = baseSource
	d.Granted = base != RoleNone
	if baseSource != SourceOwner && baseSource != SourceShare {
		d.HasPendingRequest = file.HasPendingRequest(principal.ID)
	}
	return d
}

func resolveBase(file *models.File, userID string, isOwner bool) (Role, Source) {
	if isOwner {
		return RoleOwner, SourceOwner
	}
	if role, ok := file.ShareFor(userID); ok {
		return Role(role), SourceShare
	}
	if file.AccessType == models.AccessPublic {
		return Role(file.PublicPermission), SourcePublic
	}
	return RoleNone, SourceNone
}
