package access

import (
	"fmt"

	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

// Operation is a file-level action subject to authorization.
type Operation string

const (
	OpRead          Operation = "read"
	OpRename        Operation = "rename"
	OpReplace       Operation = "replace"
	OpDelete        Operation = "delete"
	OpRequestAccess Operation = "request_access"
	OpGrant         Operation = "grant"
	OpDeny          Operation = "deny"
	OpManageShare   Operation = "manage_share"
	OpGeneralAccess Operation = "general_access"
	OpShareByEmail  Operation = "share_by_email"
	OpListRequests  Operation = "list_requests"
)

// Authorize returns nil when d permits op, or an Unauthenticated, Forbidden
// or Conflict error. Admins bypass read and delete checks and may share by
// email; every other management operation is reserved to the owner.
func Authorize(op Operation, d Decision) error {
	if d.Anonymous && (op != OpRead || !d.Granted) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	var allowed bool
	switch op {
	case OpRead:
		allowed = d.Granted
	case OpRename, OpReplace:
		allowed = d.IsOwner || CanEdit(d.BaseRole)
	case OpDelete:
		allowed = d.IsOwner || d.IsAdmin || CanDelete(d.BaseRole)
	case OpRequestAccess:
		if d.IsOwner {
			return appErrors.Clone(appErrors.ErrConflict, "owners cannot request access to their own file")
		}
		allowed = true
	case OpGrant, OpDeny, OpManageShare, OpGeneralAccess, OpListRequests:
		allowed = d.IsOwner
	case OpShareByEmail:
		allowed = d.IsOwner || d.IsAdmin
	default:
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("unknown operation %q", op))
	}

	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("not permitted to %s this file", humanize(op)))
	}
	return nil
}

func humanize(op Operation) string {
	switch op {
	case OpRequestAccess:
		return "request access to"
	case OpGrant:
		return "grant access to"
	case OpDeny:
		return "deny requests on"
	case OpManageShare:
		return "manage sharing on"
	case OpGeneralAccess:
		return "change general access of"
	case OpShareByEmail:
		return "share"
	case OpListRequests:
		return "list access requests of"
	default:
		return string(op)
	}
}
