package models

import (
	"encoding/json"
	"sort"
	"time"
)

// AccessType is a file's general-access mode.
type AccessType string

const (
	AccessRestricted AccessType = "restricted"
	AccessPublic     AccessType = "public"
)

// ShareRole is the permission level carried by a share or by public access.
type ShareRole string

const (
	ShareView   ShareRole = "view"
	ShareEdit   ShareRole = "edit"
	ShareDelete ShareRole = "delete"
)

// Rank orders share roles from weakest to strongest. delete permits
// destruction only, so it ranks between view and edit.
func (r ShareRole) Rank() int {
	switch r {
	case ShareView:
		return 1
	case ShareDelete:
		return 2
	case ShareEdit:
		return 3
	default:
		return 0
	}
}

// File is one stored artifact together with its sharing state.
type File struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	URL              string     `db:"url" json:"url"`
	StorageKey       string     `db:"storage_key" json:"-"`
	ContentType      string     `db:"content_type" json:"contentType"`
	SizeBytes        int64      `db:"size_bytes" json:"size"`
	OwnerID          string     `db:"owner_id" json:"ownerId"`
	AccessType       AccessType `db:"access_type" json:"accessType"`
	PublicPermission ShareRole  `db:"public_permission" json:"publicPermission"`
	Version          int64      `db:"version" json:"version"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`

	SharedWith     ShareSet   `db:"-" json:"sharedWith"`
	AccessRequests RequestSet `db:"-" json:"accessRequests"`
}

// Share is the wire and row form of one sharedWith entry.
type Share struct {
	UserID string    `db:"user_id" json:"userId"`
	Role   ShareRole `db:"role" json:"role"`
}

// ShareSet maps user id to role, so a user can hold at most one share.
type ShareSet map[string]ShareRole

// Sorted returns the entries ordered by user id.
func (s ShareSet) Sorted() []Share {
	out := make([]Share, 0, len(s))
	for userID, role := range s {
		out = append(out, Share{UserID: userID, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MarshalJSON encodes the set as an array sorted by user id.
func (s ShareSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array; a repeated user keeps its strongest role.
func (s *ShareSet) UnmarshalJSON(data []byte) error {
	var entries []Share
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	set := make(ShareSet, len(entries))
	for _, e := range entries {
		if current, ok := set[e.UserID]; ok && current.Rank() >= e.Role.Rank() {
			continue
		}
		set[e.UserID] = e.Role
	}
	*s = set
	return nil
}

// RequestSet holds the ids of users with a pending access request.
type RequestSet map[string]struct{}

// Sorted returns the user ids in ascending order.
func (r RequestSet) Sorted() []string {
	out := make([]string, 0, len(r))
	for userID := range r {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array of ids.
func (r RequestSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Sorted())
}

// UnmarshalJSON decodes an array of ids.
func (r *RequestSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(RequestSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*r = set
	return nil
}

// FileFilter pages file listings. A negative PageSize disables paging.
type FileFilter struct {
	OwnerID  string
	Search   string
	Page     int
	PageSize int
}

// AdminFile is a file row joined with its owner for the admin inventory.
type AdminFile struct {
	File
	OwnerName  string `db:"owner_name" json:"ownerName"`
	OwnerEmail string `db:"owner_email" json:"ownerEmail"`
}

// AdminStats summarises the installation.
type AdminStats struct {
	TotalFiles int   `db:"total_files" json:"totalFiles"`
	TotalUsers int   `db:"total_users" json:"totalUsers"`
	TotalBytes int64 `db:"total_bytes" json:"totalBytes"`
}
