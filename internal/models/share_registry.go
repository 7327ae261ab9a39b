package models

import "errors"

// ErrShareWithOwner is returned when a share or request targets the owner.
var ErrShareWithOwner = errors.New("file owner cannot be a share target")

// NewFile returns a restricted file owned by ownerID with empty sharing state.
func NewFile(id, ownerID, name string) *File {
	return &File{
		ID:               id,
		OwnerID:          ownerID,
		Name:             name,
		AccessType:       AccessRestricted,
		PublicPermission: ShareView,
		Version:          1,
		SharedWith:       ShareSet{},
		AccessRequests:   RequestSet{},
	}
}

func (f *File) ensureSets() {
	if f.SharedWith == nil {
		f.SharedWith = ShareSet{}
	}
	if f.AccessRequests == nil {
		f.AccessRequests = RequestSet{}
	}
}

// LoadSharing replaces the in-memory sharing state with persisted rows.
// Duplicate rows for one user collapse to the strongest role.
func (f *File) LoadSharing(shares []Share, requests []string) {
	f.SharedWith = make(ShareSet, len(shares))
	for _, s := range shares {
		if current, ok := f.SharedWith[s.UserID]; ok && current.Rank() >= s.Role.Rank() {
			continue
		}
		f.SharedWith[s.UserID] = s.Role
	}
	f.AccessRequests = make(RequestSet, len(requests))
	for _, id := range requests {
		if _, shared := f.SharedWith[id]; shared || id == f.OwnerID {
			continue
		}
		f.AccessRequests[id] = struct{}{}
	}
}

// ShareFor returns the role explicitly shared with userID.
func (f *File) ShareFor(userID string) (ShareRole, bool) {
	role, ok := f.SharedWith[userID]
	return role, ok
}

// HasPendingRequest reports whether userID is waiting for a decision.
func (f *File) HasPendingRequest(userID string) bool {
	_, ok := f.AccessRequests[userID]
	return ok
}

// AddAccessRequest records a pending request. It reports false without
// change when the user is the owner, already shared, or already pending.
func (f *File) AddAccessRequest(userID string) bool {
	f.ensureSets()
	if userID == f.OwnerID {
		return false
	}
	if _, shared := f.SharedWith[userID]; shared {
		return false
	}
	if _, pending := f.AccessRequests[userID]; pending {
		return false
	}
	f.AccessRequests[userID] = struct{}{}
	return true
}

// Grant upserts a share and clears any pending request for the user. It
// returns the role held before the call, if any.
func (f *File) Grant(userID string, role ShareRole) (previous ShareRole, existed bool, err error) {
	if userID == f.OwnerID {
		return "", false, ErrShareWithOwner
	}
	f.ensureSets()
	previous, existed = f.SharedWith[userID]
	f.SharedWith[userID] = role
	delete(f.AccessRequests, userID)
	return previous, existed, nil
}

// UpdateShare changes an existing share's role. changed is false when the
// role already matches; found is false when the user holds no share.
func (f *File) UpdateShare(userID string, role ShareRole) (changed, found bool) {
	current, ok := f.SharedWith[userID]
	if !ok {
		return false, false
	}
	if current == role {
		return false, true
	}
	f.SharedWith[userID] = role
	return true, true
}

// RemoveShare deletes the user's share and reports whether one existed.
func (f *File) RemoveShare(userID string) bool {
	if _, ok := f.SharedWith[userID]; !ok {
		return false
	}
	delete(f.SharedWith, userID)
	return true
}

// DenyRequest drops a pending request and reports whether one existed.
func (f *File) DenyRequest(userID string) bool {
	if _, ok := f.AccessRequests[userID]; !ok {
		return false
	}
	delete(f.AccessRequests, userID)
	return true
}

// SetGeneralAccess applies whichever fields are non-nil.
func (f *File) SetGeneralAccess(accessType *AccessType, permission *ShareRole) {
	if accessType != nil {
		f.AccessType = *accessType
	}
	if permission != nil {
		f.PublicPermission = *permission
	}
}

// ReplaceContent points the file at a new blob and returns the old key,
// which the caller releases only after the change is durable.
func (f *File) ReplaceContent(url, storageKey, contentType string, size int64) (oldKey string) {
	oldKey = f.StorageKey
	f.URL = url
	f.StorageKey = storageKey
	f.ContentType = contentType
	f.SizeBytes = size
	return oldKey
}
