package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/internal/repository"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/storage"
)

// memFileStore mirrors the repository's atomic operations over the
// in-memory share registry.
type memFileStore struct {
	mu        sync.Mutex
	files     map[string]*models.File
	users     map[string]*models.User
	createErr error
	updateErr error
}

func newMemFileStore(users ...*models.User) *memFileStore {
	s := &memFileStore{files: make(map[string]*models.File), users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func cloneFile(f *models.File) *models.File {
	c := *f
	c.SharedWith = make(models.ShareSet, len(f.SharedWith))
	for k, v := range f.SharedWith {
		c.SharedWith[k] = v
	}
	c.AccessRequests = make(models.RequestSet, len(f.AccessRequests))
	for k := range f.AccessRequests {
		c.AccessRequests[k] = struct{}{}
	}
	return &c
}

func (s *memFileStore) put(f *models.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = cloneFile(f)
}

func (s *memFileStore) snapshot(id string) *models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok {
		return cloneFile(f)
	}
	return nil
}

func (s *memFileStore) get(id string) (*models.File, error) {
	f, ok := s.files[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return f, nil
}

func (s *memFileStore) Create(ctx context.Context, file *models.File) error {
	if s.createErr != nil {
		return s.createErr
	}
	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt = now, now
	s.put(file)
	return nil
}

func (s *memFileStore) FindByID(ctx context.Context, id string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return cloneFile(f), nil
}

func (s *memFileStore) ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.File
	for _, f := range s.files {
		if f.OwnerID == filter.OwnerID {
			out = append(out, *cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (s *memFileStore) AddAccessRequest(ctx context.Context, fileID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return false, err
	}
	return f.AddAccessRequest(userID), nil
}

func (s *memFileStore) Grant(ctx context.Context, fileID, userID string, role models.ShareRole) (models.ShareRole, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return "", false, err
	}
	return f.Grant(userID, role)
}

func (s *memFileStore) UpdateShareRole(ctx context.Context, fileID, userID string, role models.ShareRole) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return false, false, err
	}
	changed, found := f.UpdateShare(userID, role)
	return changed, found, nil
}

func (s *memFileStore) RemoveShare(ctx context.Context, fileID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return false, err
	}
	return f.RemoveShare(userID), nil
}

func (s *memFileStore) DenyRequest(ctx context.Context, fileID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return false, err
	}
	return f.DenyRequest(userID), nil
}

func (s *memFileStore) ListRequesters(ctx context.Context, fileID string) ([]models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return nil, err
	}
	var out []models.UserSummary
	for id := range f.AccessRequests {
		u := s.users[id]
		if _, shared := f.SharedWith[id]; shared || u == nil {
			continue
		}
		out = append(out, models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memFileStore) SetGeneralAccess(ctx context.Context, fileID string, accessType *models.AccessType, permission *models.ShareRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return err
	}
	f.SetGeneralAccess(accessType, permission)
	return nil
}

func (s *memFileStore) UpdateContent(ctx context.Context, file *models.File) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(file.ID)
	if err != nil {
		return err
	}
	if f.Version != file.Version {
		return repository.ErrStaleVersion
	}
	f.Name = file.Name
	f.ReplaceContent(file.URL, file.StorageKey, file.ContentType, file.SizeBytes)
	f.Version++
	f.UpdatedAt = time.Now().UTC()
	file.Version = f.Version
	file.UpdatedAt = f.UpdatedAt
	return nil
}

func (s *memFileStore) Delete(ctx context.Context, fileID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.get(fileID)
	if err != nil {
		return "", err
	}
	delete(s.files, fileID)
	return f.StorageKey, nil
}

func (s *memFileStore) ListAll(ctx context.Context, filter models.FileFilter) ([]models.AdminFile, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AdminFile
	for _, f := range s.files {
		row := models.AdminFile{File: *cloneFile(f)}
		if owner := s.users[f.OwnerID]; owner != nil {
			row.OwnerName, row.OwnerEmail = owner.Name, owner.Email
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *memFileStore) Stats(ctx context.Context) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, f := range s.files {
		total += f.SizeBytes
	}
	return len(s.files), total, nil
}

type memUserDirectory struct {
	users map[string]*models.User
}

func newMemUserDirectory(users ...*models.User) *memUserDirectory {
	d := &memUserDirectory{users: make(map[string]*models.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memUserDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (d *memUserDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *memUserDirectory) Count(ctx context.Context) (int, error) {
	return len(d.users), nil
}

type memNotificationStore struct {
	mu        sync.Mutex
	items     []*models.Notification
	createErr error
}

func (s *memNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	n.ID = uuid.NewString()
	copied := *n
	s.items = append(s.items, &copied)
	return nil
}

func (s *memNotificationStore) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			copied := *n
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memNotificationStore) ListByRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if n.RecipientID != filter.RecipientID || (filter.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (s *memNotificationStore) MarkRead(ctx context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id && n.RecipientID == recipientID {
			n.Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *memNotificationStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

func (s *memNotificationStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *memNotificationStore) forRecipient(recipientID string, kind models.NotificationType) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.RecipientID == recipientID && (kind == "" || n.Type == kind) {
			out = append(out, *n)
		}
	}
	return out
}

type memBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (b *memBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return "mem://" + key, nil
}

func (b *memBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, key)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobStore) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *memBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return c.getErr
	}
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}
