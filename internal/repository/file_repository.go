package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/fileshare-api/internal/models"
)

// ErrStaleVersion is returned when an optimistic update lost a race.
var ErrStaleVersion = errors.New("file was modified concurrently")

const fileColumns = `id, name, url, storage_key, content_type, size_bytes, owner_id, access_type, public_permission, version, created_at, updated_at`

// FileRepository persists files and their sharing state. Every sharing
// mutation is a single conditional statement or one short transaction so
// concurrent writers cannot lose each other's updates.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs a FileRepository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a new file row.
func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now
	if file.Version == 0 {
		file.Version = 1
	}

	const query = `INSERT INTO files (id, name, url, storage_key, content_type, size_bytes, owner_id, access_type, public_permission, version, created_at, updated_at)
VALUES (:id, :name, :url, :storage_key, :content_type, :size_bytes, :owner_id, :access_type, :public_permission, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// FindByID loads a file with its shares and pending requests.
func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	var file models.File
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find file: %w", err)
	}

	var shares []models.Share
	if err := r.db.SelectContext(ctx, &shares, `SELECT user_id, role FROM file_shares WHERE file_id = $1`, id); err != nil {
		return nil, fmt.Errorf("load file shares: %w", err)
	}
	var requests []string
	if err := r.db.SelectContext(ctx, &requests, `SELECT user_id FROM file_access_requests WHERE file_id = $1`, id); err != nil {
		return nil, fmt.Errorf("load access requests: %w", err)
	}
	file.LoadSharing(shares, requests)
	return &file, nil
}

// ListByOwner returns the owner's files newest first with sharing state.
func (r *FileRepository) ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error) {
	where := `WHERE owner_id = $1`
	args := []interface{}{filter.OwnerID}
	if filter.Search != "" {
		where += ` AND LOWER(name) LIKE $2`
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT %s FROM files %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, fileColumns, where, pageSize, (page-1)*pageSize)
	var files []models.File
	if err := r.db.SelectContext(ctx, &files, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM files `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	if err := r.attachSharing(ctx, files); err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// ListAll returns every file joined with its owner, newest first.
func (r *FileRepository) ListAll(ctx context.Context, filter models.FileFilter) ([]models.AdminFile, int, error) {
	where := `WHERE 1=1`
	var args []interface{}
	if filter.Search != "" {
		where += ` AND (LOWER(f.name) LIKE $1 OR LOWER(u.email) LIKE $1)`
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	limit := ""
	if filter.PageSize >= 0 {
		limit = fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	}

	listQuery := `SELECT f.id, f.name, f.url, f.storage_key, f.content_type, f.size_bytes, f.owner_id, f.access_type, f.public_permission, f.version, f.created_at, f.updated_at,
u.name AS owner_name, u.email AS owner_email
FROM files f JOIN users u ON u.id = f.owner_id ` + where + ` ORDER BY f.created_at DESC` + limit
	var files []models.AdminFile
	if err := r.db.SelectContext(ctx, &files, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list all files: %w", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM files f JOIN users u ON u.id = f.owner_id ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count all files: %w", err)
	}
	return files, total, nil
}

// Stats returns file totals for the admin dashboard.
func (r *FileRepository) Stats(ctx context.Context) (int, int64, error) {
	var row struct {
		Files int   `db:"total_files"`
		Bytes int64 `db:"total_bytes"`
	}
	const query = `SELECT COUNT(*) AS total_files, COALESCE(SUM(size_bytes), 0) AS total_bytes FROM files`
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return 0, 0, fmt.Errorf("file stats: %w", err)
	}
	return row.Files, row.Bytes, nil
}

// AddAccessRequest records a pending request unless the user owns the file,
// already holds a share, or already asked. It reports whether a row was added
// and returns sql.ErrNoRows when the file is gone. The file row lock orders it
// against Grant so a request cannot land beside a fresh share.
func (r *FileRepository) AddAccessRequest(ctx context.Context, fileID, userID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin access request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := lockFile(ctx, tx, fileID); err != nil {
		return false, err
	}

	const query = `INSERT INTO file_access_requests (file_id, user_id, created_at)
SELECT f.id, $2, $3 FROM files f
WHERE f.id = $1 AND f.owner_id <> $2
AND NOT EXISTS (SELECT 1 FROM file_shares s WHERE s.file_id = f.id AND s.user_id = $2)
ON CONFLICT (file_id, user_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query, fileID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("add access request: %w", err)
	}
	added, err := affected(res)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit access request: %w", err)
	}
	return added, nil
}

// lockFile takes the row lock that serialises sharing writes on one file.
func lockFile(ctx context.Context, tx *sqlx.Tx, fileID string) error {
	var one int
	err := tx.GetContext(ctx, &one, `SELECT 1 FROM files WHERE id = $1 FOR UPDATE`, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("lock file: %w", err)
	}
	return nil
}

// Grant upserts a share and clears the user's pending request in one
// transaction, returning the role held before. It returns sql.ErrNoRows when
// the file is gone.
func (r *FileRepository) Grant(ctx context.Context, fileID, userID string, role models.ShareRole) (models.ShareRole, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin grant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := lockFile(ctx, tx, fileID); err != nil {
		return "", false, err
	}

	var previous models.ShareRole
	existed := true
	err = tx.GetContext(ctx, &previous, `SELECT role FROM file_shares WHERE file_id = $1 AND user_id = $2 FOR UPDATE`, fileID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return "", false, fmt.Errorf("lock share: %w", err)
	}

	now := time.Now().UTC()
	const upsert = `INSERT INTO file_shares (file_id, user_id, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (file_id, user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, fileID, userID, role, now); err != nil {
		return "", false, fmt.Errorf("upsert share: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_access_requests WHERE file_id = $1 AND user_id = $2`, fileID, userID); err != nil {
		return "", false, fmt.Errorf("clear access request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit grant: %w", err)
	}
	return previous, existed, nil
}

// UpdateShareRole changes an existing share. changed is false when the role
// already matched; found is false when the user holds no share.
func (r *FileRepository) UpdateShareRole(ctx context.Context, fileID, userID string, role models.ShareRole) (changed, found bool, err error) {
	const query = `UPDATE file_shares SET role = $3, updated_at = $4 WHERE file_id = $1 AND user_id = $2 AND role <> $3`
	res, err := r.db.ExecContext(ctx, query, fileID, userID, role, time.Now().UTC())
	if err != nil {
		return false, false, fmt.Errorf("update share: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, false, err
	}
	if n {
		return true, true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM file_shares WHERE file_id = $1 AND user_id = $2)`, fileID, userID); err != nil {
		return false, false, fmt.Errorf("check share: %w", err)
	}
	return false, exists, nil
}

// RemoveShare deletes a share and reports whether one existed.
func (r *FileRepository) RemoveShare(ctx context.Context, fileID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM file_shares WHERE file_id = $1 AND user_id = $2`, fileID, userID)
	if err != nil {
		return false, fmt.Errorf("remove share: %w", err)
	}
	return affected(res)
}

// DenyRequest removes a pending request and reports whether one existed.
func (r *FileRepository) DenyRequest(ctx context.Context, fileID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM file_access_requests WHERE file_id = $1 AND user_id = $2`, fileID, userID)
	if err != nil {
		return false, fmt.Errorf("deny access request: %w", err)
	}
	return affected(res)
}

// ListRequesters returns the users waiting on the file, oldest request first.
// Users who already hold a share are left out.
func (r *FileRepository) ListRequesters(ctx context.Context, fileID string) ([]models.UserSummary, error) {
	const query = `SELECT u.id, u.name, u.email FROM file_access_requests r JOIN users u ON u.id = r.user_id
WHERE r.file_id = $1
AND NOT EXISTS (SELECT 1 FROM file_shares s WHERE s.file_id = r.file_id AND s.user_id = r.user_id)
ORDER BY r.created_at ASC`
	var users []models.UserSummary
	if err := r.db.SelectContext(ctx, &users, query, fileID); err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}
	return users, nil
}

// SetGeneralAccess applies the non-nil fields. It returns sql.ErrNoRows when
// the file no longer exists.
func (r *FileRepository) SetGeneralAccess(ctx context.Context, fileID string, accessType *models.AccessType, permission *models.ShareRole) error {
	var at, perm sql.NullString
	if accessType != nil {
		at = sql.NullString{String: string(*accessType), Valid: true}
	}
	if permission != nil {
		perm = sql.NullString{String: string(*permission), Valid: true}
	}
	const query = `UPDATE files SET access_type = COALESCE($2, access_type), public_permission = COALESCE($3, public_permission), updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, fileID, at, perm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set general access: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateContent writes name and blob attributes if the stored version still
// equals file.Version, then bumps the version on file. It returns
// ErrStaleVersion when the row moved on and sql.ErrNoRows when it is gone.
func (r *FileRepository) UpdateContent(ctx context.Context, file *models.File) error {
	const query = `UPDATE files SET name = $3, url = $4, storage_key = $5, content_type = $6, size_bytes = $7, version = version + 1, updated_at = $8
WHERE id = $1 AND version = $2 RETURNING version, updated_at`
	var out struct {
		Version   int64     `db:"version"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &out, query,
		file.ID, file.Version, file.Name, file.URL, file.StorageKey, file.ContentType, file.SizeBytes, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update file content: %w", err)
		}
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM files WHERE id = $1)`, file.ID); err != nil {
			return fmt.Errorf("check file: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrStaleVersion
	}
	file.Version = out.Version
	file.UpdatedAt = out.UpdatedAt
	return nil
}

// Delete removes the file and its sharing rows, returning the storage key
// that was current at deletion time.
func (r *FileRepository) Delete(ctx context.Context, fileID string) (string, error) {
	var key string
	if err := r.db.GetContext(ctx, &key, `DELETE FROM files WHERE id = $1 RETURNING storage_key`, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("delete file: %w", err)
	}
	return key, nil
}

func (r *FileRepository) attachSharing(ctx context.Context, files []models.File) error {
	if len(files) == 0 {
		return nil
	}
	ids := make([]string, len(files))
	for i := range files {
		ids[i] = files[i].ID
	}

	var shares []struct {
		FileID string `db:"file_id"`
		models.Share
	}
	if err := r.db.SelectContext(ctx, &shares, `SELECT file_id, user_id, role FROM file_shares WHERE file_id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("load shares: %w", err)
	}
	var requests []struct {
		FileID string `db:"file_id"`
		UserID string `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &requests, `SELECT file_id, user_id FROM file_access_requests WHERE file_id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("load requests: %w", err)
	}

	sharesByFile := make(map[string][]models.Share)
	for _, s := range shares {
		sharesByFile[s.FileID] = append(sharesByFile[s.FileID], s.Share)
	}
	requestsByFile := make(map[string][]string)
	for _, req := range requests {
		requestsByFile[req.FileID] = append(requestsByFile[req.FileID], req.UserID)
	}
	for i := range files {
		files[i].LoadSharing(sharesByFile[files[i].ID], requestsByFile[files[i].ID])
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
