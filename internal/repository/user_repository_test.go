package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fileshare-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindByEmailIgnoresCase(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}).
		AddRow("1", "Ada", "ada@example.com", "hash", string(models.RoleUser), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("Ada@Example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), " Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestCreateUserDetectsDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{Name: "Ada", Email: "ada@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestCreateUserDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Name: "Ada", Email: "ada@example.com", PasswordHash: "hash"}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{Action: models.AuditActionShareGrant, Resource: "file", NewValues: `{"role":"edit"}`}
	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
