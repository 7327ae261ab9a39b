package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/internal/repository"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

type mockAuthRepo struct {
	users     map[string]*models.User
	createErr error
	auditLogs []*models.AuditLog
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	m := &mockAuthRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = "user-" + user.Email
	m.users[user.ID] = user
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "fileshare-test",
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	repo := newMockAuthRepo(&models.User{ID: "123", Name: "Ada", Email: "ada@example.com", PasswordHash: string(password), Role: models.RoleAdmin})
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleAdmin, res.User.Role)

	claims, err := svc.ValidateToken(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "123", claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	svc := newTestAuthService(newMockAuthRepo(&models.User{ID: "123", Email: "ada@example.com", PasswordHash: string(password)}))

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "nope-nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "password"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceSignupCreatesRegularUser(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo)

	res, err := svc.Signup(context.Background(), models.SignupRequest{Name: " Bob ", Email: "Bob@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", res.User.Email)
	assert.Equal(t, "Bob", res.User.Name)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthServiceSignupDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo()
	repo.createErr = repository.ErrDuplicateEmail
	svc := newTestAuthService(repo)

	_, err := svc.Signup(context.Background(), models.SignupRequest{Name: "Bob", Email: "bob@example.com", Password: "password123"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestAuthServiceSignupValidation(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo())

	_, err := svc.Signup(context.Background(), models.SignupRequest{Name: "Bob", Email: "not-an-email", Password: "password123"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAuthServiceValidateTokenRejectsForeignIssuer(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo())
	claims := models.JWTClaims{
		UserID: "123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo())
	claims := models.JWTClaims{
		UserID: "123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fileshare-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceMeUnknownUser(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo())

	_, err := svc.Me(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceValidateTokenRejectsDeletedAccount(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	repo := newMockAuthRepo(&models.User{ID: "123", Name: "Ada", Email: "ada@example.com", PasswordHash: string(password), Role: models.RoleUser})
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "password"})
	require.NoError(t, err)

	delete(repo.users, "123")
	_, err = svc.ValidateToken(context.Background(), res.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceValidateTokenUsesCurrentRole(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	user := &models.User{ID: "123", Name: "Ada", Email: "ada@example.com", PasswordHash: string(password), Role: models.RoleAdmin}
	repo := newMockAuthRepo(user)
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "password"})
	require.NoError(t, err)

	repo.users["123"] = &models.User{ID: "123", Name: "Ada L.", Email: "ada@example.org", Role: models.RoleUser}
	claims, err := svc.ValidateToken(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.Equal(t, "Ada L.", claims.Name)
	assert.Equal(t, "ada@example.org", claims.Email)
}
