package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fileshare-api/internal/dto"
	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/internal/repository"
	"github.com/noah-isme/fileshare-api/pkg/config"
	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
	"github.com/noah-isme/fileshare-api/pkg/storage"
)

var (
	ownerUser    = &models.User{ID: "0b6f6c1e-3a52-4c1d-9a0e-6f1f2d0c0a01", Name: "Olive", Email: "olive@example.com", Role: models.RoleUser}
	strangerUser = &models.User{ID: "0b6f6c1e-3a52-4c1d-9a0e-6f1f2d0c0a02", Name: "Sam", Email: "sam@example.com", Role: models.RoleUser}
	editorUser   = &models.User{ID: "0b6f6c1e-3a52-4c1d-9a0e-6f1f2d0c0a03", Name: "Eve", Email: "eve@example.com", Role: models.RoleUser}
	adminUser    = &models.User{ID: "0b6f6c1e-3a52-4c1d-9a0e-6f1f2d0c0a04", Name: "Ann", Email: "ann@example.com", Role: models.RoleAdmin}
)

const (
	unknownUserID = "0b6f6c1e-3a52-4c1d-9a0e-6f1f2d0c0aff"
	unknownFileID = "5d2a8e44-1c7b-4f7e-8b55-3e9d1f0a7c10"
)

func principalOf(u *models.User) *models.Principal {
	return &models.Principal{ID: u.ID, DisplayName: u.Name, Email: u.Email, Role: u.Role}
}

type gatewayFixture struct {
	svc   *FileService
	files *memFileStore
	blobs *memBlobStore
	notes *memNotificationStore
	inbox *NotificationService
	audit *recordingAudit
}

func newGatewayFixture(t *testing.T, cfg FileServiceConfig) *gatewayFixture {
	t.Helper()
	users := []*models.User{ownerUser, strangerUser, editorUser, adminUser}
	f := &gatewayFixture{
		files: newMemFileStore(users...),
		blobs: newMemBlobStore(),
		notes: &memNotificationStore{},
		audit: &recordingAudit{},
	}
	f.inbox = NewNotificationService(f.notes, nil, nil, nil, NotificationServiceConfig{})
	signer := storage.NewDownloadSigner("test-secret", time.Minute)
	f.svc = NewFileService(f.files, newMemUserDirectory(users...), f.blobs, nil, f.inbox, f.audit, nil, signer, nil, nil, cfg)
	return f
}

func (f *gatewayFixture) upload(t *testing.T, u *models.User, name, content string) *models.File {
	t.Helper()
	file, err := f.svc.Upload(context.Background(), principalOf(u), UploadInput{
		Name:        name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Body:        strings.NewReader(content),
	})
	require.NoError(t, err)
	return file
}

func TestFileServiceRestrictedRequestGrantScenario(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "plan.txt", "secret plan")
	assert.Equal(t, models.AccessRestricted, file.AccessType)

	view, err := f.svc.Get(ctx, principalOf(strangerUser), file.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	require.NotNil(t, view)
	assert.False(t, view.Access.HasPendingRequest)
	assert.Nil(t, view.File)

	status, result, err := f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.RequestStatusPending, status)
	assert.NoError(t, result.NotificationError)
	requests := f.notes.forRecipient(ownerUser.ID, models.NotificationRequest)
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].Message, "Sam")
	assert.Contains(t, requests[0].Message, "plan.txt")

	view, err = f.svc.Get(ctx, principalOf(strangerUser), file.ID)
	require.Error(t, err)
	assert.True(t, view.Access.HasPendingRequest)

	_, err = f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "edit"})
	require.NoError(t, err)

	view, err = f.svc.Get(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	assert.True(t, view.Access.Granted)
	assert.Equal(t, "edit", view.Access.EffectiveRole)
	assert.Equal(t, "share", view.Access.Source)
	assert.Len(t, f.notes.forRecipient(strangerUser.ID, models.NotificationGranted), 1)

	stored := f.files.snapshot(file.ID)
	assert.False(t, stored.HasPendingRequest(strangerUser.ID))
	role, ok := stored.ShareFor(strangerUser.ID)
	assert.True(t, ok)
	assert.Equal(t, models.ShareEdit, role)
}

func TestFileServicePublicReadNeedsNoShare(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "open.txt", "hello")

	public, view := "public", "view"
	_, err := f.svc.SetGeneralAccess(ctx, principalOf(ownerUser), file.ID, dto.GeneralAccessRequest{AccessType: &public, PublicPermission: &view})
	require.NoError(t, err)

	for _, p := range []*models.Principal{nil, principalOf(strangerUser)} {
		got, err := f.svc.Get(ctx, p, file.ID)
		require.NoError(t, err)
		assert.True(t, got.Access.Granted)
		assert.Equal(t, "view", got.Access.EffectiveRole)
		assert.Equal(t, "public", got.Access.Source)
		assert.Empty(t, got.File.SharedWith)
	}
	assert.Empty(t, f.files.snapshot(file.ID).SharedWith)
}

func TestFileServiceAnonymousRestrictedIsUnauthenticated(t *testing.T) {
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "a.txt", "x")

	_, err := f.svc.Get(context.Background(), nil, file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestFileServiceNotFoundPolicyHidesRestrictedFiles(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{RestrictedReadResponse: config.RestrictedReadNotFound})
	file := f.upload(t, ownerUser, "hidden.txt", "x")

	view, err := f.svc.Get(ctx, principalOf(strangerUser), file.ID)
	assert.Nil(t, view)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Get(ctx, nil, file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, _, err = f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	assert.NoError(t, err)
}

func TestFileServiceEditorCannotGrant(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "v1")
	_, err := f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: editorUser.ID, Role: "edit"})
	require.NoError(t, err)

	_, err = f.svc.Grant(ctx, principalOf(editorUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	name := "renamed.txt"
	updated, err := f.svc.Update(ctx, principalOf(editorUser), file.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", updated.Name)
	assert.Empty(t, updated.SharedWith)
}

func TestFileServiceViewerCannotRename(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "v1")
	_, err := f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	require.NoError(t, err)

	name := "mine.txt"
	_, err = f.svc.Update(ctx, principalOf(strangerUser), file.ID, UpdateInput{Name: &name})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, "doc.txt", f.files.snapshot(file.ID).Name)
}

func TestFileServiceManageAccessSameRoleTwiceNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	_, err := f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	require.NoError(t, err)

	first, err := f.svc.ManageAccess(ctx, principalOf(ownerUser), file.ID, dto.ManageAccessRequest{UserID: strangerUser.ID, Role: "edit"})
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := f.svc.ManageAccess(ctx, principalOf(ownerUser), file.ID, dto.ManageAccessRequest{UserID: strangerUser.ID, Role: "edit"})
	require.NoError(t, err)
	assert.False(t, second.Changed)

	assert.Len(t, f.notes.forRecipient(strangerUser.ID, models.NotificationUpdate), 1)
}

func TestFileServiceRemoveMissingShareIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, err := f.svc.ManageAccess(ctx, principalOf(ownerUser), file.ID, dto.ManageAccessRequest{UserID: strangerUser.ID, Role: "remove"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.notes.forRecipient(strangerUser.ID, ""))
}

func TestFileServiceRemoveShareRevokes(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	_, err := f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	require.NoError(t, err)

	result, err := f.svc.ManageAccess(ctx, principalOf(ownerUser), file.ID, dto.ManageAccessRequest{UserID: strangerUser.ID, Role: "Remove"})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Len(t, f.notes.forRecipient(strangerUser.ID, models.NotificationRevoked), 1)

	_, err = f.svc.Get(ctx, principalOf(strangerUser), file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestFileServiceRequestAccessTwiceKeepsOneEntry(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, _, err := f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	status, result, err := f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.RequestStatusAlreadyPending, status)
	assert.False(t, result.Changed)

	assert.Len(t, f.files.snapshot(file.ID).AccessRequests, 1)
	assert.Len(t, f.notes.forRecipient(ownerUser.ID, models.NotificationRequest), 1)
}

func TestFileServiceRequestAccessEdgeCases(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, _, err := f.svc.RequestAccess(ctx, principalOf(ownerUser), file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, _, err = f.svc.RequestAccess(ctx, nil, file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: editorUser.ID, Role: "view"})
	require.NoError(t, err)
	status, _, err := f.svc.RequestAccess(ctx, principalOf(editorUser), file.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.RequestStatusAlreadyGranted, status)

	status, _, err = f.svc.RequestAccess(ctx, principalOf(adminUser), file.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.RequestStatusAlreadyGranted, status)
	assert.Empty(t, f.files.snapshot(file.ID).AccessRequests)
}

func TestFileServiceShareAndRequestSetsStayDisjoint(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	owner := principalOf(ownerUser)

	_, _, err := f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	require.NoError(t, err)
	_, _, err = f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "delete"})
	require.NoError(t, err)

	stored := f.files.snapshot(file.ID)
	assert.Len(t, stored.SharedWith, 1)
	assert.Equal(t, models.ShareDelete, stored.SharedWith[strangerUser.ID])
	assert.False(t, stored.HasPendingRequest(strangerUser.ID))
}

func TestFileServiceGrantValidation(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	owner := principalOf(ownerUser)

	_, err := f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "superuser"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: ownerUser.ID, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: unknownUserID, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Grant(ctx, owner, unknownFileID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestFileServiceRejectsMissingOrMalformedUserIDs(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	owner := principalOf(ownerUser)

	for _, userID := range []string{"", "bob"} {
		_, err := f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: userID, Role: "view"})
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "grant %q", userID)

		_, err = f.svc.Deny(ctx, owner, file.ID, dto.DenyRequest{UserID: userID})
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "deny %q", userID)

		_, err = f.svc.ManageAccess(ctx, owner, file.ID, dto.ManageAccessRequest{UserID: userID, Role: "remove"})
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "manage %q", userID)
	}

	_, err := f.svc.Grant(ctx, owner, file.ID, dto.GrantRequest{UserID: strangerUser.ID})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	for _, email := range []string{"", "not-an-email"} {
		_, err = f.svc.ShareByEmail(ctx, owner, file.ID, dto.ShareByEmailRequest{Email: email, Role: "view"})
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "share %q", email)
	}
	assert.Empty(t, f.files.snapshot(file.ID).SharedWith)
	assert.Empty(t, f.notes.forRecipient(strangerUser.ID, ""))
}

func TestFileServiceMalformedFileIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})

	_, err := f.svc.Get(ctx, principalOf(ownerUser), "abc")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, _, err = f.svc.RequestAccess(ctx, principalOf(strangerUser), "abc")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = f.svc.Delete(ctx, principalOf(ownerUser), "../etc")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestFileServiceDeny(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, err := f.svc.Deny(ctx, principalOf(ownerUser), file.ID, dto.DenyRequest{UserID: strangerUser.ID})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, _, err = f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)
	_, err = f.svc.Deny(ctx, principalOf(strangerUser), file.ID, dto.DenyRequest{UserID: strangerUser.ID})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	result, err := f.svc.Deny(ctx, principalOf(ownerUser), file.ID, dto.DenyRequest{UserID: strangerUser.ID})
	require.NoError(t, err)
	assert.Empty(t, result.File.AccessRequests)
	assert.Empty(t, f.notes.forRecipient(strangerUser.ID, ""))
	assert.Empty(t, f.files.snapshot(file.ID).SharedWith)
}

func TestFileServiceListRequestsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	_, _, err := f.svc.RequestAccess(ctx, principalOf(strangerUser), file.ID)
	require.NoError(t, err)

	users, err := f.svc.ListRequests(ctx, principalOf(ownerUser), file.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, strangerUser.Email, users[0].Email)

	_, err = f.svc.ListRequests(ctx, principalOf(adminUser), file.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestFileServiceShareByEmail(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, err := f.svc.ShareByEmail(ctx, principalOf(ownerUser), file.ID, dto.ShareByEmailRequest{Email: "nobody@example.com", Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.ShareByEmail(ctx, principalOf(ownerUser), file.ID, dto.ShareByEmailRequest{Email: ownerUser.Email, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = f.svc.ShareByEmail(ctx, principalOf(adminUser), file.ID, dto.ShareByEmailRequest{Email: strangerUser.Email, Role: "view"})
	require.NoError(t, err)
	granted := f.notes.forRecipient(strangerUser.ID, models.NotificationGranted)
	require.Len(t, granted, 1)
	assert.Contains(t, granted[0].Message, "Ann")
}

func TestFileServiceAdminBypass(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	admin := principalOf(adminUser)

	view, err := f.svc.Get(ctx, admin, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", view.Access.EffectiveRole)

	_, err = f.svc.Grant(ctx, admin, file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	name := "admin-renamed"
	_, err = f.svc.Update(ctx, admin, file.ID, UpdateInput{Name: &name})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, f.svc.Delete(ctx, admin, file.ID))
	assert.Nil(t, f.files.snapshot(file.ID))
}

func TestFileServiceNotificationFailureDoesNotUndoGrant(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	f.notes.createErr = errStoreDown

	result, err := f.svc.Grant(ctx, principalOf(ownerUser), file.ID, dto.GrantRequest{UserID: strangerUser.ID, Role: "view"})
	require.NoError(t, err)
	require.Error(t, result.NotificationError)
	assert.True(t, errors.Is(result.NotificationError, appErrors.ErrInternal))

	_, ok := f.files.snapshot(file.ID).ShareFor(strangerUser.ID)
	assert.True(t, ok)
}

func TestFileServiceUploadSniffsContentType(t *testing.T) {
	f := newGatewayFixture(t, FileServiceConfig{})
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

	file, err := f.svc.Upload(context.Background(), principalOf(ownerUser), UploadInput{Name: "pic", Body: bytes.NewReader(png)})
	require.NoError(t, err)
	assert.Equal(t, "image/png", file.ContentType)
	assert.Equal(t, int64(len(png)), file.SizeBytes)
	assert.True(t, f.blobs.has(file.StorageKey))
	assert.True(t, strings.HasPrefix(file.StorageKey, ownerUser.ID+"/"))
}

func TestFileServiceUploadRejectsOversize(t *testing.T) {
	f := newGatewayFixture(t, FileServiceConfig{MaxFileSizeBytes: 4})

	_, err := f.svc.Upload(context.Background(), principalOf(ownerUser), UploadInput{Name: "big.txt", Body: strings.NewReader("too large")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.blobs.count())
}

func TestFileServiceUploadRemovesBlobWhenRecordFails(t *testing.T) {
	f := newGatewayFixture(t, FileServiceConfig{})
	f.files.createErr = errStoreDown

	_, err := f.svc.Upload(context.Background(), principalOf(ownerUser), UploadInput{Name: "a.txt", Body: strings.NewReader("data")})
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
	assert.Zero(t, f.blobs.count())
}

func TestFileServiceReplaceReleasesOldBlob(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "v1")
	oldKey := file.StorageKey

	updated, err := f.svc.Update(ctx, principalOf(ownerUser), file.ID, UpdateInput{
		Content: &UploadInput{Name: "doc.txt", ContentType: "text/plain", Body: strings.NewReader("version two")},
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, updated.StorageKey)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, int64(len("version two")), updated.SizeBytes)
	assert.False(t, f.blobs.has(oldKey))
	assert.True(t, f.blobs.has(updated.StorageKey))
}

func TestFileServiceReplaceConflictDiscardsNewBlob(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "v1")
	f.files.updateErr = repository.ErrStaleVersion

	_, err := f.svc.Update(ctx, principalOf(ownerUser), file.ID, UpdateInput{
		Content: &UploadInput{Body: strings.NewReader("v2")},
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, 1, f.blobs.count())
	assert.True(t, f.blobs.has(file.StorageKey))
}

func TestFileServiceReplaceOnDeletedFileIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "v1")
	f.files.updateErr = sql.ErrNoRows

	_, err := f.svc.Update(ctx, principalOf(ownerUser), file.ID, UpdateInput{
		Content: &UploadInput{Body: strings.NewReader("v2")},
	})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.False(t, errors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, 1, f.blobs.count())
}

func TestFileServicePublicEditorMayDelete(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")
	public, edit := "public", "edit"
	_, err := f.svc.SetGeneralAccess(ctx, principalOf(ownerUser), file.ID, dto.GeneralAccessRequest{AccessType: &public, PublicPermission: &edit})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, principalOf(strangerUser), file.ID))
	assert.Zero(t, f.blobs.count())
	assert.Contains(t, f.audit.actions(), models.AuditActionFileDelete)
}

func TestFileServiceSetGeneralAccessValidation(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "x")

	_, err := f.svc.SetGeneralAccess(ctx, principalOf(ownerUser), file.ID, dto.GeneralAccessRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	del := "delete"
	_, err = f.svc.SetGeneralAccess(ctx, principalOf(ownerUser), file.ID, dto.GeneralAccessRequest{PublicPermission: &del})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	edit := "edit"
	updated, err := f.svc.SetGeneralAccess(ctx, principalOf(ownerUser), file.ID, dto.GeneralAccessRequest{PublicPermission: &edit})
	require.NoError(t, err)
	assert.Equal(t, models.AccessRestricted, updated.AccessType)
	assert.Equal(t, models.ShareEdit, updated.PublicPermission)
}

func TestFileServiceDownloadTokenIsBoundToContent(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, FileServiceConfig{})
	file := f.upload(t, ownerUser, "doc.txt", "first")

	view, err := f.svc.Get(ctx, principalOf(ownerUser), file.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Download)
	token := strings.SplitN(view.Download.Path, "token=", 2)[1]

	got, body, err := f.svc.OpenDownload(ctx, file.ID, token)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Equal(t, "first", string(data))
	assert.Equal(t, file.ID, got.ID)

	_, _, err = f.svc.OpenDownload(ctx, "other-file", token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Update(ctx, principalOf(ownerUser), file.ID, UpdateInput{Content: &UploadInput{Body: strings.NewReader("second")}})
	require.NoError(t, err)
	_, _, err = f.svc.OpenDownload(ctx, file.ID, token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestFileServiceListMine(t *testing.T) {
	f := newGatewayFixture(t, FileServiceConfig{})
	f.upload(t, ownerUser, "a.txt", "a")
	f.upload(t, strangerUser, "b.txt", "b")

	files, page, err := f.svc.ListMine(context.Background(), principalOf(ownerUser), models.FileFilter{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = f.svc.ListMine(context.Background(), nil, models.FileFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestSafeObjectName(t *testing.T) {
	assert.Equal(t, "report_final.pdf", safeObjectName("report final.pdf"))
	assert.Equal(t, "passwd", safeObjectName("../../etc/passwd"))
	assert.Equal(t, "a_b", safeObjectName("a..b"))
	assert.Equal(t, "file", safeObjectName(".."))
}
