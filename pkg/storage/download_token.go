package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired is returned once the embedded expiry has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadClaims are the values bound into a download token.
type DownloadClaims struct {
	FileID     string
	StorageKey string
	ExpiresAt  time.Time
}

// DownloadSigner issues short-lived HMAC tokens granting a single file's bytes.
// Binding the storage key means a token stops working once the content is replaced.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadSigner constructs a signer; a non-positive ttl defaults to 15 minutes.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for the file and its current storage key.
func (s *DownloadSigner) Sign(fileID, storageKey string) (string, time.Time, error) {
	if fileID == "" || storageKey == "" {
		return "", time.Time{}, fmt.Errorf("file id and storage key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(storageKey))
	sig := s.signature(fileID, ts, encodedKey)
	return strings.Join([]string{fileID, ts, encodedKey, sig}, "."), expiresAt, nil
}

// Verify checks the signature and expiry and returns the bound claims.
func (s *DownloadSigner) Verify(token string) (DownloadClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadClaims{}, ErrTokenInvalid
	}
	fileID, ts, encodedKey, sig := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.signature(fileID, ts, encodedKey)), []byte(sig)) {
		return DownloadClaims{}, ErrTokenInvalid
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return DownloadClaims{}, ErrTokenInvalid
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return DownloadClaims{}, ErrTokenInvalid
	}
	claims := DownloadClaims{FileID: fileID, StorageKey: string(rawKey), ExpiresAt: time.Unix(unix, 0)}
	if s.now().After(claims.ExpiresAt) {
		return DownloadClaims{}, ErrTokenExpired
	}
	return claims, nil
}

func (s *DownloadSigner) signature(fileID, ts, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(fileID + "|" + ts + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
