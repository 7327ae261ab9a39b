package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignupRequest registers a new account.
type SignupRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}

// Principal is the caller identity handed to the sharing core. It is built
// once per request from verified claims and never reinterpreted afterwards.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
	Role        UserRole
}

// IsAdmin reports whether the principal holds the global admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// PrincipalFromClaims converts verified claims; nil claims yield nil.
func PrincipalFromClaims(claims *JWTClaims) *Principal {
	if claims == nil || claims.UserID == "" {
		return nil
	}
	return &Principal{
		ID:          claims.UserID,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Role:        claims.Role,
	}
}
