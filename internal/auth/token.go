// Package auth signs, parses and enforces the API's session tokens.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mytube/apiserver/types"
)

var (
	// ErrInvalidToken is returned for malformed, expired or mis-signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims are carried by short-lived access tokens.
type AccessClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullname"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access and refresh tokens with separate secrets.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// AccessTTL returns the lifetime of access tokens.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// RefreshTTL returns the lifetime of refresh tokens.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// AccessToken signs an access token describing the user.
func (i *Issuer) AccessToken(user types.User) (string, error) {
	now := i.now()
	claims := AccessClaims{
		Email:    user.Email,
		Username: user.Username,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.accessSecret)
}

// RefreshToken signs a refresh token for the user. Every call yields a
// distinct token because each carries a fresh ID.
func (i *Issuer) RefreshToken(userID string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.refreshSecret)
}

// ParseAccess verifies an access token and returns its claims.
func (i *Issuer) ParseAccess(tokenString string) (AccessClaims, error) {
	claims := AccessClaims{}
	if err := i.parse(tokenString, &claims, i.accessSecret); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its subject.
func (i *Issuer) ParseRefresh(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if err := i.parse(tokenString, &claims, i.refreshSecret); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return nil
}
