package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidUser is returned when a user record fails validation before a save.
var ErrInvalidUser = errors.New("invalid user")

// User represents an account in the system.
// It contains identity, media references, and session metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id" bson:"_id"`

	// Username is the unique, lower-cased handle chosen by the user.
	Username string `json:"username" db:"username" bson:"username"`

	// Email is the user's unique email address.
	Email string `json:"email" db:"email" bson:"email"`

	// FullName is the user's display name.
	FullName string `json:"fullname" db:"fullname" bson:"fullname"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// It is empty for accounts created through Google sign-in.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash,omitempty"`

	// Avatar is the public URL of the user's avatar image.
	Avatar string `json:"avatar" db:"avatar" bson:"avatar"`

	// CoverImage is the public URL of the user's cover image, or empty.
	CoverImage string `json:"coverImage" db:"cover_image" bson:"cover_image"`

	// GoogleID is the linked Google account subject, if any.
	GoogleID string `json:"googleId,omitempty" db:"google_id" bson:"google_id,omitempty"`

	// RefreshToken is the single active long-lived session credential.
	// Reissuing overwrites it. This field is never exposed in API responses.
	RefreshToken string `json:"-" db:"refresh_token" bson:"refresh_token,omitempty"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at" bson:"updated_at"`
}

// Validate checks the invariants a full save must uphold.
func (u User) Validate() error {
	switch {
	case strings.TrimSpace(u.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidUser)
	case strings.TrimSpace(u.Email) == "":
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	case strings.TrimSpace(u.FullName) == "":
		return fmt.Errorf("%w: fullname is required", ErrInvalidUser)
	case u.PasswordHash == "" && u.GoogleID == "":
		return fmt.Errorf("%w: password is required", ErrInvalidUser)
	case u.GoogleID == "" && strings.TrimSpace(u.Avatar) == "":
		return fmt.Errorf("%w: avatar is required", ErrInvalidUser)
	}
	return nil
}

// Profile returns a copy of the user with secret fields cleared.
func (u User) Profile() User {
	u.PasswordHash = ""
	u.RefreshToken = ""
	return u
}

// MediaRef is the result of uploading a local file to the media store.
type MediaRef struct {
	URL          string `json:"url"`
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType"`
}

// IdentityProfile is a verified profile returned by an identity provider.
type IdentityProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// TokenPair holds a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
