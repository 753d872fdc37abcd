// Package identity verifies third-party identity tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"github.com/mytube/apiserver/config"
	"github.com/mytube/apiserver/types"
)

// ErrIncompleteProfile is returned when a verified token lacks a subject or email.
var ErrIncompleteProfile = errors.New("identity token is missing subject or email")

// ErrUnverifiedEmail is returned when the provider has not verified the token's email.
var ErrUnverifiedEmail = errors.New("identity token email is not verified")

type validator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier validates Google ID tokens against Google's signing keys.
type GoogleVerifier struct {
	validator validator
}

// NewGoogleVerifier constructs a verifier. Signing keys are fetched and
// cached by the idtoken package.
func NewGoogleVerifier(ctx context.Context, cfg config.GoogleConfig) (*GoogleVerifier, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	v, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google id token validator: %w", err)
	}
	return &GoogleVerifier{validator: v}, nil
}

// Verify checks the token signature, expiry and audience and returns the
// verified profile.
func (g *GoogleVerifier) Verify(ctx context.Context, token, audience string) (types.IdentityProfile, error) {
	payload, err := g.validator.Validate(ctx, token, audience)
	if err != nil {
		return types.IdentityProfile{}, err
	}
	return profileFromPayload(payload)
}

func profileFromPayload(payload *idtoken.Payload) (types.IdentityProfile, error) {
	if payload == nil {
		return types.IdentityProfile{}, ErrIncompleteProfile
	}
	profile := types.IdentityProfile{
		Subject: strings.TrimSpace(payload.Subject),
		Email:   strings.ToLower(strings.TrimSpace(claimString(payload.Claims, "email"))),
		Name:    strings.TrimSpace(claimString(payload.Claims, "name")),
		Picture: strings.TrimSpace(claimString(payload.Claims, "picture")),
	}
	if profile.Subject == "" || profile.Email == "" {
		return types.IdentityProfile{}, ErrIncompleteProfile
	}
	// Accounts are matched by email, so only a provider-verified email may link.
	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return types.IdentityProfile{}, ErrUnverifiedEmail
	}
	if profile.Name == "" {
		profile.Name, _, _ = strings.Cut(profile.Email, "@")
	}
	return profile, nil
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}
