package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mytube/apiserver/internal/auth"
	"github.com/mytube/apiserver/internal/store"
	"github.com/mytube/apiserver/types"
)

// SessionService issues and rotates session credentials.
type SessionService struct {
	users  UserRepository
	issuer *auth.Issuer
	logger *slog.Logger
}

func NewSessionService(users UserRepository, issuer *auth.Issuer, logger *slog.Logger) *SessionService {
	return &SessionService{users: users, issuer: issuer, logger: loggerOrDiscard(logger)}
}

// Issue derives a new token pair for the user and stores the refresh token in
// the user's single refresh slot, replacing any previous one.
func (s *SessionService) Issue(ctx context.Context, userID string) (types.TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, NotFoundError("user not found")
		}
		return types.TokenPair{}, PersistenceError("failed to load user", err)
	}

	access, err := s.issuer.AccessToken(user)
	if err != nil {
		return types.TokenPair{}, newError(KindInternal, "failed to generate access token", err)
	}
	refresh, err := s.issuer.RefreshToken(user.ID)
	if err != nil {
		return types.TokenPair{}, newError(KindInternal, "failed to generate refresh token", err)
	}

	// The refresh slot is the only write that skips record validation.
	if err := s.users.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		return types.TokenPair{}, PersistenceError("failed to store refresh token", err)
	}

	return types.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Login verifies a password for the user matching login by email or username.
func (s *SessionService) Login(ctx context.Context, login, password string) (SignInResult, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || password == "" {
		return SignInResult{}, ValidationError("login and password are required")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, login, login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SignInResult{}, AuthError("invalid credentials", nil)
		}
		return SignInResult{}, PersistenceError("failed to load user", err)
	}
	if user.PasswordHash == "" {
		return SignInResult{}, AuthError("invalid credentials", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return SignInResult{}, AuthError("invalid credentials", nil)
	}

	return s.start(ctx, user)
}

// Refresh exchanges the current refresh token for a new pair. Only the most
// recently issued refresh token is accepted.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (SignInResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return SignInResult{}, ValidationError("refresh token is required")
	}

	userID, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return SignInResult{}, AuthError("invalid refresh token", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SignInResult{}, AuthError("invalid refresh token", err)
		}
		return SignInResult{}, PersistenceError("failed to load user", err)
	}
	if subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(refreshToken)) != 1 {
		return SignInResult{}, AuthError("refresh token is expired or used", nil)
	}

	return s.start(ctx, user)
}

// Logout clears the user's refresh slot.
func (s *SessionService) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("user not found")
		}
		return PersistenceError("failed to clear refresh token", err)
	}
	return nil
}

func (s *SessionService) start(ctx context.Context, user types.User) (SignInResult, error) {
	tokens, err := s.Issue(ctx, user.ID)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{
		User:   profileOrFallback(ctx, s.users, s.logger, user),
		Tokens: tokens,
	}, nil
}
