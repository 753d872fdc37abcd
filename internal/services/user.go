package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mytube/apiserver/internal/logging"
	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/store"
	"github.com/mytube/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	// GetProfile reads a user without password hash or refresh token.
	GetProfile(ctx context.Context, id string) (types.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (types.User, error)
	FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (types.User, error)
	// Create and Update validate the record before writing it.
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	// SetRefreshToken writes only the refresh token slot, without validation.
	SetRefreshToken(ctx context.Context, id, token string) error
}

// MediaStore uploads local files to a remote content host.
type MediaStore interface {
	Upload(ctx context.Context, localPath string) (types.MediaRef, error)
	Delete(ctx context.Context, publicID string) error
}

// IdentityVerifier validates third-party identity tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token, audience string) (types.IdentityProfile, error)
}

// EventPublisher receives user events. Publishing is best effort.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, event mq.UserEvent) error
}

// SignInResult is returned by every flow that starts a session.
type SignInResult struct {
	User   types.User      `json:"user"`
	Tokens types.TokenPair `json:"-"`
}

// UserService encapsulates user read use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// Profile returns the user without secret fields.
func (s *UserService) Profile(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, NotFoundError("user not found")
		}
		return types.User{}, PersistenceError("failed to load user", err)
	}
	return user.Profile(), nil
}

// profileOrFallback re-reads the user through the secret-free projection.
// If the read fails the in-memory copy is stripped of secrets instead.
func profileOrFallback(ctx context.Context, repo UserRepository, logger *slog.Logger, user types.User) types.User {
	profile, err := repo.GetProfile(ctx, user.ID)
	if err != nil {
		logger.WarnContext(ctx, "profile re-read failed", "user_id", user.ID, "error", err)
		return user.Profile()
	}
	return profile.Profile()
}

func publishEvent(ctx context.Context, events EventPublisher, logger *slog.Logger, event mq.UserEvent) {
	if events == nil {
		return
	}
	if err := events.PublishUserEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.WarnContext(ctx, "publish user event failed", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.Discard()
	}
	return logger
}
