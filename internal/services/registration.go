package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/store"
	"github.com/mytube/apiserver/types"
)

const (
	assetAvatar     = "avatar"
	assetCoverImage = "coverImage"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// RegisterInput holds the text fields of a registration.
type RegisterInput struct {
	FullName string
	Email    string
	Username string
	Password string
}

// RegisterFiles holds local paths of uploaded files. CoverImagePath may be empty.
type RegisterFiles struct {
	AvatarPath     string
	CoverImagePath string
}

// RegistrationOptions tunes registration policy.
type RegistrationOptions struct {
	// RequireCoverImage rejects registrations without a cover image instead
	// of storing an empty reference.
	RequireCoverImage bool
}

// RegistrationService creates local accounts together with their media.
type RegistrationService struct {
	users  UserRepository
	media  MediaStore
	events EventPublisher
	logger *slog.Logger
	opts   RegistrationOptions
}

func NewRegistrationService(
	users UserRepository,
	media MediaStore,
	events EventPublisher,
	logger *slog.Logger,
	opts RegistrationOptions,
) *RegistrationService {
	return &RegistrationService{
		users:  users,
		media:  media,
		events: events,
		logger: loggerOrDiscard(logger),
		opts:   opts,
	}
}

// Register validates the input, uploads the avatar and optional cover image,
// and persists the user. Uploaded media are deleted again if any later step
// fails. The returned user never carries secrets.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput, files RegisterFiles) (types.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	files.AvatarPath = strings.TrimSpace(files.AvatarPath)
	files.CoverImagePath = strings.TrimSpace(files.CoverImagePath)

	if in.FullName == "" || in.Email == "" || in.Username == "" || strings.TrimSpace(in.Password) == "" {
		return types.User{}, ValidationError("all fields are required")
	}
	if len(in.Password) > maxPasswordBytes {
		return types.User{}, ValidationError("password must be at most 72 bytes")
	}
	if files.AvatarPath == "" {
		return types.User{}, ValidationError("avatar is required").with("asset", assetAvatar)
	}
	if s.opts.RequireCoverImage && files.CoverImagePath == "" {
		return types.User{}, ValidationError("cover image is required").with("asset", assetCoverImage)
	}

	if _, err := s.users.FindByEmailOrUsername(ctx, in.Email, in.Username); err == nil {
		return types.User{}, ConflictError("user with email or username already exists", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, PersistenceError("failed to check existing user", err)
	}

	rb := newRollback(s.logger)
	defer rb.run(ctx)

	// Uploads that have started are allowed to finish even if the caller goes away.
	uploadCtx := context.WithoutCancel(ctx)

	avatar, err := s.media.Upload(uploadCtx, files.AvatarPath)
	if err != nil {
		s.logger.ErrorContext(ctx, "avatar upload failed", "error", err)
		return types.User{}, UploadError(assetAvatar, err)
	}
	rb.add("delete avatar "+avatar.PublicID, func(ctx context.Context) error {
		return s.media.Delete(ctx, avatar.PublicID)
	})
	s.logger.InfoContext(ctx, "uploaded avatar", "public_id", avatar.PublicID)

	var cover types.MediaRef
	if files.CoverImagePath != "" {
		cover, err = s.media.Upload(uploadCtx, files.CoverImagePath)
		if err != nil {
			s.logger.ErrorContext(ctx, "cover image upload failed", "error", err)
			return types.User{}, UploadError(assetCoverImage, err)
		}
		rb.add("delete cover image "+cover.PublicID, func(ctx context.Context) error {
			return s.media.Delete(ctx, cover.PublicID)
		})
		s.logger.InfoContext(ctx, "uploaded cover image", "public_id", cover.PublicID)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, newError(KindInternal, "failed to create user", err)
	}

	created, err := s.users.Create(ctx, types.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: string(hash),
		Avatar:       avatar.URL,
		CoverImage:   cover.URL,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "user creation failed", "error", err)
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ConflictError("user with email or username already exists", err)
		}
		return types.User{}, PersistenceError("failed to create user and image upload", err)
	}

	// The record now references the media, so they must stay.
	rb.discard()

	user := profileOrFallback(ctx, s.users, s.logger, created)
	publishEvent(ctx, s.events, s.logger, mq.UserEvent{
		Type:     mq.EventUserRegistered,
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
	return user, nil
}
