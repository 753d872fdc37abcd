package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/store"
	"github.com/mytube/apiserver/types"
)

const (
	maxUsernameAttempts = 3
	usernameSuffixLen   = 3
	usernameAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
)

type resolution string

const (
	resolvedExisting resolution = "existing"
	resolvedLinked   resolution = "linked"
	resolvedCreated  resolution = "created"
)

// IdentityService signs users in with a verified Google identity.
type IdentityService struct {
	users    UserRepository
	verifier IdentityVerifier
	audience string
	sessions *SessionService
	events   EventPublisher
	logger   *slog.Logger
	suffix   func() (string, error)
}

// NewIdentityService constructs the service. A nil verifier disables
// identity sign-in.
func NewIdentityService(
	users UserRepository,
	verifier IdentityVerifier,
	audience string,
	sessions *SessionService,
	events EventPublisher,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:    users,
		verifier: verifier,
		audience: audience,
		sessions: sessions,
		events:   events,
		logger:   loggerOrDiscard(logger),
		suffix:   randomSuffix,
	}
}

// SignInWithIdentity verifies the token, resolves or creates the matching
// user, and starts a session.
func (s *IdentityService) SignInWithIdentity(ctx context.Context, token string) (SignInResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SignInResult{}, ValidationError("Google id token is required")
	}
	if s.verifier == nil {
		return SignInResult{}, AuthError("identity sign-in is not configured", nil)
	}

	profile, err := s.verifier.Verify(ctx, token, s.audience)
	if err != nil {
		s.logger.WarnContext(ctx, "identity token verification failed", "error", err)
		return SignInResult{}, AuthError("invalid Google token", err)
	}
	if profile.Name == "" {
		profile.Name, _, _ = strings.Cut(profile.Email, "@")
	}

	user, how, err := s.resolve(ctx, profile)
	if err != nil {
		return SignInResult{}, err
	}

	tokens, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return SignInResult{}, err
	}

	view := profileOrFallback(ctx, s.users, s.logger, user)
	publishEvent(ctx, s.events, s.logger, mq.UserEvent{
		Type:     mq.EventUserSignedIn,
		UserID:   view.ID,
		Username: view.Username,
		Email:    view.Email,
		Detail:   map[string]string{"provider": "google", "resolution": string(how)},
	})
	return SignInResult{User: view, Tokens: tokens}, nil
}

// resolve finds the user for a verified profile, linking or creating one as
// needed. A duplicate-key error on create means another writer got there
// first or the generated username collided, so resolution starts over.
func (s *IdentityService) resolve(ctx context.Context, profile types.IdentityProfile) (types.User, resolution, error) {
	for attempt := 1; attempt <= maxUsernameAttempts; attempt++ {
		existing, err := s.users.FindByGoogleIDOrEmail(ctx, profile.Subject, profile.Email)
		switch {
		case err == nil:
			if existing.GoogleID != "" {
				return existing, resolvedExisting, nil
			}
			return s.link(ctx, existing, profile)
		case !errors.Is(err, store.ErrNotFound):
			return types.User{}, "", PersistenceError("failed to look up user", err)
		}

		username, err := s.username(profile.Email)
		if err != nil {
			return types.User{}, "", newError(KindInternal, "failed to generate username", err)
		}

		created, err := s.users.Create(ctx, types.User{
			Username: username,
			Email:    profile.Email,
			FullName: profile.Name,
			Avatar:   profile.Picture,
			GoogleID: profile.Subject,
		})
		if err == nil {
			s.logger.InfoContext(ctx, "created user from identity", "user_id", created.ID)
			return created, resolvedCreated, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return types.User{}, "", PersistenceError("failed to create user", err)
		}
		s.logger.InfoContext(ctx, "identity user create collided, retrying", "attempt", attempt, "error", err)
	}
	return types.User{}, "", ConflictError("could not allocate a unique username", nil)
}

func (s *IdentityService) link(ctx context.Context, user types.User, profile types.IdentityProfile) (types.User, resolution, error) {
	user.GoogleID = profile.Subject
	if user.Avatar == "" {
		user.Avatar = profile.Picture
	}
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, "", ConflictError("identity is linked to another user", err)
		}
		return types.User{}, "", PersistenceError("failed to link identity", err)
	}
	s.logger.InfoContext(ctx, "linked identity to existing user", "user_id", updated.ID)
	return updated, resolvedLinked, nil
}

// username derives "<local part>_<suffix>". The suffix only lowers the
// chance of collision; the repository's unique index decides.
func (s *IdentityService) username(email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	local = strings.ToLower(strings.TrimSpace(local))
	if local == "" {
		local = "user"
	}
	suffix, err := s.suffix()
	if err != nil {
		return "", err
	}
	return local + "_" + suffix, nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, usernameSuffixLen)
	max := big.NewInt(int64(len(usernameAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = usernameAlphabet[n.Int64()]
	}
	return string(buf), nil
}
