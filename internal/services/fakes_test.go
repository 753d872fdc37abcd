package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mytube/apiserver/internal/auth"
	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/store"
	"github.com/mytube/apiserver/types"
)

var errBoom = errors.New("boom")

// testRepo wraps the memory repository with call counters and injectable
// failures.
type testRepo struct {
	*store.MemoryUserRepository

	createErr     error
	profileErr    error
	setRefreshErr error

	creates int
	updates int
}

func newTestRepo() *testRepo {
	return &testRepo{MemoryUserRepository: store.NewMemoryUserRepository()}
}

func (r *testRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.creates++
	if r.createErr != nil {
		return types.User{}, r.createErr
	}
	return r.MemoryUserRepository.Create(ctx, user)
}

func (r *testRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	r.updates++
	return r.MemoryUserRepository.Update(ctx, user)
}

func (r *testRepo) GetProfile(ctx context.Context, id string) (types.User, error) {
	if r.profileErr != nil {
		return types.User{}, r.profileErr
	}
	return r.MemoryUserRepository.GetProfile(ctx, id)
}

func (r *testRepo) SetRefreshToken(ctx context.Context, id, token string) error {
	if r.setRefreshErr != nil {
		return r.setRefreshErr
	}
	return r.MemoryUserRepository.SetRefreshToken(ctx, id, token)
}

// seedUser stores a local account with the given password.
func (r *testRepo) seedUser(t *testing.T, username, email, password string) types.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := r.MemoryUserRepository.Create(context.Background(), types.User{
		Username:     username,
		Email:        email,
		FullName:     username,
		PasswordHash: string(hash),
		Avatar:       "https://media.test/" + username + ".png",
	})
	require.NoError(t, err)
	return user
}

type fakeMedia struct {
	mu       sync.Mutex
	fail     map[string]error
	uploaded []string
	deleted  []string
	// deleteCtxErr records ctx.Err() seen by each Delete call.
	deleteCtxErr []error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{fail: map[string]error{}}
}

func (m *fakeMedia) Upload(ctx context.Context, localPath string) (types.MediaRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[localPath]; err != nil {
		return types.MediaRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.MediaRef{}, err
	}
	name := filepath.Base(localPath)
	m.uploaded = append(m.uploaded, localPath)
	return types.MediaRef{
		URL:          "https://media.test/" + name,
		PublicID:     "pid-" + name,
		ResourceType: "image",
	}, nil
}

func (m *fakeMedia) Delete(ctx context.Context, publicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, publicID)
	m.deleteCtxErr = append(m.deleteCtxErr, ctx.Err())
	return nil
}

type fakeVerifier struct {
	profile  types.IdentityProfile
	err      error
	audience string
}

func (v *fakeVerifier) Verify(_ context.Context, _ string, audience string) (types.IdentityProfile, error) {
	v.audience = audience
	if v.err != nil {
		return types.IdentityProfile{}, v.err
	}
	return v.profile, nil
}

type recordingEvents struct {
	events []mq.UserEvent
	err    error
}

func (e *recordingEvents) PublishUserEvent(_ context.Context, event mq.UserEvent) error {
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func newTestIssuer() *auth.Issuer {
	return auth.NewIssuer("access-secret", "refresh-secret", 15*time.Minute, 240*time.Hour)
}
