package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mytube/apiserver/internal/mq"
	"github.com/mytube/apiserver/internal/store"
)

func annLee() RegisterInput {
	return RegisterInput{
		FullName: "Ann Lee",
		Email:    "Ann@Example.com",
		Username: "AnnLee",
		Password: "s3cret-pass",
	}
}

type registrationFixture struct {
	repo   *testRepo
	media  *fakeMedia
	events *recordingEvents
	svc    *RegistrationService
}

func newRegistrationFixture(opts RegistrationOptions) *registrationFixture {
	f := &registrationFixture{
		repo:   newTestRepo(),
		media:  newFakeMedia(),
		events: &recordingEvents{},
	}
	f.svc = NewRegistrationService(f.repo, f.media, f.events, nil, opts)
	return f
}

func TestRegisterWithoutCoverImage(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})

	user, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "annlee", user.Username)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.Equal(t, "Ann Lee", user.FullName)
	assert.Equal(t, "https://media.test/ann.png", user.Avatar)
	assert.Equal(t, "", user.CoverImage)
	assert.Empty(t, user.PasswordHash)
	assert.Empty(t, user.RefreshToken)
	assert.Empty(t, f.media.deleted)

	stored, err := f.repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret-pass")))

	require.Len(t, f.events.events, 1)
	assert.Equal(t, mq.EventUserRegistered, f.events.events[0].Type)
	assert.Equal(t, user.ID, f.events.events[0].UserID)
}

func TestRegisterWithCoverImage(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})

	user, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{
		AvatarPath:     "/tmp/up/ann.png",
		CoverImagePath: "/tmp/up/cover.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://media.test/cover.jpg", user.CoverImage)
	assert.Equal(t, []string{"/tmp/up/ann.png", "/tmp/up/cover.jpg"}, f.media.uploaded)
}

func TestRegisterValidation(t *testing.T) {
	cases := map[string]struct {
		opts  RegistrationOptions
		in    func(in *RegisterInput)
		files RegisterFiles
		want  string
	}{
		"blank fullname": {
			in:    func(in *RegisterInput) { in.FullName = "   " },
			files: RegisterFiles{AvatarPath: "/tmp/a.png"},
			want:  "all fields are required",
		},
		"missing password": {
			in:    func(in *RegisterInput) { in.Password = "" },
			files: RegisterFiles{AvatarPath: "/tmp/a.png"},
			want:  "all fields are required",
		},
		"password over bcrypt limit": {
			in:    func(in *RegisterInput) { in.Password = strings.Repeat("p", maxPasswordBytes+1) },
			files: RegisterFiles{AvatarPath: "/tmp/a.png", CoverImagePath: "/tmp/c.png"},
			want:  "password must be at most 72 bytes",
		},
		"missing avatar": {
			in:   func(*RegisterInput) {},
			want: "avatar is required",
		},
		"required cover image": {
			opts:  RegistrationOptions{RequireCoverImage: true},
			in:    func(*RegisterInput) {},
			files: RegisterFiles{AvatarPath: "/tmp/a.png"},
			want:  "cover image is required",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newRegistrationFixture(tc.opts)
			in := annLee()
			tc.in(&in)

			_, err := f.svc.Register(context.Background(), in, tc.files)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Contains(t, err.Error(), tc.want)
			assert.Empty(t, f.media.uploaded)
			assert.Equal(t, 0, f.repo.Len())
		})
	}
}

func TestRegisterAcceptsPasswordAtBcryptLimit(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	in := annLee()
	in.Password = strings.Repeat("p", maxPasswordBytes)

	user, err := f.svc.Register(context.Background(), in, RegisterFiles{AvatarPath: "/tmp/a.png"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Empty(t, f.media.deleted)
}

func TestRegisterDuplicateSkipsUploads(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.repo.seedUser(t, "someone", "ann@example.com", "pw")

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Empty(t, f.media.uploaded)
	assert.Equal(t, 1, f.repo.Len())
	assert.Empty(t, f.events.events)
}

func TestRegisterAvatarUploadFailure(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.media.fail["/tmp/up/ann.png"] = errBoom

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{
		AvatarPath:     "/tmp/up/ann.png",
		CoverImagePath: "/tmp/up/cover.jpg",
	})
	require.Error(t, err)
	assert.Equal(t, KindUpload, KindOf(err))
	assert.ErrorIs(t, err, errBoom)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "avatar", svcErr.Detail["asset"])
	assert.Empty(t, f.media.deleted)
	assert.Equal(t, 0, f.repo.creates)
}

func TestRegisterCoverFailureDeletesAvatar(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.media.fail["/tmp/up/cover.jpg"] = errBoom

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{
		AvatarPath:     "/tmp/up/ann.png",
		CoverImagePath: "/tmp/up/cover.jpg",
	})
	require.Error(t, err)
	assert.Equal(t, KindUpload, KindOf(err))

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "coverImage", svcErr.Detail["asset"])
	assert.Equal(t, []string{"pid-ann.png"}, f.media.deleted)
	assert.Equal(t, 0, f.repo.Len())
}

func TestRegisterPersistenceFailureDeletesAllMedia(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.repo.createErr = errBoom

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{
		AvatarPath:     "/tmp/up/ann.png",
		CoverImagePath: "/tmp/up/cover.jpg",
	})
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, []string{"pid-cover.jpg", "pid-ann.png"}, f.media.deleted)
	assert.Empty(t, f.events.events)
}

func TestRegisterCreateRaceIsConflict(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.repo.createErr = fmt.Errorf("%w: email", store.ErrDuplicate)

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, []string{"pid-ann.png"}, f.media.deleted)
}

func TestRegisterRollbackIgnoresCancellation(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.repo.createErr = errBoom

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Register(ctx, annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.Error(t, err)
	assert.Equal(t, []string{"/tmp/up/ann.png"}, f.media.uploaded)
	require.Len(t, f.media.deleteCtxErr, 1)
	assert.NoError(t, f.media.deleteCtxErr[0])
}

func TestRegisterFallsBackWhenProfileReadFails(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.repo.profileErr = errBoom

	user, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.NoError(t, err)
	assert.Equal(t, "annlee", user.Username)
	assert.Empty(t, user.PasswordHash)
	assert.Empty(t, f.media.deleted)
}

func TestRegisterIgnoresEventFailure(t *testing.T) {
	f := newRegistrationFixture(RegistrationOptions{})
	f.events.err = errBoom

	_, err := f.svc.Register(context.Background(), annLee(), RegisterFiles{AvatarPath: "/tmp/up/ann.png"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.Len())
}
