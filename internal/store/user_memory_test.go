package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateEnforcesUniqueness(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, localUser())
	require.NoError(t, err)

	sameEmail := localUser()
	sameEmail.Username = "other"
	_, err = repo.Create(ctx, sameEmail)
	assert.ErrorIs(t, err, ErrDuplicate)

	sameName := localUser()
	sameName.Email = "other@x.com"
	_, err = repo.Create(ctx, sameName)
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Equal(t, 1, repo.Len())
}

func TestMemoryProfileAndRefreshSlot(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, localUser())
	require.NoError(t, err)
	require.NoError(t, repo.SetRefreshToken(ctx, created.ID, "rt-1"))

	full, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", full.RefreshToken)

	profile, err := repo.GetProfile(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, profile.RefreshToken)
	assert.Empty(t, profile.PasswordHash)

	full.FullName = "Ann B. Lee"
	full.RefreshToken = ""
	_, err = repo.Update(ctx, full)
	require.NoError(t, err)

	after, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann B. Lee", after.FullName)
	assert.Equal(t, "rt-1", after.RefreshToken, "update must not touch the refresh slot")
}

func TestMemoryFindByGoogleIDOrEmail(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	byEmail, err := repo.Create(ctx, localUser())
	require.NoError(t, err)

	linked := localUser()
	linked.Username = "bob"
	linked.Email = "bob@x.com"
	linked.GoogleID = "g-bob"
	_, err = repo.Create(ctx, linked)
	require.NoError(t, err)

	got, err := repo.FindByGoogleIDOrEmail(ctx, "g-unknown", "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, got.ID)

	got, err = repo.FindByGoogleIDOrEmail(ctx, "g-bob", "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	_, err = repo.FindByGoogleIDOrEmail(ctx, "g-none", "none@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
