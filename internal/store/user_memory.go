package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/mytube/apiserver/types"
)

// MemoryUserRepository keeps users in memory with the same uniqueness rules
// as the database backends. Each instance owns its own data.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
	now   func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]types.User{}, now: time.Now}
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return types.User{}, ErrNotFound
}

// GetProfile reads a user without its password hash or refresh token.
func (m *MemoryUserRepository) GetProfile(ctx context.Context, id string) (types.User, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	return u.Profile(), nil
}

func (m *MemoryUserRepository) FindByEmailOrUsername(_ context.Context, email, username string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.first(func(u types.User) bool {
		return u.Email == email || u.Username == username
	})
}

func (m *MemoryUserRepository) FindByGoogleIDOrEmail(_ context.Context, googleID, email string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if googleID != "" {
		if u, err := m.first(func(u types.User) bool { return u.GoogleID == googleID }); err == nil {
			return u, nil
		}
	}
	return m.first(func(u types.User) bool { return u.Email == email })
}

func (m *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if _, ok := m.users[user.ID]; ok {
		return types.User{}, fmt.Errorf("%w: id", ErrDuplicate)
	}
	if err := m.checkUnique(user); err != nil {
		return types.User{}, err
	}
	now := m.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

// Update saves the profile fields of a user. The refresh token slot is only
// written through SetRefreshToken.
func (m *MemoryUserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	if err := m.checkUnique(user); err != nil {
		return types.User{}, err
	}
	user.RefreshToken = current.RefreshToken
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = m.now()
	m.users[user.ID] = user
	return user, nil
}

// SetRefreshToken overwrites the single refresh token slot without running
// record validation. An empty token clears the slot.
func (m *MemoryUserRepository) SetRefreshToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = token
	u.UpdatedAt = m.now()
	m.users[id] = u
	return nil
}

// Len returns the number of stored users.
func (m *MemoryUserRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func (m *MemoryUserRepository) checkUnique(user types.User) error {
	for id, other := range m.users {
		if id == user.ID {
			continue
		}
		switch {
		case other.Username == user.Username:
			return fmt.Errorf("%w: username", ErrDuplicate)
		case other.Email == user.Email:
			return fmt.Errorf("%w: email", ErrDuplicate)
		case user.GoogleID != "" && other.GoogleID == user.GoogleID:
			return fmt.Errorf("%w: google_id", ErrDuplicate)
		}
	}
	return nil
}

// first returns the oldest matching user so lookups are deterministic.
func (m *MemoryUserRepository) first(match func(types.User) bool) (types.User, error) {
	var found []types.User
	for _, u := range m.users {
		if match(u) {
			found = append(found, u)
		}
	}
	if len(found) == 0 {
		return types.User{}, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].ID < found[j].ID
		}
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	return found[0], nil
}
