package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/xid"

	"github.com/mytube/apiserver/types"
)

const uniqueViolation = "23505"

const (
	userColumns = `id, username, email, fullname, password_hash, avatar, cover_image,
		google_id, refresh_token, created_at, updated_at`
	profileColumns = `id, username, email, fullname, avatar, cover_image,
		google_id, created_at, updated_at`
)

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var googleID sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Avatar,
		&user.CoverImage,
		&googleID,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.GoogleID = googleID.String
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetProfile reads a user without its password hash or refresh token.
func (r *UserRepository) GetProfile(ctx context.Context, id string) (types.User, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = $1`
	var user types.User
	var googleID sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Avatar,
		&user.CoverImage,
		&googleID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.GoogleID = googleID.String
	return user, nil
}

func (r *UserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR username = $2 LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, email, username))
}

// FindByGoogleIDOrEmail prefers a record linked to the Google subject over
// one that only matches by email.
func (r *UserRepository) FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE google_id = $1 OR email = $2
		ORDER BY CASE WHEN google_id = $1 THEN 0 ELSE 1 END
		LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, googleID, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	now := r.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, username, email, fullname, password_hash, avatar, cover_image,
			google_id, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.Avatar,
		user.CoverImage,
		user.GoogleID,
		user.RefreshToken,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

// Update saves the profile fields of a user. The refresh token slot is only
// written through SetRefreshToken.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}
	user.UpdatedAt = r.now()

	const query = `
		UPDATE users
		SET username = $1,
			email = $2,
			fullname = $3,
			password_hash = $4,
			avatar = $5,
			cover_image = $6,
			google_id = NULLIF($7, ''),
			updated_at = $8
		WHERE id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.Avatar,
		user.CoverImage,
		user.GoogleID,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

// SetRefreshToken overwrites the single refresh token slot without running
// record validation. An empty token clears the slot.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, token, r.now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
