package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mytube/apiserver/types"
)

// MongoUserRepository handles persistence for users in a MongoDB collection.
type MongoUserRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoUserRepository(collection *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{collection: collection, now: time.Now}
}

// EnsureIndexes creates the unique indexes the repository relies on.
func (m *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "google_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	return err
}

func (m *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

// GetProfile reads a user without its password hash or refresh token.
func (m *MongoUserRepository) GetProfile(ctx context.Context, id string) (types.User, error) {
	opts := options.FindOne().SetProjection(bson.M{"password_hash": 0, "refresh_token": 0})
	return m.findOne(ctx, bson.M{"_id": id}, opts)
}

func (m *MongoUserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (types.User, error) {
	return m.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"username": username},
	}})
}

// FindByGoogleIDOrEmail prefers a record linked to the Google subject over
// one that only matches by email.
func (m *MongoUserRepository) FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (types.User, error) {
	if googleID != "" {
		user, err := m.findOne(ctx, bson.M{"google_id": googleID})
		if err == nil || !errors.Is(err, ErrNotFound) {
			return user, err
		}
	}
	return m.findOne(ctx, bson.M{"email": email})
}

func (m *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	now := m.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := m.collection.InsertOne(ctx, user); err != nil {
		return types.User{}, mapMongoWriteError(err)
	}
	return user, nil
}

// Update saves the profile fields of a user. The refresh token slot is only
// written through SetRefreshToken.
func (m *MongoUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	if err := user.Validate(); err != nil {
		return types.User{}, err
	}
	user.UpdatedAt = m.now()

	set := bson.M{
		"username":    user.Username,
		"email":       user.Email,
		"fullname":    user.FullName,
		"avatar":      user.Avatar,
		"cover_image": user.CoverImage,
		"updated_at":  user.UpdatedAt,
	}
	if user.PasswordHash != "" {
		set["password_hash"] = user.PasswordHash
	}
	if user.GoogleID != "" {
		set["google_id"] = user.GoogleID
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": set})
	if err != nil {
		return types.User{}, mapMongoWriteError(err)
	}
	if result.MatchedCount == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

// SetRefreshToken overwrites the single refresh token slot without running
// record validation. An empty token clears the slot.
func (m *MongoUserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	update := bson.M{"$set": bson.M{"refresh_token": token, "updated_at": m.now()}}
	if token == "" {
		update = bson.M{
			"$unset": bson.M{"refresh_token": ""},
			"$set":   bson.M{"updated_at": m.now()},
		}
	}
	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoUserRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (types.User, error) {
	var user types.User
	err := m.collection.FindOne(ctx, filter, opts...).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func mapMongoWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
