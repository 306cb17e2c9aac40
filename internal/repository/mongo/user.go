package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

var _ repository.UserRepository = (*Store)(nil)

// Create inserts user; a unique-index violation becomes apperror.Conflict.
func (s *Store) Create(ctx context.Context, user *model.User) error {
	doc := *user
	doc.ID = xid.New().String()
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	doc.UpdatedAt = doc.CreatedAt
	if doc.WatchHistory == nil {
		doc.WatchHistory = []string{}
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if conflict := duplicateKey(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("mongo: inserting user %q: %w", user.Username, err)
	}

	user.ID = doc.ID
	user.CreatedAt = doc.CreatedAt
	user.UpdatedAt = doc.UpdatedAt
	user.WatchHistory = doc.WatchHistory
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"_id": id}, id)
}

// FindByIdentity matches identity against email when it contains "@" and
// against username otherwise.
func (s *Store) FindByIdentity(ctx context.Context, identity string) (*model.User, error) {
	identity = strings.ToLower(identity)
	field := "username"
	if model.IsEmailIdentity(identity) {
		field = "email"
	}
	return s.findOne(ctx, bson.M{field: identity}, identity)
}

func (s *Store) ExistsByUsernameOrEmail(ctx context.Context, username, email, excludeID string) (bool, bool, error) {
	taken := func(field, value string) (bool, error) {
		if value == "" {
			return false, nil
		}
		filter := bson.M{field: strings.ToLower(value)}
		if excludeID != "" {
			filter["_id"] = bson.M{"$ne": excludeID}
		}
		n, err := s.users.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("mongo: checking %s availability: %w", field, err)
		}
		return n > 0, nil
	}

	usernameTaken, err := taken("username", username)
	if err != nil {
		return false, false, err
	}
	emailTaken, err := taken("email", email)
	if err != nil {
		return false, false, err
	}
	return usernameTaken, emailTaken, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"password": hash, "updatedAt": now()}},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating password for user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	set := bson.M{"updatedAt": now()}
	if upd.Email != nil {
		set["email"] = *upd.Email
	}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.Fullname != nil {
		set["fullname"] = *upd.Fullname
	}

	u, err := s.findOneAndSet(ctx, id, bson.M{"$set": set})
	if err != nil {
		if conflict := duplicateKey(err); conflict != nil {
			return nil, conflict
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) UpdateImages(ctx context.Context, id, avatarURL, coverImageURL string) (*model.User, error) {
	set := bson.M{"updatedAt": now()}
	if avatarURL != "" {
		set["avatar"] = avatarURL
	}
	if coverImageURL != "" {
		set["coverImage"] = coverImageURL
	}
	return s.findOneAndSet(ctx, id, bson.M{"$set": set})
}

// SetRefreshToken overwrites the slot; an empty token removes the field.
func (s *Store) SetRefreshToken(ctx context.Context, id, token string) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, refreshUpdate(token))
	if err != nil {
		return fmt.Errorf("mongo: setting refresh token for user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// SwapRefreshToken filters on the expected token, so the match and the write
// happen atomically on the server. A concurrent swap that got there first
// leaves nothing to match.
func (s *Store) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id, "refreshToken": expected},
		refreshUpdate(next),
	)
	if err != nil {
		return false, fmt.Errorf("mongo: rotating refresh token for user %s: %w", id, err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, refreshUpdate(""))
	if err != nil {
		return fmt.Errorf("mongo: clearing refresh token for user %s: %w", id, err)
	}
	return nil
}

// =========================================================================
// helpers
// =========================================================================

func (s *Store) findOne(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mgo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongo: finding user %q: %w", key, err)
	}
	return normalise(&u), nil
}

func (s *Store) findOneAndSet(ctx context.Context, id string, update bson.M) (*model.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u model.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&u)
	if err != nil {
		if errors.Is(err, mgo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: updating user %s: %w", id, err)
	}
	return normalise(&u), nil
}

func refreshUpdate(token string) bson.M {
	if token == "" {
		return bson.M{
			"$unset": bson.M{"refreshToken": ""},
			"$set":   bson.M{"updatedAt": now()},
		}
	}
	return bson.M{"$set": bson.M{"refreshToken": token, "updatedAt": now()}}
}

// duplicateKey maps E11000 to apperror.Conflict naming the field whose index
// was violated. The server names the index in the message:
//
//	E11000 duplicate key error collection: app.users index: uniq_email dup key: { email: "a@b.c" }
func duplicateKey(err error) *apperror.AppError {
	if !mgo.IsDuplicateKeyError(err) {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, emailIndex):
		return apperror.Conflict("user", "email")
	case strings.Contains(msg, usernameIndex):
		return apperror.Conflict("user", "username")
	default:
		return apperror.Conflict("user", "username or email")
	}
}

func normalise(u *model.User) *model.User {
	if u.WatchHistory == nil {
		u.WatchHistory = []string{}
	}
	return u
}

// now is truncated to milliseconds, the resolution BSON dates keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
