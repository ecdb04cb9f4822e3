// Package user stores per-user settings and watch data. Users are plain
// documents keyed by name, their config and anime maps are merged field
// by field so concurrent clients never clobber each other's keys.
package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"animarr/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collection = "users"

// User is one stored account. Config and Anime are free form documents
// owned by the clients, only the envelope fields are interpreted here.
type User struct {
	Name     string    `bson:"_id"`
	APIKey   string    `bson:"api_key"`
	Config   bson.M    `bson:"config,omitempty"`
	Anime    bson.M    `bson:"anime,omitempty"`
	LastEdit time.Time `bson:"last_edit,omitempty"`
	Edits    int       `bson:"edits,omitempty"`
}

type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collection)}
}

// safeKey strips dots so user supplied keys cannot address nested fields.
func safeKey(key string) string {
	return strings.ReplaceAll(key, ".", "")
}

// dataUpdate builds the merge update for one sub document. The api key is
// only written when the update creates the user.
func dataUpdate(field string, update bson.M) bson.M {
	set := bson.M{}
	for key, value := range update {
		set[fmt.Sprintf("%s.%s", field, safeKey(key))] = value
	}

	return bson.M{
		"$setOnInsert": bson.M{"api_key": uuid.NewString()},
		"$set":         set,
		"$currentDate": bson.M{"last_edit": true},
		"$inc":         bson.M{"edits": 1},
	}
}

// Get returns the user stored under name, domain.ErrUserNotFound when
// there is none.
func (s *Store) Get(ctx context.Context, name string) (User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return User{}, errors.Wrapf(err, "failed to fetch user %s", name)
	}

	return u, nil
}

// GetByAPIKey returns the user owning key, domain.ErrUserNotFound when no
// user does.
func (s *Store) GetByAPIKey(ctx context.Context, key string) (User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"api_key": key}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "failed to fetch user by api key")
	}

	return u, nil
}

// SetConfig merges update into the user's config document, creating the
// user and their api key on first write.
func (s *Store) SetConfig(ctx context.Context, name string, update bson.M) error {
	return s.setData(ctx, name, "config", update)
}

// SetAnime merges update into the user's anime document.
func (s *Store) SetAnime(ctx context.Context, name string, update bson.M) error {
	return s.setData(ctx, name, "anime", update)
}

func (s *Store) setData(ctx context.Context, name, field string, update bson.M) error {
	if len(update) == 0 {
		return errors.Errorf("empty %s update for %s", field, name)
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		dataUpdate(field, update),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update %s for %s", field, name)
	}

	return nil
}

// DeleteAnime drops one entry from the user's anime document.
func (s *Store) DeleteAnime(ctx context.Context, name, key string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{
			"$unset":       bson.M{fmt.Sprintf("anime.%s", safeKey(key)): ""},
			"$currentDate": bson.M{"last_edit": true},
			"$inc":         bson.M{"edits": 1},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to delete anime %s for %s", key, name)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// Delete removes the user altogether.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return errors.Wrapf(err, "failed to delete user %s", name)
	}
	if res.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}
