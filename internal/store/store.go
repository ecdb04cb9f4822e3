// Package store persists entity state, url pools, users and the site
// index in MongoDB. An expiring object cache sits in front of the anime
// collection so repeated operations on a uid share one live entity.
package store

import (
	"context"
	"time"

	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/source"
	"animarr/internal/uid"
	"animarr/internal/user"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	animeCollection     = "anime"
	poolCollection      = "url_pool"
	mediaCollection     = "media"
	mediaMetaCollection = "media_meta"

	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Minute
)

type Store struct {
	client *mongo.Client

	anime     *mongo.Collection
	pools     *mongo.Collection
	media     *mongo.Collection
	mediaMeta *mongo.Collection

	// Users handles the per-user documents of the same database.
	Users *user.Store

	cache *expirable.LRU[string, domain.SourceAnime]
}

type Option func(*settings)

type settings struct {
	cacheSize int
	cacheTTL  time.Duration
}

// WithCacheSize caps how many live entities are kept in memory.
func WithCacheSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithCacheTTL bounds how long a live entity serves lookups before it is
// revived from its document again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// New connects to the MongoDB behind uri and pings it once so a bad
// address fails here instead of on the first lookup.
func New(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	cfg := settings{
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "failed to reach mongodb")
	}

	db := client.Database(database)

	return &Store{
		client:    client,
		anime:     db.Collection(animeCollection),
		pools:     db.Collection(poolCollection),
		media:     db.Collection(mediaCollection),
		mediaMeta: db.Collection(mediaMetaCollection),
		Users:     user.NewStore(db),
		cache:     newCache(cfg.cacheSize, cfg.cacheTTL),
	}, nil
}

func newCache(size int, ttl time.Duration) *expirable.LRU[string, domain.SourceAnime] {
	return expirable.NewLRU[string, domain.SourceAnime](size, nil, ttl)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// GetAnime returns the live entity for id, reviving it from its stored
// state when none is cached. Unknown ids report domain.ErrUIDUnknown.
func (s *Store) GetAnime(ctx context.Context, id uid.UID) (domain.SourceAnime, error) {
	if a, ok := s.cache.Get(id.String()); ok {
		return a, nil
	}

	var doc bson.M
	err := s.anime.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUIDUnknown
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch anime %s", id)
	}

	a, err := s.buildAnime(ctx, doc)
	if err != nil {
		return nil, err
	}

	s.cache.Add(id.String(), a)
	return a, nil
}

// buildAnime revives a state document. Documents left behind by sources
// that no longer exist are dropped and reported as unknown.
func (s *Store) buildAnime(ctx context.Context, doc bson.M) (domain.SourceAnime, error) {
	a, err := source.Build(doc)
	if errors.Is(err, source.ErrUnknownSource) {
		if id, ok := doc["_id"].(string); ok {
			s.anime.DeleteOne(ctx, bson.M{"_id": id})
		}
		return nil, domain.ErrUIDUnknown
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to revive anime")
	}

	return a, nil
}

// GetAnimes revives every id it can, keyed by uid. Ids nothing is stored
// under are absent from the result rather than an error.
func (s *Store) GetAnimes(ctx context.Context, ids []uid.UID) (map[uid.UID]domain.SourceAnime, error) {
	found := make(map[uid.UID]domain.SourceAnime, len(ids))

	var missing []string
	for _, id := range ids {
		if a, ok := s.cache.Get(id.String()); ok {
			found[id] = a
		} else {
			missing = append(missing, id.String())
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	cur, err := s.anime.Find(ctx, bson.M{"_id": bson.M{"$in": missing}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch animes")
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode anime document")
		}

		a, err := s.buildAnime(ctx, doc)
		if errors.Is(err, domain.ErrUIDUnknown) {
			continue
		}
		if err != nil {
			return nil, err
		}

		id, _ := doc["_id"].(string)
		found[uid.UID(id)] = a
		s.cache.Add(id, a)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate animes")
	}

	return found, nil
}

// AnimesByTitle returns every stored anime carrying exactly this title,
// language and dub flag. Grouping is built on it.
func (s *Store) AnimesByTitle(ctx context.Context, title string, lang language.Language, dubbed bool) ([]domain.SourceAnime, error) {
	filter := bson.M{
		"title":    title,
		"language": lang.String(),
		"is_dub":   dubbed,
	}

	cur, err := s.anime.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch animes titled %q", title)
	}
	defer cur.Close(ctx)

	var animes []domain.SourceAnime
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode anime document")
		}

		// prefer the live entity, it may carry unsaved changes
		if id, ok := doc["_id"].(string); ok {
			if a, ok := s.cache.Get(id); ok {
				animes = append(animes, a)
				continue
			}
		}

		a, err := s.buildAnime(ctx, doc)
		if errors.Is(err, domain.ErrUIDUnknown) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if id, ok := doc["_id"].(string); ok {
			s.cache.Add(id, a)
		}
		animes = append(animes, a)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate animes")
	}

	return animes, nil
}

// CacheAnime tracks a live entity so later lookups and dirty flushes see
// it. Fresh search results enter the store this way.
func (s *Store) CacheAnime(ctx context.Context, a domain.SourceAnime) error {
	id, err := a.UID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to key anime")
	}

	s.cache.Add(id.String(), a)
	return nil
}

// SaveAnime writes the entity's current state and tracks it.
func (s *Store) SaveAnime(ctx context.Context, a domain.SourceAnime) error {
	id, err := a.UID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to key anime")
	}

	_, err = s.anime.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": a.State()},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save anime %s", id)
	}

	a.MarkClean()
	s.cache.Add(id.String(), a)
	return nil
}

// Delete drops an anime from the cache and the collection.
func (s *Store) Delete(ctx context.Context, id uid.UID) error {
	s.cache.Remove(id.String())

	if _, err := s.anime.DeleteOne(ctx, bson.M{"_id": id.String()}); err != nil {
		return errors.Wrapf(err, "failed to delete anime %s", id)
	}

	return nil
}

// SaveDirty flushes every cached entity with unsaved changes in one bulk
// write and marks them clean. Ran after each operation.
func (s *Store) SaveDirty(ctx context.Context) error {
	var (
		models []mongo.WriteModel
		saved  []domain.SourceAnime
	)

	for _, a := range s.cache.Values() {
		if !a.Dirty() {
			continue
		}

		// the uid of a dirty tracked entity is already resolved
		id, err := a.UID(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to key dirty anime")
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id.String()}).
			SetUpdate(bson.M{"$set": a.State()}).
			SetUpsert(true))
		saved = append(saved, a)
	}

	if len(models) == 0 {
		return nil
	}

	_, err := s.anime.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return errors.Wrap(err, "failed to flush dirty animes")
	}

	for _, a := range saved {
		a.MarkClean()
	}

	return nil
}

type poolDoc struct {
	Name       string    `bson:"_id"`
	URL        string    `bson:"url"`
	NextUpdate time.Time `bson:"next_update"`
}

// GetURL returns the saved winner of a url pool, zero values when the
// pool was never saved.
func (s *Store) GetURL(ctx context.Context, name string) (string, time.Time, error) {
	var doc poolDoc
	err := s.pools.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "failed to fetch pool %s", name)
	}

	return doc.URL, doc.NextUpdate, nil
}

// SetURL saves the winner of a url pool until nextUpdate.
func (s *Store) SetURL(ctx context.Context, name string, url string, nextUpdate time.Time) error {
	_, err := s.pools.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"url": url, "next_update": nextUpdate}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save pool %s", name)
	}

	return nil
}

// SaveMedia upserts scraped index records in one unordered bulk write.
func (s *Store) SaveMedia(ctx context.Context, media []domain.Medium) error {
	if len(media) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(media))
	for _, m := range media {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": m.UID}).
			SetReplacement(m).
			SetUpsert(true))
	}

	if _, err := s.media.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return errors.Wrap(err, "failed to save media")
	}

	return nil
}

// HasMedium reports whether an index record exists for id.
func (s *Store) HasMedium(ctx context.Context, id string) (bool, error) {
	n, err := s.media.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrapf(err, "failed to check medium %s", id)
	}

	return n > 0, nil
}

// IndexMeta returns the crawl progress stored under name, a zero record
// when the index was never crawled.
func (s *Store) IndexMeta(ctx context.Context, name string) (domain.IndexMeta, error) {
	var meta domain.IndexMeta
	err := s.mediaMeta.FindOne(ctx, bson.M{"_id": name}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.IndexMeta{Name: name}, nil
	}
	if err != nil {
		return domain.IndexMeta{}, errors.Wrapf(err, "failed to fetch index meta %s", name)
	}

	return meta, nil
}

// SetIndexMeta records crawl progress.
func (s *Store) SetIndexMeta(ctx context.Context, meta domain.IndexMeta) error {
	_, err := s.mediaMeta.UpdateOne(ctx,
		bson.M{"_id": meta.Name},
		bson.M{"$set": bson.M{"last_page": meta.LastPage, "updated": meta.Updated}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save index meta %s", meta.Name)
	}

	return nil
}
