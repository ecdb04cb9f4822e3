package anime

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/uid"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

const expireTime = 30 * time.Minute

// Fetcher pulls a show's metadata out of its site. Concrete sources
// embed *Base and implement it.
type Fetcher interface {
	FetchTitle(ctx context.Context) (string, error)
	FetchThumbnail(ctx context.Context) (string, error)
	FetchDubbed(ctx context.Context) (bool, error)
	FetchLanguage(ctx context.Context) (language.Language, error)
	FetchEpisodeCount(ctx context.Context) (int, error)

	// FetchEpisodes builds every known episode, keyed by zero based
	// index.
	FetchEpisodes(ctx context.Context) (map[int]domain.Episode, error)

	// FetchEpisode builds the episode at index without listing all of
	// them, domain.ErrEpisodeNotFound when there is none.
	FetchEpisode(ctx context.Context, index int) (domain.Episode, error)

	// LoadEpisode revives an episode from its stored document.
	LoadEpisode(doc bson.M) (domain.Episode, error)
}

// Base carries the cached metadata of one show on one site. Metadata
// sticks for the life of the document, only the episode count expires,
// airing shows grow.
type Base struct {
	*state.Entity

	cls    string
	source string
	impl   Fetcher

	id           lazy.Slot[uid.UID]
	mediaID      lazy.Slot[string]
	title        lazy.Slot[string]
	thumbnail    lazy.Slot[string]
	dubbed       lazy.Slot[bool]
	lang         lazy.Slot[language.Language]
	episodeCount lazy.Slot[int]

	epMu     sync.Mutex
	episodes map[int]domain.Episode
}

// NewBase wires a source implementation up. cls is the adapter's class
// name as written into documents, the source id is its lowercase form.
func NewBase(cls string, req *request.Request, impl Fetcher) *Base {
	b := &Base{
		Entity: state.NewEntity(req, expireTime),
		cls:    cls,
		source: strings.ToLower(cls),
		impl:   impl,
	}
	b.OnExpire(b.episodeCount.Reset)

	return b
}

func (b *Base) Source() string {
	return b.source
}

func (b *Base) String() string {
	if title, ok := b.title.Peek(); ok {
		return title
	}
	return fmt.Sprintf("%s anime: %s", b.cls, b.Request())
}

func (b *Base) UID(ctx context.Context) (uid.UID, error) {
	return b.id.Get(ctx, func(ctx context.Context) (uid.UID, error) {
		mediaID, err := b.MediaID(ctx)
		if err != nil {
			return "", err
		}
		lang, err := b.Language(ctx)
		if err != nil {
			return "", err
		}
		dubbed, err := b.Dubbed(ctx)
		if err != nil {
			return "", err
		}

		return uid.New(uid.TypeAnime, mediaID, b.source, lang, dubbed), nil
	})
}

func (b *Base) MediaID(ctx context.Context) (string, error) {
	return state.Cached(ctx, b.Entity, &b.mediaID, func(ctx context.Context) (string, error) {
		title, err := b.Title(ctx)
		if err != nil {
			return "", err
		}
		return uid.CreateMediaID(title), nil
	})
}

func (b *Base) Title(ctx context.Context) (string, error) {
	return state.Cached(ctx, b.Entity, &b.title, b.impl.FetchTitle)
}

func (b *Base) Thumbnail(ctx context.Context) (string, error) {
	return state.Cached(ctx, b.Entity, &b.thumbnail, b.impl.FetchThumbnail)
}

func (b *Base) Dubbed(ctx context.Context) (bool, error) {
	return state.Cached(ctx, b.Entity, &b.dubbed, b.impl.FetchDubbed)
}

func (b *Base) Language(ctx context.Context) (language.Language, error) {
	return state.Cached(ctx, b.Entity, &b.lang, b.impl.FetchLanguage)
}

func (b *Base) EpisodeCount(ctx context.Context) (int, error) {
	b.Refresh()
	return state.Cached(ctx, b.Entity, &b.episodeCount, b.impl.FetchEpisodeCount)
}

// Episode returns the episode at the zero based index, fetching and
// caching it on first access.
func (b *Base) Episode(ctx context.Context, index int) (domain.Episode, error) {
	b.epMu.Lock()
	if ep, ok := b.episodes[index]; ok {
		b.epMu.Unlock()
		return ep, nil
	}
	b.epMu.Unlock()

	ep, err := b.impl.FetchEpisode(ctx, index)
	if err != nil {
		return nil, err
	}

	b.epMu.Lock()
	if b.episodes == nil {
		b.episodes = make(map[int]domain.Episode)
	}
	b.episodes[index] = ep
	b.epMu.Unlock()

	return ep, nil
}

// Episodes returns every episode by index. A partially filled map, left
// behind by revival or single episode lookups, is topped up against the
// current episode count.
func (b *Base) Episodes(ctx context.Context) (map[int]domain.Episode, error) {
	b.epMu.Lock()
	known := b.episodes != nil
	b.epMu.Unlock()

	if !known {
		eps, err := b.impl.FetchEpisodes(ctx)
		if err != nil {
			return nil, err
		}

		b.epMu.Lock()
		if b.episodes == nil {
			b.episodes = make(map[int]domain.Episode, len(eps))
		}
		for i, ep := range eps {
			if _, ok := b.episodes[i]; !ok {
				b.episodes[i] = ep
			}
		}
		snapshot := maps.Clone(b.episodes)
		b.epMu.Unlock()

		return snapshot, nil
	}

	count, err := b.EpisodeCount(ctx)
	if err != nil {
		return nil, err
	}

	b.epMu.Lock()
	var missing []int
	for i := 0; i < count; i++ {
		if _, ok := b.episodes[i]; !ok {
			missing = append(missing, i)
		}
	}
	b.epMu.Unlock()

	for _, i := range missing {
		ep, err := b.impl.FetchEpisode(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch episode %d: %w", i, err)
		}

		b.epMu.Lock()
		b.episodes[i] = ep
		b.epMu.Unlock()
	}

	b.epMu.Lock()
	snapshot := maps.Clone(b.episodes)
	b.epMu.Unlock()

	return snapshot, nil
}

// Preload resolves all metadata attributes concurrently, used to warm
// search results before they are returned.
func (b *Base) Preload(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := b.MediaID(ctx)
		return err
	})
	g.Go(func() error {
		_, err := b.Dubbed(ctx)
		return err
	})
	g.Go(func() error {
		_, err := b.Language(ctx)
		return err
	})
	g.Go(func() error {
		_, err := b.Title(ctx)
		return err
	})
	g.Go(func() error {
		_, err := b.Thumbnail(ctx)
		return err
	})
	g.Go(func() error {
		_, err := b.EpisodeCount(ctx)
		return err
	})

	return g.Wait()
}

// Dirty also reflects the cached episodes, resolving a stream deep in
// an episode has to trigger a save of the whole document.
func (b *Base) Dirty() bool {
	if b.Entity.Dirty() {
		return true
	}

	b.epMu.Lock()
	defer b.epMu.Unlock()
	for _, ep := range b.episodes {
		if ep.Dirty() {
			return true
		}
	}

	return false
}

func (b *Base) MarkClean() {
	b.Entity.MarkClean()

	b.epMu.Lock()
	defer b.epMu.Unlock()
	for _, ep := range b.episodes {
		ep.MarkClean()
	}
}

func (b *Base) State() bson.M {
	doc := bson.M{
		"cls":         b.cls,
		"req":         b.Request().State(),
		"last_update": b.LastUpdate(),
	}
	if mediaID, ok := b.mediaID.Peek(); ok {
		doc["media_id"] = mediaID
	}
	if title, ok := b.title.Peek(); ok {
		doc["title"] = title
	}
	if thumbnail, ok := b.thumbnail.Peek(); ok {
		doc["thumbnail"] = thumbnail
	}
	if dubbed, ok := b.dubbed.Peek(); ok {
		doc["is_dub"] = dubbed
	}
	if lang, ok := b.lang.Peek(); ok {
		doc["language"] = lang.String()
	}
	if count, ok := b.episodeCount.Peek(); ok {
		doc["episode_count"] = count
	}

	b.epMu.Lock()
	if b.episodes != nil {
		eps := make(bson.M, len(b.episodes))
		for i, ep := range b.episodes {
			eps[strconv.Itoa(i)] = ep.State()
		}
		doc["episodes"] = eps
	}
	b.epMu.Unlock()

	return doc
}

// Prime restores cached attributes from a stored document. The uid
// comes from the document key, it is never written into the body.
func (b *Base) Prime(doc bson.M) {
	if u, ok := doc["_id"].(string); ok && u != "" {
		b.id.Set(uid.UID(u))
	}
	if t, ok := state.AsTime(doc["last_update"]); ok {
		b.SetLastUpdate(t)
	}
	if mediaID, ok := doc["media_id"].(string); ok {
		b.mediaID.Set(mediaID)
	}
	if title, ok := doc["title"].(string); ok {
		b.title.Set(title)
	}
	if thumbnail, ok := doc["thumbnail"].(string); ok {
		b.thumbnail.Set(thumbnail)
	}
	if dubbed, ok := doc["is_dub"].(bool); ok {
		b.dubbed.Set(dubbed)
	}
	if raw, ok := doc["language"].(string); ok {
		if lang, err := language.Parse(raw); err == nil {
			b.lang.Set(lang)
		}
	}
	if count, ok := state.AsInt(doc["episode_count"]); ok {
		b.episodeCount.Set(count)
	}

	if eps, ok := state.AsDoc(doc["episodes"]); ok {
		episodes := make(map[int]domain.Episode, len(eps))
		for key, raw := range eps {
			index, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			epDoc, ok := state.AsDoc(raw)
			if !ok {
				continue
			}
			ep, err := b.impl.LoadEpisode(epDoc)
			if err != nil {
				continue
			}
			episodes[index] = ep
		}

		b.epMu.Lock()
		b.episodes = episodes
		b.epMu.Unlock()
	}
}
