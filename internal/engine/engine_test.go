package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/logger"
	"animarr/internal/source"
	"animarr/internal/uid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeAnime struct {
	source string
	title  string
	lang   language.Language
	dubbed bool
	count  int

	episode domain.Episode

	preloaded atomic.Bool
}

func (f *fakeAnime) UID(context.Context) (uid.UID, error) {
	return uid.New(uid.TypeAnime, uid.CreateMediaID(f.title), f.source, f.lang, f.dubbed), nil
}

func (f *fakeAnime) MediaID(context.Context) (string, error) {
	return uid.CreateMediaID(f.title), nil
}

func (f *fakeAnime) Title(context.Context) (string, error)     { return f.title, nil }
func (f *fakeAnime) Thumbnail(context.Context) (string, error) { return "", nil }
func (f *fakeAnime) EpisodeCount(context.Context) (int, error) { return f.count, nil }
func (f *fakeAnime) Dubbed(context.Context) (bool, error)      { return f.dubbed, nil }
func (f *fakeAnime) Source() string                            { return f.source }
func (f *fakeAnime) State() bson.M                             { return bson.M{} }
func (f *fakeAnime) Dirty() bool                               { return false }
func (f *fakeAnime) MarkClean()                                {}

func (f *fakeAnime) Language(context.Context) (language.Language, error) {
	return f.lang, nil
}

func (f *fakeAnime) Episode(_ context.Context, index int) (domain.Episode, error) {
	if index < 0 || index >= f.count {
		return nil, domain.ErrEpisodeNotFound
	}
	if f.episode == nil {
		return nil, errors.New("no episode wired")
	}
	return f.episode, nil
}

func (f *fakeAnime) Preload(context.Context) error {
	f.preloaded.Store(true)
	return nil
}

type fakeEpisode struct {
	streams []domain.Stream
	working domain.Stream
}

func (f *fakeEpisode) RawStreams(context.Context) ([]string, error)      { return nil, nil }
func (f *fakeEpisode) Streams(context.Context) ([]domain.Stream, error)  { return f.streams, nil }
func (f *fakeEpisode) SourceLinks(context.Context) ([]string, error)     { return nil, nil }
func (f *fakeEpisode) Poster(context.Context) (string, error)            { return "", nil }
func (f *fakeEpisode) State() bson.M                                     { return bson.M{} }
func (f *fakeEpisode) Dirty() bool                                       { return false }
func (f *fakeEpisode) MarkClean()                                        {}

func (f *fakeEpisode) Stream(context.Context) (domain.Stream, error) {
	if f.working == nil {
		return nil, domain.ErrStreamNotFound
	}
	return f.working, nil
}

func (f *fakeEpisode) StreamAt(_ context.Context, index int) (domain.Stream, error) {
	if index < 0 || index >= len(f.streams) {
		return nil, domain.ErrStreamNotFound
	}
	return f.streams[index], nil
}

type fakeStream struct {
	name string
}

func (f *fakeStream) Name() string                                { return f.name }
func (f *fakeStream) Priority() int                               { return 100 }
func (f *fakeStream) External(context.Context) (bool, error)      { return true, nil }
func (f *fakeStream) Links(context.Context) ([]string, error)     { return nil, nil }
func (f *fakeStream) Poster(context.Context) (string, error)      { return "", nil }
func (f *fakeStream) Working(context.Context) bool                { return true }
func (f *fakeStream) State() bson.M                               { return bson.M{} }
func (f *fakeStream) Dirty() bool                                 { return false }
func (f *fakeStream) MarkClean()                                  {}

type fakeStorage struct {
	animes  map[uid.UID]domain.SourceAnime
	byTitle []domain.SourceAnime

	cached  []domain.SourceAnime
	flushed int
}

func (f *fakeStorage) GetAnime(_ context.Context, id uid.UID) (domain.SourceAnime, error) {
	a, ok := f.animes[id]
	if !ok {
		return nil, domain.ErrUIDUnknown
	}
	return a, nil
}

func (f *fakeStorage) AnimesByTitle(context.Context, string, language.Language, bool) ([]domain.SourceAnime, error) {
	return f.byTitle, nil
}

func (f *fakeStorage) CacheAnime(_ context.Context, a domain.SourceAnime) error {
	f.cached = append(f.cached, a)
	return nil
}

func (f *fakeStorage) SaveDirty(context.Context) error {
	f.flushed++
	return nil
}

func fakeSource(name string, delay time.Duration, results []domain.SearchResult, err error) source.Factory {
	return source.Factory{
		Name: name,
		Search: func(ctx context.Context, _ string, _ language.Language, _ bool) ([]domain.SearchResult, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return results, err
		},
		Load: func(bson.M) (domain.SourceAnime, error) {
			return nil, errors.New("not loadable")
		},
	}
}

func result(src, title string, certainty float64) domain.SearchResult {
	return domain.SearchResult{
		Anime:     &fakeAnime{source: src, title: title, lang: language.English},
		Certainty: certainty,
	}
}

func newTestEngine(st Storage, sources ...source.Factory) *Engine {
	e := New(st, logger.Mock(), WithSources(sources...))
	e.batchWindow = 50 * time.Millisecond
	return e
}

func TestSearchRanksResults(t *testing.T) {
	st := &fakeStorage{}
	e := newTestEngine(st,
		fakeSource("SlowButRight", 0, []domain.SearchResult{
			result("nineanime", "Test Anime", 1.0),
		}, nil),
		fakeSource("FastButVague", 0, []domain.SearchResult{
			result("gogoanime", "Test Anime Islands", 0.5),
			result("gogoanime", "Testing Ground", 0.4),
		}, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 1.0, results[0].Certainty)
	assert.Equal(t, 0.5, results[1].Certainty)

	// the returned results are preloaded and tracked
	for _, res := range results {
		assert.True(t, res.Anime.(*fakeAnime).preloaded.Load())
	}
	assert.Len(t, st.cached, 2)
}

func TestSearchClampsN(t *testing.T) {
	e := newTestEngine(&fakeStorage{},
		fakeSource("One", 0, []domain.SearchResult{
			result("gogoanime", "Test Anime", 1.0),
			result("gogoanime", "Other Show", 0.2),
		}, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Certainty)
}

func TestSearchConsidersEverySource(t *testing.T) {
	// the first source alone could fill the considered pool, taking
	// turns keeps the second source's better answer in play
	e := newTestEngine(&fakeStorage{},
		fakeSource("Chatty", 0, []domain.SearchResult{
			result("gogoanime", "Test A", 0.1),
			result("gogoanime", "Test B", 0.1),
			result("gogoanime", "Test C", 0.1),
			result("gogoanime", "Test D", 0.1),
		}, nil),
		fakeSource("Precise", 0, []domain.SearchResult{
			result("nineanime", "Test Anime", 0.9),
		}, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	title, err := results[0].Anime.Title(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test Anime", title)
}

func TestSearchStragglerStillCounts(t *testing.T) {
	// the slow source misses the first batch but the pool still has
	// room, so its answer is waited for
	e := newTestEngine(&fakeStorage{},
		fakeSource("Fast", 0, []domain.SearchResult{
			result("gogoanime", "Test Stand-In", 0.2),
		}, nil),
		fakeSource("Slow", 200*time.Millisecond, []domain.SearchResult{
			result("nineanime", "Test Anime", 0.9),
		}, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Certainty)
}

func TestSearchSourceFailure(t *testing.T) {
	e := newTestEngine(&fakeStorage{},
		fakeSource("Broken", 0, nil, errors.New("interstitial hell")),
		fakeSource("Fine", 0, []domain.SearchResult{
			result("gogoanime", "Test Anime", 1.0),
		}, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchNothingFound(t *testing.T) {
	e := newTestEngine(&fakeStorage{},
		fakeSource("Empty", 0, nil, nil),
	)

	results, err := e.Search(context.Background(), "test anime", language.English, false, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchHonorsContext(t *testing.T) {
	// a source that never answers, not even to cancellation
	stuck := source.Factory{
		Name: "Stuck",
		Search: func(context.Context, string, language.Language, bool) ([]domain.SearchResult, error) {
			time.Sleep(time.Hour)
			return nil, nil
		},
	}
	e := newTestEngine(&fakeStorage{}, stuck)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Search(ctx, "test anime", language.English, false, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInterleave(t *testing.T) {
	a := result("gogoanime", "A", 0.1)
	b := result("gogoanime", "B", 0.2)
	c := result("nineanime", "C", 0.3)
	d := result("nineanime", "D", 0.4)
	e := result("masteranime", "E", 0.5)

	tests := []struct {
		name    string
		batches [][]domain.SearchResult
		want    []domain.SearchResult
	}{
		{
			name: "even",
			batches: [][]domain.SearchResult{
				{a, b},
				{c, d},
			},
			want: []domain.SearchResult{a, c, b, d},
		},
		{
			name: "uneven",
			batches: [][]domain.SearchResult{
				{a, b},
				{c},
				{e},
			},
			want: []domain.SearchResult{a, c, e, b},
		},
		{
			name:    "empty",
			batches: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, interleave(tt.batches))
		})
	}
}

func TestAnimeUnknownUID(t *testing.T) {
	e := newTestEngine(&fakeStorage{animes: map[uid.UID]domain.SourceAnime{}})

	_, err := e.Anime(context.Background(), "a-testanime-gogoanime-en")
	assert.ErrorIs(t, err, domain.ErrUIDUnknown)
}

func TestEpisodeAndStreams(t *testing.T) {
	first := &fakeStream{name: "mp4upload"}
	second := &fakeStream{name: "vidstreaming"}
	ep := &fakeEpisode{streams: []domain.Stream{first, second}, working: second}

	a := &fakeAnime{source: "gogoanime", title: "Test Anime", lang: language.English, count: 3, episode: ep}
	id, _ := a.UID(context.Background())

	e := newTestEngine(&fakeStorage{animes: map[uid.UID]domain.SourceAnime{id: a}})
	ctx := context.Background()

	_, err := e.Episode(ctx, id, 7)
	assert.ErrorIs(t, err, domain.ErrEpisodeNotFound)

	got, err := e.Stream(ctx, id, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "vidstreaming", got.Name())

	_, err = e.Stream(ctx, id, 0, 9)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	working, err := e.WorkingStream(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "vidstreaming", working.Name())
}

func TestGroup(t *testing.T) {
	ctx := context.Background()

	anchor := &fakeAnime{source: "gogoanime", title: "Test Anime", lang: language.English, count: 12}
	near := &fakeAnime{source: "nineanime", title: "Test Anime", lang: language.English, count: 13}
	far := &fakeAnime{source: "masteranime", title: "Test Anime", lang: language.English, count: 30}

	id, _ := anchor.UID(ctx)

	st := &fakeStorage{
		animes: map[uid.UID]domain.SourceAnime{id: anchor},
		// the stored set includes the anchor itself, it must not be
		// doubled up
		byTitle: []domain.SourceAnime{anchor, near, far},
	}
	e := newTestEngine(st)

	group, err := e.Group(ctx, id)
	require.NoError(t, err)

	uids := group.UIDs()
	require.Len(t, uids, 2, "the far off episode count belongs to a different season")

	nearID, _ := near.UID(ctx)
	assert.Contains(t, uids, id)
	assert.Contains(t, uids, nearID)

	groupID, err := group.UID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uid.UID("a-testanime-none-en"), groupID)

	count, err := group.EpisodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 13, count)
}

func TestSaveDirty(t *testing.T) {
	st := &fakeStorage{}
	e := newTestEngine(st)

	require.NoError(t, e.SaveDirty(context.Background()))
	assert.Equal(t, 1, st.flushed)
}
