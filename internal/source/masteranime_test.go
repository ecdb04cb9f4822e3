package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"animarr/internal/language"
	"animarr/internal/request"
	"animarr/internal/urlpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const masterFilterJSON = `{"data":[
{"id":1,"slug":"test-anime","title":"Test Anime","poster":"small.jpg"},
{"id":2,"slug":"other-show","title":"Other Show","poster":{"path":"posters/","file":"big.jpg"}}
]}`

const masterDetailJSON = `{
"info":{"id":1,"slug":"test-anime","title":"Test Anime"},
"poster":{"path":"posters/","file":"test.jpg"},
"episodes":[{"info":{"episode":"1"}},{"info":{"episode":2}}]
}`

const masterWatchPage = `<html><body>
<video-mirrors :mirrors='[{"embed_id":"abc123","host":{"embed_prefix":"https://mp4upload.example/embed-","embed_suffix":".html"}},{"embed_id":42,"host":{"embed_prefix":"https://vidstreaming.example/streaming.php?id="}}]'></video-mirrors>
</body></html>`

type masterSite struct {
	srv *httptest.Server
	cdn *httptest.Server

	mu         sync.Mutex
	lastSearch map[string]string
}

func (m *masterSite) searchParams() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSearch
}

func serveMasteranime(t *testing.T) *masterSite {
	t.Helper()

	site := &masterSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/anime/filter", func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.lastSearch = map[string]string{
			"search": r.URL.Query().Get("search"),
			"order":  r.URL.Query().Get("order"),
		}
		site.mu.Unlock()
		fmt.Fprint(w, masterFilterJSON)
	})
	mux.HandleFunc("/api/anime/1/detailed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, masterDetailJSON)
	})
	mux.HandleFunc("/anime/watch/test-anime/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, masterWatchPage)
	})

	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	stubPool(t, masteranimePool, false, site.srv.URL)

	// the cdn pool is raced directly, it needs a host that answers HEAD
	site.cdn = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(site.cdn.Close)

	old := masteranimeCDN
	masteranimeCDN = urlpool.New("MASTERANIME_CDN", []string{site.cdn.URL})
	t.Cleanup(func() { masteranimeCDN = old })

	return site
}

func TestMasterAnimeSearch(t *testing.T) {
	site := serveMasteranime(t)
	ctx := context.Background()

	results, err := searchMasterAnime(ctx, "test anime", language.English, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, map[string]string{"search": "test anime", "order": "relevance_desc"}, site.searchParams())

	first := results[0]
	assert.Equal(t, 1.0, first.Certainty)

	title, err := first.Anime.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Anime", title)

	thumbnail, err := first.Anime.Thumbnail(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.cdn.URL+"/poster/small.jpg", thumbnail)

	second, ok := results[1].Anime.(*MasterAnime)
	require.True(t, ok)

	thumbnail, err = second.Thumbnail(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.cdn.URL+"/posters/big.jpg", thumbnail)

	detailURL, err := second.Request().URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.srv.URL+"/api/anime/2/detailed", detailURL)

	slug, err := second.AnimeSlug(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other-show", slug)
}

func TestMasterAnimeSearchGates(t *testing.T) {
	ctx := context.Background()

	results, err := searchMasterAnime(ctx, "test", language.English, true)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = searchMasterAnime(ctx, "test", language.German, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMasterAnimeSearchQueryLimit(t *testing.T) {
	site := serveMasteranime(t)

	long := strings.Repeat("a", 60)
	_, err := searchMasterAnime(context.Background(), long, language.English, false)
	require.NoError(t, err)

	assert.Len(t, site.searchParams()["search"], 45)
}

func TestMasterAnimeDetail(t *testing.T) {
	site := serveMasteranime(t)
	ctx := context.Background()

	a := newMasterAnime(request.New(site.srv.URL + "/api/anime/1/detailed"))

	title, err := a.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Anime", title)

	id, err := a.AnimeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	slug, err := a.AnimeSlug(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-anime", slug)

	thumbnail, err := a.Thumbnail(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.cdn.URL+"/posters/test.jpg", thumbnail)

	dubbed, err := a.Dubbed(ctx)
	require.NoError(t, err)
	assert.False(t, dubbed)

	count, err := a.EpisodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	episodes, err := a.Episodes(ctx)
	require.NoError(t, err)
	require.Len(t, episodes, 2)

	// episode labels appear as strings and bare numbers alike
	epURL, err := episodes[0].(*MasterEpisode).Request().URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.srv.URL+"/anime/watch/test-anime/1", epURL)

	epURL, err = episodes[1].(*MasterEpisode).Request().URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, site.srv.URL+"/anime/watch/test-anime/2", epURL)
}

func TestMasterEpisodeMirrors(t *testing.T) {
	site := serveMasteranime(t)
	ctx := context.Background()

	ep := newMasterEpisode(request.New(site.srv.URL + "/anime/watch/test-anime/1"))

	links, err := ep.RawStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://mp4upload.example/embed-abc123.html",
		"https://vidstreaming.example/streaming.php?id=42",
	}, links)

	hostURL, err := ep.HostURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://mp4upload.example/embed-abc123.html", hostURL)
}

func TestMasterEpisodeStateRoundTrip(t *testing.T) {
	site := serveMasteranime(t)
	ctx := context.Background()

	ep := newMasterEpisode(request.New(site.srv.URL + "/anime/watch/test-anime/1"))

	links, err := ep.RawStreams(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)

	raw, err := bson.Marshal(ep.State())
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "mirror_data")

	// force the revived episode to rebuild its embeds from the mirrors
	delete(doc, "raw_streams")
	site.srv.Close()

	a := newMasterAnime(request.New("http://127.0.0.1:1/"))
	revived, err := a.LoadEpisode(doc)
	require.NoError(t, err)

	revivedLinks, err := revived.RawStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, links, revivedLinks)
}

func TestMasterEpisodeNoMirrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>no player here</p></body></html>")
	}))
	t.Cleanup(srv.Close)

	ep := newMasterEpisode(request.New(srv.URL + "/watch"))

	links, err := ep.RawStreams(context.Background())
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestMasterString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want masterString
	}{
		{name: "string", in: `"5"`, want: "5"},
		{name: "number", in: `7`, want: "7"},
		{name: "decimal string", in: `"1.5"`, want: "1.5"},
		{name: "null", in: `null`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got masterString
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad masterString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &bad))
}
