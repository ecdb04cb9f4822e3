package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"animarr/internal/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestResolvePicksHostResolver(t *testing.T) {
	ctx := context.Background()

	s, ok := Resolve(ctx, request.New("https://vidstreaming.io/streaming.php?id=MTE3NDc3"))
	require.True(t, ok)
	assert.Equal(t, "Vidstreaming", s.Name())

	s, ok = Resolve(ctx, request.New("https://www.mp4upload.com/embed-abc123.html"))
	require.True(t, ok)
	assert.Equal(t, "Mp4Upload", s.Name())

	s, ok = Resolve(ctx, request.New("https://www.rapidvideo.cc/e/abc123"))
	require.True(t, ok)
	assert.Equal(t, "RapidVideo", s.Name())

	s, ok = Resolve(ctx, request.New("https://www.xstreamcdn.com/v/abc123"))
	require.True(t, ok)
	assert.Equal(t, "XStreamCDN", s.Name())
}

func TestResolveFallsBackToGeneric(t *testing.T) {
	s, ok := Resolve(context.Background(), request.New("https://nobody-knows-this.host/embed/1"))
	require.True(t, ok)
	assert.Equal(t, "Generic", s.Name())
	assert.Equal(t, 0, s.Priority())
}

func TestOpenloadNeedsRenderer(t *testing.T) {
	ctx := context.Background()
	req := request.New("https://openload.co/embed/abc123")

	// without a renderer the generic resolver takes over
	s, ok := Resolve(ctx, req)
	require.True(t, ok)
	assert.Equal(t, "Generic", s.Name())

	SetRenderer(fakeRenderer{})
	defer SetRenderer(nil)

	s, ok = Resolve(ctx, req)
	require.True(t, ok)
	assert.Equal(t, "Openload", s.Name())
	assert.Equal(t, 5, s.Priority())
}

func TestLoadRevivesStream(t *testing.T) {
	// an unreachable url proves revived attributes aren't refetched
	req := request.New("http://127.0.0.1:1/streaming.php")

	s := newVidstreaming(req).(*Vidstreaming)
	s.links.Set([]string{"https://cdn.example.com/ep1.mp4"})
	s.poster.Set("https://cdn.example.com/poster.jpg")
	s.external.Set(true)

	doc := s.State()
	assert.Equal(t, "Vidstreaming", doc["cls"])

	revived, err := Load(doc)
	require.NoError(t, err)
	assert.Equal(t, "Vidstreaming", revived.Name())

	ctx := context.Background()

	links, err := revived.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/ep1.mp4"}, links)

	poster, err := revived.Poster(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/poster.jpg", poster)

	assert.True(t, revived.Working(ctx))
	assert.False(t, revived.Dirty())
}

func TestLoadLegacyClassNames(t *testing.T) {
	doc := bson.M{
		"cls": "grobber.anime.streams.vidstreaming.Vidstreaming",
		"req": bson.M{"url": "https://vidstreaming.io/streaming.php"},
	}

	s, err := Load(doc)
	require.NoError(t, err)
	assert.Equal(t, "Vidstreaming", s.Name())
}

func TestLoadUnknownClass(t *testing.T) {
	_, err := Load(bson.M{"cls": "Nope", "req": bson.M{"url": "https://example.com"}})
	assert.Error(t, err)

	_, err = Load(bson.M{"req": bson.M{"url": "https://example.com"}})
	assert.Error(t, err)
}

func TestSuccessfulLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/episode.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	links := SuccessfulLinks(context.Background(), []*request.Request{
		request.New(srv.URL + "/episode.mp4"),
		request.New(srv.URL + "/page.html"),
		request.New(srv.URL + "/gone.mp4"),
	}, false)

	assert.Equal(t, []string{srv.URL + "/episode.mp4"}, links)
}

func TestSuccessfulLinksRedirected(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/file.mp4", http.StatusFound)
	}))
	defer redirector.Close()

	links := SuccessfulLinks(context.Background(), []*request.Request{request.New(redirector.URL)}, true)
	assert.Equal(t, []string{target.URL + "/file.mp4"}, links)
}

type fakeRenderer struct {
	src    string
	poster string
}

func (f fakeRenderer) HTML(context.Context, string) (string, error) {
	return "", nil
}

func (f fakeRenderer) VideoSource(context.Context, string, string, string) (string, string, error) {
	return f.src, f.poster, nil
}

func (f fakeRenderer) EmbedSources(context.Context, string) ([]string, error) {
	return nil, nil
}
