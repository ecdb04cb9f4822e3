package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"animarr/internal/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseN(t *testing.T) {
	assert.Equal(t, "0", baseN(0, 36))
	assert.Equal(t, "9", baseN(9, 36))
	assert.Equal(t, "a", baseN(10, 36))
	assert.Equal(t, "z", baseN(35, 36))
	assert.Equal(t, "10", baseN(36, 36))
	assert.Equal(t, "101", baseN(5, 2))
}

func TestUnpack(t *testing.T) {
	unpacked := unpack(`{"1":"3","2":"4"}`, 36, []string{"", "file", "image", "video.mp4", "poster.jpg"})
	assert.Equal(t, `{"file":"video.mp4","image":"poster.jpg"}`, unpacked)

	// tokens inside longer words stay untouched
	assert.Equal(t, "mp4upload stays", unpack("mp4upload 1", 36, []string{"", "stays"}))
}

const mp4uploadPage = `<html><body>` +
	`<div id="player"><script type='text/javascript'>` +
	`eval(function(p,a,c,k,e,d){e=function(c){return c};return p}` +
	`('player.setup({"1":"3://cdn.mp4upload.com/4.mp4","2":"3://cdn.mp4upload.com/5.jpg",});',` +
	`36,6,'|file|image|https|video|poster'.split('|'),0,{}))` +
	`</script></div></body></html>`

func TestExtractMp4UploadData(t *testing.T) {
	data, ok := extractMp4UploadData(mp4uploadPage)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.mp4upload.com/video.mp4", data.video)
	assert.Equal(t, "https://cdn.mp4upload.com/poster.jpg", data.poster)

	_, ok = extractMp4UploadData("<html>no player here</html>")
	assert.False(t, ok)
}

func TestMp4UploadLinks(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		case "/poster.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer cdn.Close()

	m := newMp4Upload(request.New("https://www.mp4upload.com/embed-abc.html")).(*Mp4Upload)
	m.player.Set(mp4UploadData{
		video:  cdn.URL + "/video.mp4",
		poster: cdn.URL + "/poster.jpg",
	})

	ctx := context.Background()

	links, err := m.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{cdn.URL + "/video.mp4"}, links)

	poster, err := m.Poster(ctx)
	require.NoError(t, err)
	assert.Equal(t, cdn.URL+"/poster.jpg", poster)

	external, err := m.External(ctx)
	require.NoError(t, err)
	assert.True(t, external)

	assert.True(t, m.Working(ctx))
	assert.True(t, m.Dirty())
}
