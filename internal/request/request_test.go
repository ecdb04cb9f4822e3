package request

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMemoizesResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	req := New(srv.URL)
	ctx := context.Background()

	text, err := req.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = req.Text(ctx)
	require.NoError(t, err)

	// the GET response doubles as the head response
	resp, err := req.HeadResponse(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success())

	assert.Equal(t, int32(1), hits.Load())
}

func TestRequestReload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	req := New(srv.URL)
	ctx := context.Background()

	_, err := req.Text(ctx)
	require.NoError(t, err)

	req.Reload()

	_, err = req.Text(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
}

func TestRequestParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Query().Get("keyword")))
	}))
	defer srv.Close()

	req := New(srv.URL, WithParams(map[string]string{"keyword": "gintama"}))

	text, err := req.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gintama", text)
}

func TestRequestJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\uFEFF{\"data\": [{\"title\": \"Gintama\"}]}"))
	}))
	defer srv.Close()

	var out struct {
		Data []struct {
			Title string `json:"title"`
		} `json:"data"`
	}
	require.NoError(t, New(srv.URL).JSON(context.Background(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "Gintama", out.Data[0].Title)
}

func TestHeadFallsBackToGet(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req := New(srv.URL)
	assert.True(t, req.HeadSuccess(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
}

func TestBlockedRetriesThroughProxy(t *testing.T) {
	var originHits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	require.NoError(t, ConfigureProxy(proxy.URL))
	defer ConfigureProxy("")

	req := New(origin.URL)

	text, err := req.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "proxied", text)
	assert.Equal(t, int32(1), originHits.Load())
}

func TestServerErrorRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	text, err := New(srv.URL).Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNotFoundIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<h1>Page not found</h1>"))
	}))
	defer srv.Close()

	req := New(srv.URL)

	// the page of a missing show still gets parsed, it is not an error
	text, err := req.Text(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "Page not found")
	assert.False(t, req.Success(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestRequestStateRoundTrip(t *testing.T) {
	req := New("https://example.com/search",
		WithParams(map[string]string{"q": "gintama"}),
		WithHeaders(map[string]string{"Referer": "https://example.com"}),
		WithTimeout(20*time.Second),
		WithProxy(),
		WithMethod(http.MethodPost),
	)

	state := req.State()
	assert.Equal(t, "https://example.com/search", state.URL)
	assert.Equal(t, 20, state.Timeout)
	assert.True(t, state.UseProxy)
	assert.Equal(t, http.MethodPost, state.Method)

	revived := FromState(state)
	assert.Equal(t, state, revived.State())
}

func TestFirst(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer alive.Close()

	winner := First(context.Background(), []*Request{New(dead.URL), New(alive.URL)}, nil)
	require.NotNil(t, winner)
	assert.Equal(t, alive.URL, winner.String())

	assert.Nil(t, First(context.Background(), []*Request{New(dead.URL)}, nil))
	assert.Nil(t, First(context.Background(), nil, nil))
}

func TestTryAll(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer alive.Close()

	first, second := New(alive.URL), New(alive.URL)
	passed := TryAll(context.Background(), []*Request{first, New(dead.URL), second}, nil)
	assert.Equal(t, []*Request{first, second}, passed)
}

func TestSetURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("second"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := New(srv.URL + "/a")
	ctx := context.Background()

	text, err := req.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.False(t, req.Dirty())

	req.SetURL(srv.URL + "/b")
	assert.True(t, req.Dirty())

	u, err := req.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/b", u)

	// the cached response went with the old url
	text, err = req.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
	assert.Equal(t, srv.URL+"/b", req.State().URL)

	req.MarkClean()
	assert.False(t, req.Dirty())
}
