package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBlockedHosts(t *testing.T) {
	hosts := loadBlockedHosts()
	require.NotEmpty(t, hosts)

	assert.Contains(t, hosts, "doubleclick.net")
	assert.Contains(t, hosts, "popads.net")
	assert.Contains(t, hosts, "google-analytics.com")

	for host := range hosts {
		assert.NotEmpty(t, host)
		assert.False(t, strings.HasPrefix(host, "#"), "comment leaked into host list: %q", host)
		assert.Equal(t, host, strings.TrimSpace(host))
	}
}

func TestBlockedResourceTypes(t *testing.T) {
	blocked := []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeMedia,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeTextTrack,
	}
	for _, rt := range blocked {
		assert.Contains(t, blockedResourceTypes, rt)
	}

	// everything a scraper actually needs keeps flowing
	allowed := []proto.NetworkResourceType{
		proto.NetworkResourceTypeDocument,
		proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeXHR,
		proto.NetworkResourceTypeFetch,
		proto.NetworkResourceTypeStylesheet,
	}
	for _, rt := range allowed {
		assert.NotContains(t, blockedResourceTypes, rt)
	}
}

func TestClientBlockedHost(t *testing.T) {
	c := New("")

	assert.True(t, c.blockedHost("doubleclick.net"))
	assert.True(t, c.blockedHost("taboola.com"))
	assert.False(t, c.blockedHost("gogoanime.io"))
	assert.False(t, c.blockedHost("www.doubleclick.net"))
}

func TestNewDefaults(t *testing.T) {
	c := New("ws://127.0.0.1:9222/devtools/browser/abc")

	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", c.controlURL)
	assert.Equal(t, defaultTimeout, c.timeout)
	assert.NotNil(t, c.sem)
	assert.NotEmpty(t, c.blocked)
}

func TestNewOptions(t *testing.T) {
	c := New("",
		WithProxy("http://127.0.0.1:3128"),
		WithSessions(5),
		WithTimeout(10*time.Second),
	)

	assert.Equal(t, "http://127.0.0.1:3128", c.proxyURL)
	assert.Equal(t, 10*time.Second, c.timeout)

	// zero values leave the defaults alone
	c = New("", WithSessions(0), WithTimeout(0))
	assert.Equal(t, defaultTimeout, c.timeout)
	assert.NotNil(t, c.sem)
}

func TestProbe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	assert.NoError(t, Probe(ctx, wsURL))
}

func TestProbeRejectsPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	err := Probe(ctx, wsURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach chrome")
}

func TestCloseWithoutConnect(t *testing.T) {
	c := New("")
	assert.NoError(t, c.Close())
}
