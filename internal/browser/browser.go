// Package browser drives a headless Chrome instance for the handful of
// pages that only assemble their content through javascript. It connects
// to a remote devtools endpoint when one is configured and falls back to
// launching a local browser otherwise.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

const (
	defaultSessions = 2
	defaultTimeout  = 25 * time.Second

	loadRetries = 3
	clickWait   = 5 * time.Second
)

// resource classes that never contribute to scraping a page
var blockedResourceTypes = map[proto.NetworkResourceType]struct{}{
	proto.NetworkResourceTypeImage:              {},
	proto.NetworkResourceTypeMedia:              {},
	proto.NetworkResourceTypeFont:               {},
	proto.NetworkResourceTypeTextTrack:          {},
	proto.NetworkResourceTypePing:               {},
	proto.NetworkResourceTypeCSPViolationReport: {},
}

//go:embed blocked_hosts.txt
var blockedHostsFile string

func loadBlockedHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for _, line := range strings.Split(blockedHostsFile, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts[line] = struct{}{}
	}
	return hosts
}

// Client renders pages through Chrome. It satisfies domain.Renderer and
// is safe for concurrent use, at most sessions pages are open at a time.
type Client struct {
	controlURL string
	proxyURL   string
	timeout    time.Duration

	sem     *semaphore.Weighted
	blocked map[string]struct{}

	mu      sync.Mutex
	browser *rod.Browser
}

type Option func(*Client)

// WithProxy routes a locally launched browser through the given proxy.
// It has no effect when connecting to a remote endpoint.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		c.proxyURL = proxyURL
	}
}

// WithSessions caps how many pages may be open concurrently.
func WithSessions(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTimeout bounds navigation and element lookups on a page.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// New creates a client for the devtools endpoint at controlURL. An empty
// controlURL makes the client launch its own headless browser on first use.
func New(controlURL string, opts ...Option) *Client {
	c := &Client{
		controlURL: controlURL,
		timeout:    defaultTimeout,
		sem:        semaphore.NewWeighted(defaultSessions),
		blocked:    loadBlockedHosts(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Probe checks that the devtools endpoint at wsURL answers a websocket
// handshake, without attaching a browser to it.
func Probe(ctx context.Context, wsURL string) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to reach chrome at %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn.Close()
}

func (c *Client) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return c.browser, nil
	}

	controlURL := c.controlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(true).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("disable-accelerated-2d-canvas").
			Set("disable-gpu").
			Set("window-size", "1920,1080")
		if c.proxyURL != "" {
			l = l.Proxy(c.proxyURL)
		}

		var err error
		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to chrome at %s: %w", controlURL, err)
	}

	c.browser = browser
	return browser, nil
}

// Close detaches from the browser. Pages still open keep their session
// until their own cleanup runs.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser == nil {
		return nil
	}

	err := c.browser.Close()
	c.browser = nil
	return err
}

func (c *Client) blockedHost(host string) bool {
	_, ok := c.blocked[host]
	return ok
}

func (c *Client) filter(h *rod.Hijack) {
	if _, ok := blockedResourceTypes[h.Request.Type()]; ok {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	if c.blockedHost(h.Request.URL().Hostname()) {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	h.ContinueRequest(&proto.FetchContinueRequest{})
}

// page opens a fresh tab, loads rawURL and hands it back together with a
// cleanup that releases the session. The caller must run the cleanup.
func (c *Client) page(ctx context.Context, rawURL string) (*rod.Page, func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}

	browser, err := c.connect()
	if err != nil {
		c.sem.Release(1)
		return nil, nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		c.sem.Release(1)
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}
	page = page.Context(ctx)

	router := page.HijackRequests()
	if err := router.Add("*", "", c.filter); err != nil {
		c.sem.Release(1)
		return nil, nil, fmt.Errorf("failed to intercept requests: %w", err)
	}
	go router.Run()

	cleanup := func() {
		router.Stop()
		page.Close()
		c.sem.Release(1)
	}

	err = retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			if err := page.Timeout(c.timeout).Navigate(rawURL); err != nil {
				return err
			}
			return page.Timeout(c.timeout).WaitLoad()
		},
		retry.Attempts(loadRetries),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load %s: %w", rawURL, err)
	}

	// scripts keep assembling the page after the load event
	page.WaitIdle(c.timeout)

	return page, cleanup, nil
}

// HTML renders the page at rawURL and returns its document markup.
func (c *Client) HTML(ctx context.Context, rawURL string) (string, error) {
	page, done, err := c.page(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer done()

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}

	return html, nil
}

// VideoSource renders the page at rawURL and reads src and poster off the
// video element matching videoSelector. A non-empty clickSelector names an
// overlay that has to be clicked before the player builds the element.
func (c *Client) VideoSource(ctx context.Context, rawURL, clickSelector, videoSelector string) (string, string, error) {
	page, done, err := c.page(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	defer done()

	if clickSelector != "" {
		// the overlay is gone on pages that autoplay, ignore it then
		if overlay, err := page.Timeout(clickWait).Element(clickSelector); err == nil {
			overlay.Click(proto.InputMouseButtonLeft, 1)
		}
	}

	video, err := page.Timeout(c.timeout).Element(videoSelector)
	if err != nil {
		return "", "", fmt.Errorf("no video element on %s: %w", rawURL, err)
	}

	var src string
	err = retry.Do(
		func() error {
			attr, err := video.Attribute("src")
			if err != nil {
				return err
			}
			if attr == nil || *attr == "" {
				return errors.New("video has no source yet")
			}
			src = *attr
			return nil
		},
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", "", fmt.Errorf("no video source on %s: %w", rawURL, err)
	}

	var poster string
	if attr, err := video.Attribute("poster"); err == nil && attr != nil {
		poster = *attr
	}

	return src, poster, nil
}

// EmbedSources renders the episode page at rawURL, walks every hoster
// entry of the active mirror group and collects the embed urls the player
// iframe cycles through. Hosters that never produce a frame are skipped.
func (c *Client) EmbedSources(ctx context.Context, rawURL string) ([]string, error) {
	page, done, err := c.page(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer done()

	// the player only starts building iframes once the cover is clicked
	cover, err := page.Timeout(c.timeout).Element("div#player .cover")
	if err != nil {
		return nil, fmt.Errorf("no player cover on %s: %w", rawURL, err)
	}
	if err := cover.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("failed to start player: %w", err)
	}

	active, err := page.Timeout(c.timeout).Element("ul.episodes a.active")
	if err != nil {
		return nil, fmt.Errorf("no active episode on %s: %w", rawURL, err)
	}
	base, err := active.Attribute("data-base")
	if err != nil || base == nil {
		return nil, errors.New("active episode carries no base id")
	}

	// the same base id shows up once per hoster tab
	servers, err := page.Elements(fmt.Sprintf(`ul.episodes a[data-base=%q]`, *base))
	if err != nil {
		return nil, fmt.Errorf("failed to list hosters: %w", err)
	}

	var sources []string
	for _, server := range servers {
		// drop the previous frame so the wait below sees the fresh one
		page.Eval(`() => document.querySelector("div#player iframe")?.remove()`)

		if err := server.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}

		iframe, err := page.Timeout(clickWait).Element("div#player iframe")
		if err != nil {
			continue
		}

		src, err := iframe.Attribute("src")
		if err != nil || src == nil || *src == "" {
			continue
		}
		sources = append(sources, *src)
	}

	return sources, nil
}
