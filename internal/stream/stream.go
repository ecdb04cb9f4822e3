package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	expireTime      = time.Hour
	defaultPriority = 100
)

// Factory describes one resolver. CanHandle must stay cheap, it only
// decides whether the resolver could possibly extract something from
// the page.
type Factory struct {
	Name      string
	Priority  int
	CanHandle func(ctx context.Context, req *request.Request) bool
	New       func(req *request.Request) domain.Stream
	Load      func(doc bson.M) (domain.Stream, error)
}

var (
	registryMu sync.RWMutex
	factories  []Factory
	byName     = make(map[string]Factory)
)

func register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	factories = append(factories, f)
	slices.SortStableFunc(factories, func(a, b Factory) int {
		return b.Priority - a.Priority
	})
	byName[f.Name] = f
}

// Resolve returns the highest priority resolver willing to handle the
// player page. With the generic resolver registered there is always
// one.
func Resolve(ctx context.Context, req *request.Request) (domain.Stream, bool) {
	registryMu.RLock()
	snapshot := slices.Clone(factories)
	registryMu.RUnlock()

	for _, f := range snapshot {
		if f.CanHandle(ctx, req) {
			return f.New(req), true
		}
	}

	return nil, false
}

// Load revives a stream from its stored document. Older documents carry
// fully qualified class names, only the last segment counts.
func Load(doc bson.M) (domain.Stream, error) {
	name, _ := doc["cls"].(string)
	if name == "" {
		return nil, errors.New("stream document has no cls")
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	registryMu.RLock()
	f, ok := byName[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown stream class %q", name)
	}

	return f.Load(doc)
}

var (
	rendererMu sync.RWMutex
	renderer   domain.Renderer
)

// SetRenderer hands resolvers that need a scripted page access to the
// headless browser. Without one those resolvers stay inactive.
func SetRenderer(r domain.Renderer) {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	renderer = r
}

func getRenderer() domain.Renderer {
	rendererMu.RLock()
	defer rendererMu.RUnlock()
	return renderer
}

// hostMatches compares the request host, www stripped, against the
// given hosts.
func hostMatches(ctx context.Context, req *request.Request, hosts ...string) bool {
	raw, err := req.URL(ctx)
	if err != nil {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	return slices.Contains(hosts, host)
}

type fetcher interface {
	fetchExternal(ctx context.Context) (bool, error)
	fetchLinks(ctx context.Context) ([]string, error)
	fetchPoster(ctx context.Context) (string, error)
}

// base implements the caching and persistence half of domain.Stream,
// resolvers plug in through the fetcher interface. Links count as
// changing, they are dropped and extracted again once the stream
// expires.
type base struct {
	*state.Entity

	name     string
	priority int
	impl     fetcher

	external lazy.Slot[bool]
	links    lazy.Slot[[]string]
	poster   lazy.Slot[string]
}

func newBase(name string, priority int, req *request.Request) base {
	return base{
		Entity:   state.NewEntity(req, expireTime),
		name:     name,
		priority: priority,
	}
}

// init hooks up the expiry reset, it must run on the final address of
// the embedded base.
func (b *base) init(impl fetcher) {
	b.impl = impl
	b.OnExpire(b.links.Reset)
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Priority() int {
	return b.priority
}

func (b *base) String() string {
	return fmt.Sprintf("%s stream: %s", b.name, b.Request())
}

func (b *base) External(ctx context.Context) (bool, error) {
	return state.Cached(ctx, b.Entity, &b.external, b.impl.fetchExternal)
}

func (b *base) Links(ctx context.Context) ([]string, error) {
	b.Refresh()
	return state.Cached(ctx, b.Entity, &b.links, b.impl.fetchLinks)
}

func (b *base) Poster(ctx context.Context) (string, error) {
	return state.Cached(ctx, b.Entity, &b.poster, b.impl.fetchPoster)
}

func (b *base) Working(ctx context.Context) bool {
	links, err := b.Links(ctx)
	if err != nil {
		return false
	}
	return len(links) > 0
}

func (b *base) State() bson.M {
	doc := bson.M{
		"cls":         b.name,
		"req":         b.Request().State(),
		"last_update": b.LastUpdate(),
	}
	if external, ok := b.external.Peek(); ok {
		doc["external"] = external
	}
	if links, ok := b.links.Peek(); ok {
		doc["links"] = links
	}
	if poster, ok := b.poster.Peek(); ok {
		doc["poster"] = poster
	}

	return doc
}

// prime restores cached attributes from a stored document.
func (b *base) prime(doc bson.M) {
	if t, ok := state.AsTime(doc["last_update"]); ok {
		b.SetLastUpdate(t)
	}
	if external, ok := doc["external"].(bool); ok {
		b.external.Set(external)
	}
	if links, ok := state.AsStringSlice(doc["links"]); ok {
		b.links.Set(links)
	}
	if poster, ok := doc["poster"].(string); ok {
		b.poster.Set(poster)
	}
}

// videoContent reports whether the url answers and serves a video mime
// type.
func videoContent(ctx context.Context, req *request.Request) bool {
	if !req.HeadSuccess(ctx) {
		return false
	}

	resp, err := req.HeadResponse(ctx)
	if err != nil {
		return false
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		if resp, err = req.Response(ctx); err != nil {
			return false
		}
	}

	return strings.HasPrefix(resp.Header.Get("Content-Type"), "video/")
}

// SuccessfulLinks filters the candidates down to urls that actually
// serve video. Hosts that hide the file behind a redirect chain want
// the redirected url instead of the candidate itself.
func SuccessfulLinks(ctx context.Context, reqs []*request.Request, useRedirectedURL bool) []string {
	passed := request.TryAll(ctx, reqs, func(ctx context.Context, req *request.Request) bool {
		return videoContent(ctx, req)
	})

	links := make([]string, 0, len(passed))
	for _, req := range passed {
		if useRedirectedURL {
			u, err := req.RedirectedURL(ctx)
			if err != nil {
				continue
			}
			links = append(links, u.String())
			continue
		}

		u, err := req.URL(ctx)
		if err != nil {
			continue
		}
		links = append(links, u)
	}

	return links
}
