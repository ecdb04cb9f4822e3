package urlpool

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"animarr/internal/request"
)

// Store persists the resolved url of a pool between runs.
type Store interface {
	// GetURL returns zero values when the pool has never been saved.
	GetURL(ctx context.Context, name string) (string, time.Time, error)
	SetURL(ctx context.Context, name string, url string, nextUpdate time.Time) error
}

var (
	storeMu      sync.RWMutex
	defaultStore Store
)

// SetStore wires every pool to the shared persistence layer. Pools work
// without one, they just race their candidates again on each start.
func SetStore(s Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	defaultStore = s
}

func getStore() Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return defaultStore
}

// Pool tracks which mirror of a site currently works. The candidates
// are raced and the winner is kept until its ttl runs out.
type Pool struct {
	name       string
	stripSlash bool
	ttl        time.Duration

	mu         sync.Mutex
	urls       []string
	url        string
	nextUpdate time.Time
}

type Option func(*Pool)

func WithTTL(ttl time.Duration) Option {
	return func(p *Pool) {
		p.ttl = ttl
	}
}

// WithTrailingSlash keeps the trailing slash of the resolved url.
func WithTrailingSlash() Option {
	return func(p *Pool) {
		p.stripSlash = false
	}
}

func New(name string, urls []string, opts ...Option) *Pool {
	p := &Pool{
		name:       name,
		urls:       slices.Clone(urls),
		stripSlash: true,
		ttl:        time.Hour,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("<Pool %s: %s>", p.name, p.url)
}

// Register exposes the pool as a formatter field so urls can embed
// {NAME} placeholders.
func (p *Pool) Register(f *request.Formatter, useProxy bool) {
	f.AddField(p.name, func(ctx context.Context) (string, error) {
		return p.URL(ctx)
	})
	if useProxy {
		_ = f.UseProxy(p.name, true)
	}
}

// URL returns the currently working mirror, racing the candidates when
// the cached winner has expired.
func (p *Pool) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	store := getStore()

	if p.expired() && store != nil {
		url, nextUpdate, err := store.GetURL(ctx, p.name)
		if err != nil {
			return "", fmt.Errorf("failed to fetch pool %s: %w", p.name, err)
		}
		if url != "" {
			p.url = url
			p.nextUpdate = nextUpdate
		}
	}

	if p.expired() {
		if err := p.updateURL(ctx); err != nil {
			return "", err
		}
		p.nextUpdate = time.Now().Add(p.ttl)

		if store != nil {
			if err := store.SetURL(ctx, p.name, p.url, p.nextUpdate); err != nil {
				return "", fmt.Errorf("failed to save pool %s: %w", p.name, err)
			}
		}
	}

	return p.prepare(p.url), nil
}

func (p *Pool) expired() bool {
	return p.nextUpdate.IsZero() || time.Now().After(p.nextUpdate)
}

func (p *Pool) prepare(url string) string {
	if p.stripSlash {
		return strings.TrimRight(url, "/")
	}
	return url
}

// updateURL races the candidates and keeps the redirect resolved url of
// the first one that answers. The winning candidate moves to the front
// so the next race tries it first.
func (p *Pool) updateURL(ctx context.Context) error {
	reqs := make([]*request.Request, len(p.urls))
	for i, url := range p.urls {
		reqs[i] = request.New(url)
	}

	winner := request.First(ctx, reqs, nil)
	if winner == nil {
		return fmt.Errorf("no working url for pool %s", p.name)
	}

	final, err := winner.RedirectedURL(ctx)
	if err != nil {
		return err
	}
	p.url = final.String()

	if i := slices.Index(reqs, winner); i > 0 {
		url := p.urls[i]
		p.urls = slices.Delete(p.urls, i, i+1)
		p.urls = slices.Insert(p.urls, 0, url)
	}

	return nil
}
