// Package engine ties the pieces together: searches fan out over the
// registered sources, uids revive through the store, episodes and
// streams resolve on demand. The command layer only ever talks to this
// facade.
package engine

import (
	"context"
	"sort"
	"time"

	"animarr/internal/anime"
	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/logger"
	"animarr/internal/source"
	"animarr/internal/stream"
	"animarr/internal/uid"

	"github.com/sourcegraph/conc"
)

const (
	maxSearchResults = 20
	minConsidered    = 3

	// window for every source's first answer, so one fast site does
	// not dominate the considered pool
	firstBatchWindow = 5 * time.Second
)

// Storage is the slice of the store the facade runs on.
type Storage interface {
	GetAnime(ctx context.Context, id uid.UID) (domain.SourceAnime, error)
	AnimesByTitle(ctx context.Context, title string, lang language.Language, dubbed bool) ([]domain.SourceAnime, error)
	CacheAnime(ctx context.Context, a domain.SourceAnime) error
	SaveDirty(ctx context.Context) error
}

type Engine struct {
	store   Storage
	log     logger.Logger
	sources []source.Factory

	batchWindow time.Duration
}

type Option func(*Engine)

// WithSources overrides the registered source set.
func WithSources(sources ...source.Factory) Option {
	return func(e *Engine) {
		e.sources = sources
	}
}

// WithRenderer hands the headless browser to every component that needs
// scripted pages.
func WithRenderer(r domain.Renderer) Option {
	return func(e *Engine) {
		stream.SetRenderer(r)
		source.SetRenderer(r)
	}
}

func New(store Storage, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		log:         log,
		sources:     source.All(),
		batchWindow: firstBatchWindow,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Search fans the query out to every source, scores the answers and
// returns the best n fully preloaded. n is clamped to 1 through 20, a
// few extra results are always considered so sorting has something to
// choose from.
func (e *Engine) Search(ctx context.Context, query string, lang language.Language, dubbed bool, n int) ([]domain.SearchResult, error) {
	if n < 1 {
		n = 1
	} else if n > maxSearchResults {
		n = maxSearchResults
	}
	considered := max(n, minConsidered)

	pool, err := e.collectResults(ctx, query, lang, dubbed, considered)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Certainty > pool[j].Certainty
	})
	if len(pool) > n {
		pool = pool[:n]
	}

	for _, res := range pool {
		if err := e.store.CacheAnime(ctx, res.Anime); err != nil {
			e.log.Debug().Err(err).Msg("failed to track search result")
		}
	}

	var wg conc.WaitGroup
	for _, res := range pool {
		res := res
		wg.Go(func() {
			if err := res.Anime.Preload(ctx); err != nil {
				e.log.Debug().Err(err).Msgf("failed to preload %s", res.Anime)
			}
		})
	}
	wg.Wait()

	return pool, nil
}

type searchBatch struct {
	name    string
	results []domain.SearchResult
}

func (e *Engine) collectResults(ctx context.Context, query string, lang language.Language, dubbed bool, considered int) ([]domain.SearchResult, error) {
	// buffered so sources never block on a collector that moved on
	batches := make(chan searchBatch, len(e.sources))

	for _, src := range e.sources {
		src := src
		go func() {
			results, err := src.Search(ctx, query, lang, dubbed)
			if err != nil {
				e.log.Error().Err(err).Msgf("%s failed to search for %q", src.Name, query)
			}
			batches <- searchBatch{name: src.Name, results: results}
		}()
	}

	timer := time.NewTimer(e.batchWindow)
	defer timer.Stop()

	remaining := len(e.sources)
	var early [][]domain.SearchResult

firstBatch:
	for remaining > 0 {
		select {
		case batch := <-batches:
			remaining--
			if len(batch.results) > 0 {
				early = append(early, batch.results)
			}
		case <-timer.C:
			break firstBatch
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pool := interleave(early)

	// free for all, stragglers fill the pool in arrival order
	for remaining > 0 && len(pool) < considered {
		select {
		case batch := <-batches:
			remaining--
			pool = append(pool, batch.results...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(pool) > considered {
		pool = pool[:considered]
	}

	return pool, nil
}

// interleave takes one result from each source in turns.
func interleave(batches [][]domain.SearchResult) []domain.SearchResult {
	var out []domain.SearchResult
	for i := 0; ; i++ {
		took := false
		for _, batch := range batches {
			if i < len(batch) {
				out = append(out, batch[i])
				took = true
			}
		}
		if !took {
			return out
		}
	}
}

// Anime returns the live entity behind id, domain.ErrUIDUnknown when
// nothing is stored under it.
func (e *Engine) Anime(ctx context.Context, id uid.UID) (domain.SourceAnime, error) {
	return e.store.GetAnime(ctx, id)
}

// Group returns the anime behind id together with every stored upload
// of the same show, bundled into one group.
func (e *Engine) Group(ctx context.Context, id uid.UID) (*anime.Group, error) {
	a, err := e.store.GetAnime(ctx, id)
	if err != nil {
		return nil, err
	}

	anchor, err := a.UID(ctx)
	if err != nil {
		return nil, err
	}
	title, err := a.Title(ctx)
	if err != nil {
		return nil, err
	}
	lang, err := a.Language(ctx)
	if err != nil {
		return nil, err
	}
	dubbed, err := a.Dubbed(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := e.store.AnimesByTitle(ctx, title, lang, dubbed)
	if err != nil {
		return nil, err
	}

	// the anchor goes first so it seeds its own group, it may not have
	// been saved yet
	members := []domain.SourceAnime{a}
	for _, m := range stored {
		u, err := m.UID(ctx)
		if err != nil || u == anchor {
			continue
		}
		members = append(members, m)
	}

	groups := anime.GroupAnimes(ctx, members, false)

	var best *anime.Group
	for _, g := range groups {
		if !containsUID(g.UIDs(), anchor) {
			continue
		}
		if best == nil || len(g.UIDs()) > len(best.UIDs()) {
			best = g
		}
	}
	if best == nil {
		// a group of one always exists
		return anime.NewGroup(ctx, a)
	}

	return best, nil
}

func containsUID(uids []uid.UID, want uid.UID) bool {
	for _, u := range uids {
		if u == want {
			return true
		}
	}
	return false
}

// Episode resolves the zero based episode index on the anime behind id.
func (e *Engine) Episode(ctx context.Context, id uid.UID, index int) (domain.Episode, error) {
	a, err := e.store.GetAnime(ctx, id)
	if err != nil {
		return nil, err
	}

	return a.Episode(ctx, index)
}

// Stream resolves one concrete stream of an episode,
// domain.ErrStreamNotFound when the index is out of range.
func (e *Engine) Stream(ctx context.Context, id uid.UID, episodeIndex, streamIndex int) (domain.Stream, error) {
	ep, err := e.Episode(ctx, id, episodeIndex)
	if err != nil {
		return nil, err
	}

	return ep.StreamAt(ctx, streamIndex)
}

// WorkingStream returns the episode's first stream that actually plays,
// domain.ErrStreamNotFound when none do.
func (e *Engine) WorkingStream(ctx context.Context, id uid.UID, index int) (domain.Stream, error) {
	ep, err := e.Episode(ctx, id, index)
	if err != nil {
		return nil, err
	}

	return ep.Stream(ctx)
}

// SaveDirty flushes unsaved entity changes, ran after every operation.
func (e *Engine) SaveDirty(ctx context.Context) error {
	return e.store.SaveDirty(ctx)
}
