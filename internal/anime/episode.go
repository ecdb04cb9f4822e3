package anime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/stream"
	"animarr/internal/utils"

	"github.com/sourcegraph/conc"
	"go.mongodb.org/mongo-driver/bson"
)

const episodeExpireTime = 6 * time.Hour

// EpisodeFetcher pulls the embedded player pages of one episode.
// Concrete source episodes embed *EpisodeBase and implement it.
type EpisodeFetcher interface {
	FetchRawStreams(ctx context.Context) ([]string, error)
}

// HostURLFetcher is implemented by episodes whose site exposes one
// primary embed page, served to clients that want the hosting page
// instead of the extracted links.
type HostURLFetcher interface {
	FetchHostURL(ctx context.Context) (string, error)
}

// EpisodeBase resolves an episode's embeds into playable streams and
// caches every step. Everything an episode knows goes stale, embeds
// rotate and extracted links die within hours, so all attributes are
// dropped together once the episode expires.
type EpisodeBase struct {
	*state.Entity

	impl EpisodeFetcher

	rawStreams lazy.Slot[[]string]
	streams    lazy.Slot[[]domain.Stream]
	current    lazy.Slot[domain.Stream]
	poster     lazy.Slot[string]
	hostURL    lazy.Slot[string]
	links      lazy.Slot[[]string]
}

func NewEpisode(req *request.Request, impl EpisodeFetcher) *EpisodeBase {
	e := &EpisodeBase{
		Entity: state.NewEntity(req, episodeExpireTime),
		impl:   impl,
	}
	e.OnExpire(
		e.rawStreams.Reset,
		e.streams.Reset,
		e.current.Reset,
		e.poster.Reset,
		e.hostURL.Reset,
		e.links.Reset,
	)

	return e
}

func (e *EpisodeBase) String() string {
	return fmt.Sprintf("episode: %s", e.Request())
}

// RawStreams lists the embedded player pages of the episode.
func (e *EpisodeBase) RawStreams(ctx context.Context) ([]string, error) {
	e.Refresh()
	return state.Cached(ctx, e.Entity, &e.rawStreams, e.impl.FetchRawStreams)
}

// Streams resolves every embed into its handler, best priority first.
func (e *EpisodeBase) Streams(ctx context.Context) ([]domain.Stream, error) {
	e.Refresh()
	return state.Cached(ctx, e.Entity, &e.streams, e.fetchStreams)
}

func (e *EpisodeBase) fetchStreams(ctx context.Context) ([]domain.Stream, error) {
	links, err := e.RawStreams(ctx)
	if err != nil {
		return nil, err
	}

	streams := make([]domain.Stream, 0, len(links))
	for _, link := range links {
		if s, ok := stream.Resolve(ctx, request.New(link)); ok {
			streams = append(streams, s)
		}
	}

	slices.SortStableFunc(streams, func(a, b domain.Stream) int {
		return b.Priority() - a.Priority()
	})

	return streams, nil
}

// Stream returns the first stream that is external and has playable
// links. Streams of equal priority race each other, lower tiers are
// only tried once a whole tier came up empty.
func (e *EpisodeBase) Stream(ctx context.Context) (domain.Stream, error) {
	e.Refresh()
	return state.Cached(ctx, e.Entity, &e.current, e.fetchStream)
}

func (e *EpisodeBase) fetchStream(ctx context.Context) (domain.Stream, error) {
	streams, err := e.Streams(ctx)
	if err != nil {
		return nil, err
	}

	for _, tier := range priorityTiers(streams) {
		fns := make([]func(ctx context.Context) (domain.Stream, bool), 0, len(tier))
		for _, s := range tier {
			s := s
			fns = append(fns, func(ctx context.Context) (domain.Stream, bool) {
				external, err := s.External(ctx)
				if err != nil || !external {
					return nil, false
				}
				if !s.Working(ctx) {
					return nil, false
				}
				return s, true
			})
		}

		if s, ok := utils.Race(ctx, fns); ok {
			return s, nil
		}
	}

	return nil, domain.ErrStreamNotFound
}

// priorityTiers splits the sorted streams into runs of equal priority.
func priorityTiers(streams []domain.Stream) [][]domain.Stream {
	var tiers [][]domain.Stream
	for _, s := range streams {
		if n := len(tiers); n > 0 && tiers[n-1][0].Priority() == s.Priority() {
			tiers[n-1] = append(tiers[n-1], s)
			continue
		}
		tiers = append(tiers, []domain.Stream{s})
	}

	return tiers
}

// StreamAt indexes into Streams.
func (e *EpisodeBase) StreamAt(ctx context.Context, index int) (domain.Stream, error) {
	streams, err := e.Streams(ctx)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(streams) {
		return nil, domain.ErrStreamNotFound
	}

	return streams[index], nil
}

// SourceLinks flattens the playable links of every stream, broken
// streams are skipped.
func (e *EpisodeBase) SourceLinks(ctx context.Context) ([]string, error) {
	e.Refresh()
	return e.links.Get(ctx, e.fetchSourceLinks)
}

func (e *EpisodeBase) fetchSourceLinks(ctx context.Context) ([]string, error) {
	streams, err := e.Streams(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]string, len(streams))

	var wg conc.WaitGroup
	for i, s := range streams {
		i, s := i, s
		wg.Go(func() {
			links, err := s.Links(ctx)
			if err != nil {
				return
			}
			results[i] = links
		})
	}
	wg.Wait()

	var links []string
	for _, ls := range results {
		links = append(links, ls...)
	}

	return links, nil
}

// Poster returns the first poster any stream comes up with, empty when
// none has one.
func (e *EpisodeBase) Poster(ctx context.Context) (string, error) {
	e.Refresh()
	return state.Cached(ctx, e.Entity, &e.poster, e.fetchPoster)
}

func (e *EpisodeBase) fetchPoster(ctx context.Context) (string, error) {
	streams, err := e.Streams(ctx)
	if err != nil {
		return "", err
	}

	fns := make([]func(ctx context.Context) (string, bool), 0, len(streams))
	for _, s := range streams {
		s := s
		fns = append(fns, func(ctx context.Context) (string, bool) {
			poster, err := s.Poster(ctx)
			return poster, err == nil && poster != ""
		})
	}

	poster, _ := utils.Race(ctx, fns)
	return poster, nil
}

// HostURL is the primary embed page of the episode, falling back to
// the first embed when the source has no dedicated one.
func (e *EpisodeBase) HostURL(ctx context.Context) (string, error) {
	e.Refresh()
	return state.Cached(ctx, e.Entity, &e.hostURL, e.fetchHostURL)
}

func (e *EpisodeBase) fetchHostURL(ctx context.Context) (string, error) {
	if impl, ok := e.impl.(HostURLFetcher); ok {
		return impl.FetchHostURL(ctx)
	}

	links, err := e.RawStreams(ctx)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "", errors.New("episode has no embeds")
	}

	return links[0], nil
}

// Dirty also reflects the resolved streams, extracting a link deep in a
// stream has to trigger a save of the episode above it.
func (e *EpisodeBase) Dirty() bool {
	if e.Entity.Dirty() {
		return true
	}

	if streams, ok := e.streams.Peek(); ok {
		for _, s := range streams {
			if s.Dirty() {
				return true
			}
		}
	}
	if s, ok := e.current.Peek(); ok {
		return s.Dirty()
	}

	return false
}

func (e *EpisodeBase) MarkClean() {
	e.Entity.MarkClean()

	if streams, ok := e.streams.Peek(); ok {
		for _, s := range streams {
			s.MarkClean()
		}
	}
	if s, ok := e.current.Peek(); ok {
		s.MarkClean()
	}
}

func (e *EpisodeBase) State() bson.M {
	doc := bson.M{
		"req":         e.Request().State(),
		"last_update": e.LastUpdate(),
	}
	if raw, ok := e.rawStreams.Peek(); ok {
		doc["raw_streams"] = raw
	}
	if streams, ok := e.streams.Peek(); ok {
		docs := make([]bson.M, 0, len(streams))
		for _, s := range streams {
			if sd := s.State(); keepStreamState(sd) {
				docs = append(docs, sd)
			}
		}
		doc["streams"] = docs
	}
	if s, ok := e.current.Peek(); ok {
		doc["stream"] = s.State()
	}
	if poster, ok := e.poster.Peek(); ok {
		doc["poster"] = poster
	}
	if hostURL, ok := e.hostURL.Peek(); ok {
		doc["host_url"] = hostURL
	}

	return doc
}

// keepStreamState reports whether a stream document is worth storing.
// Once links and poster were both extracted and came up empty the
// stream is dead weight, an unextracted one is kept for later.
func keepStreamState(doc bson.M) bool {
	links, hasLinks := state.AsStringSlice(doc["links"])
	if !hasLinks || len(links) > 0 {
		return true
	}

	poster, hasPoster := doc["poster"].(string)
	return !hasPoster || poster != ""
}

// Prime restores cached attributes from a stored document. Stream
// documents nobody can revive anymore are dropped silently.
func (e *EpisodeBase) Prime(doc bson.M) {
	if t, ok := state.AsTime(doc["last_update"]); ok {
		e.SetLastUpdate(t)
	}
	if raw, ok := state.AsStringSlice(doc["raw_streams"]); ok {
		e.rawStreams.Set(raw)
	}
	if docs, ok := state.AsDocSlice(doc["streams"]); ok {
		streams := make([]domain.Stream, 0, len(docs))
		for _, sd := range docs {
			s, err := stream.Load(sd)
			if err != nil {
				continue
			}
			streams = append(streams, s)
		}
		e.streams.Set(streams)
	}
	if sd, ok := state.AsDoc(doc["stream"]); ok {
		if s, err := stream.Load(sd); err == nil {
			e.current.Set(s)
		}
	}
	if poster, ok := doc["poster"].(string); ok {
		e.poster.Set(poster)
	}
	if hostURL, ok := doc["host_url"].(string); ok {
		e.hostURL.Set(hostURL)
	}
}
