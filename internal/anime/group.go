package anime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/lazy"
	"animarr/internal/uid"
	"animarr/internal/utils"

	"github.com/sourcegraph/conc"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// memberTimeout bounds how long a single group member may hold up an
// answer the others already have.
const memberTimeout = 15 * time.Second

// Group is the same show uploaded to several sites, presented as one
// anime. Its uid carries no source, members answer for it.
type Group struct {
	title  string
	lang   language.Language
	dubbed bool

	mu     sync.Mutex
	uids   []uid.UID
	animes []domain.SourceAnime

	count     lazy.Slot[int]
	thumbnail lazy.Slot[string]
}

// NewGroup builds a group around its first member.
func NewGroup(ctx context.Context, anime domain.SourceAnime) (*Group, error) {
	u, err := anime.UID(ctx)
	if err != nil {
		return nil, err
	}
	title, err := anime.Title(ctx)
	if err != nil {
		return nil, err
	}
	lang, err := anime.Language(ctx)
	if err != nil {
		return nil, err
	}
	dubbed, err := anime.Dubbed(ctx)
	if err != nil {
		return nil, err
	}

	return &Group{
		title:  title,
		lang:   lang,
		dubbed: dubbed,
		uids:   []uid.UID{u},
		animes: []domain.SourceAnime{anime},
	}, nil
}

// GroupAnimes buckets animes by show. With unique false an anime joins
// every group that could contain it, callers then pick the biggest.
func GroupAnimes(ctx context.Context, animes []domain.SourceAnime, unique bool) []*Group {
	var groups []*Group

	for _, anime := range animes {
		found := false
		for _, group := range groups {
			ok, err := group.CouldContain(ctx, anime)
			if err != nil || !ok {
				continue
			}
			if err := group.AddAnime(ctx, anime); err != nil {
				continue
			}

			found = true
			if unique {
				break
			}
		}

		if !found {
			group, err := NewGroup(ctx, anime)
			if err != nil {
				continue
			}
			groups = append(groups, group)
		}
	}

	return groups
}

func (g *Group) String() string {
	return g.title
}

func (g *Group) UIDs() []uid.UID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.uids)
}

func (g *Group) Animes() []domain.SourceAnime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.animes)
}

func (g *Group) UID(ctx context.Context) (uid.UID, error) {
	return uid.New(uid.TypeAnime, uid.CreateMediaID(g.title), "", g.lang, g.dubbed), nil
}

func (g *Group) MediaID(ctx context.Context) (string, error) {
	return uid.CreateMediaID(g.title), nil
}

func (g *Group) Title(ctx context.Context) (string, error) {
	return g.title, nil
}

func (g *Group) Language(ctx context.Context) (language.Language, error) {
	return g.lang, nil
}

func (g *Group) Dubbed(ctx context.Context) (bool, error) {
	return g.dubbed, nil
}

// EpisodeCount is the highest count any member reports, sites trail
// behind each other while a show airs.
func (g *Group) EpisodeCount(ctx context.Context) (int, error) {
	return g.count.Get(ctx, func(ctx context.Context) (int, error) {
		counts := g.memberCounts(ctx)
		if len(counts) == 0 {
			return 0, nil
		}
		return slices.Max(counts), nil
	})
}

// Thumbnail takes whichever member answers first.
func (g *Group) Thumbnail(ctx context.Context) (string, error) {
	return g.thumbnail.Get(ctx, func(ctx context.Context) (string, error) {
		animes := g.Animes()

		fns := make([]func(ctx context.Context) (string, bool), 0, len(animes))
		for _, a := range animes {
			a := a
			fns = append(fns, func(ctx context.Context) (string, bool) {
				thumbnail, err := a.Thumbnail(ctx)
				return thumbnail, err == nil && thumbnail != ""
			})
		}

		thumbnail, _ := utils.Race(ctx, fns)
		return thumbnail, nil
	})
}

func (g *Group) Episode(ctx context.Context, index int) (domain.Episode, error) {
	count, err := g.EpisodeCount(ctx)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= count {
		return nil, domain.ErrEpisodeNotFound
	}

	return NewEpisodeGroup(g.Animes(), index), nil
}

func (g *Group) Preload(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := g.EpisodeCount(ctx)
		return err
	})
	eg.Go(func() error {
		_, err := g.Thumbnail(ctx)
		return err
	})

	return eg.Wait()
}

// AddAnime extends the group, callers check CouldContain first.
func (g *Group) AddAnime(ctx context.Context, anime domain.SourceAnime) error {
	u, err := anime.UID(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.uids = append(g.uids, u)
	g.animes = append(g.animes, anime)

	return nil
}

// CouldContain reports whether the anime looks like another upload of
// this group's show. Sites trail by an episode or two, the candidate's
// count only has to land inside the band the members span, stretched
// to at least two either way.
func (g *Group) CouldContain(ctx context.Context, anime domain.SourceAnime) (bool, error) {
	lang, err := anime.Language(ctx)
	if err != nil || lang != g.lang {
		return false, err
	}

	dubbed, err := anime.Dubbed(ctx)
	if err != nil || dubbed != g.dubbed {
		return false, err
	}

	mediaID, err := anime.MediaID(ctx)
	if err != nil || mediaID != uid.CreateMediaID(g.title) {
		return false, err
	}

	counts := g.memberCounts(ctx)
	if len(counts) == 0 {
		return true, nil
	}

	realMax := slices.Max(counts)
	realMin := slices.Min(counts)

	maxCount := max(realMax, realMin+2)
	minCount := min(realMin, realMax-2)

	count, err := anime.EpisodeCount(ctx)
	if err != nil {
		return false, nil
	}

	return minCount <= count && count <= maxCount, nil
}

func (g *Group) memberCounts(ctx context.Context) []int {
	animes := g.Animes()

	fns := make([]func(ctx context.Context) (int, error), 0, len(animes))
	for _, a := range animes {
		fns = append(fns, func(ctx context.Context) (int, error) {
			return a.EpisodeCount(ctx)
		})
	}

	return collectAll(ctx, memberTimeout, fns)
}

func (g *Group) State() bson.M {
	g.mu.Lock()
	defer g.mu.Unlock()

	animes := bson.M{}
	for i, u := range g.uids {
		if i < len(g.animes) {
			animes[u.String()] = g.animes[i].State()
		}
	}

	return bson.M{
		"title":    g.title,
		"language": g.lang.String(),
		"dubbed":   g.dubbed,
		"animes":   animes,
	}
}

// EpisodeGroup is one episode index across every member of a group.
// Stream resolution runs over the embeds of all members at once.
type EpisodeGroup struct {
	*EpisodeBase

	index  int
	animes []domain.SourceAnime

	episodes lazy.Slot[[]domain.Episode]
}

func NewEpisodeGroup(animes []domain.SourceAnime, index int) *EpisodeGroup {
	g := &EpisodeGroup{
		index:  index,
		animes: animes,
	}
	g.EpisodeBase = NewEpisode(nil, g)

	return g
}

func (g *EpisodeGroup) String() string {
	return fmt.Sprintf("episode %d across %d anime(s)", g.index+1, len(g.animes))
}

// Episodes resolves this index on every member, members that cannot
// answer in time are left out.
func (g *EpisodeGroup) Episodes(ctx context.Context) ([]domain.Episode, error) {
	return g.episodes.Get(ctx, func(ctx context.Context) ([]domain.Episode, error) {
		fns := make([]func(ctx context.Context) (domain.Episode, error), 0, len(g.animes))
		for _, a := range g.animes {
			fns = append(fns, func(ctx context.Context) (domain.Episode, error) {
				return a.Episode(ctx, g.index)
			})
		}

		return collectAll(ctx, memberTimeout, fns), nil
	})
}

// FetchRawStreams flattens the embeds of every member episode.
func (g *EpisodeGroup) FetchRawStreams(ctx context.Context) ([]string, error) {
	episodes, err := g.Episodes(ctx)
	if err != nil {
		return nil, err
	}

	fns := make([]func(ctx context.Context) ([]string, error), 0, len(episodes))
	for _, ep := range episodes {
		fns = append(fns, func(ctx context.Context) ([]string, error) {
			return ep.RawStreams(ctx)
		})
	}

	var links []string
	for _, ls := range collectAll(ctx, 0, fns) {
		links = append(links, ls...)
	}

	return links, nil
}

// WorkingStreams resolves every member episode's streams and keeps the
// external ones with playable links.
func (g *EpisodeGroup) WorkingStreams(ctx context.Context) ([]domain.Stream, error) {
	episodes, err := g.Episodes(ctx)
	if err != nil {
		return nil, err
	}

	fns := make([]func(ctx context.Context) ([]domain.Stream, error), 0, len(episodes))
	for _, ep := range episodes {
		fns = append(fns, func(ctx context.Context) ([]domain.Stream, error) {
			return ep.Streams(ctx)
		})
	}

	var all []domain.Stream
	for _, streams := range collectAll(ctx, 0, fns) {
		all = append(all, streams...)
	}

	keep := make([]bool, len(all))

	var wg conc.WaitGroup
	for i, s := range all {
		i, s := i, s
		wg.Go(func() {
			external, err := s.External(ctx)
			if err != nil || !external {
				return
			}
			keep[i] = s.Working(ctx)
		})
	}
	wg.Wait()

	working := make([]domain.Stream, 0, len(all))
	for i, s := range all {
		if keep[i] {
			working = append(working, s)
		}
	}

	return working, nil
}

func (g *EpisodeGroup) State() bson.M {
	episodes := []bson.M{}
	if eps, ok := g.episodes.Peek(); ok {
		for _, ep := range eps {
			episodes = append(episodes, ep.State())
		}
	}

	return bson.M{
		"index":    g.index,
		"episodes": episodes,
	}
}

// collectAll runs every fn concurrently and keeps the successful
// results, in input order. A positive timeout bounds each fn on its
// own.
func collectAll[T any](ctx context.Context, timeout time.Duration, fns []func(ctx context.Context) (T, error)) []T {
	type result struct {
		val T
		ok  bool
	}

	results := make([]result, len(fns))

	var wg conc.WaitGroup
	for i, fn := range fns {
		i, fn := i, fn
		wg.Go(func() {
			ctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			val, err := fn(ctx)
			if err != nil {
				return
			}
			results[i] = result{val: val, ok: true}
		})
	}
	wg.Wait()

	vals := make([]T, 0, len(results))
	for _, res := range results {
		if res.ok {
			vals = append(vals, res.val)
		}
	}

	return vals
}
