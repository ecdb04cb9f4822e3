package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"animarr/internal/anime"
	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/sanitize"
	"animarr/internal/state"
	"animarr/internal/urlpool"
	"animarr/internal/utils"

	"github.com/PuerkitoBio/goquery"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	gogoanimeBase        = "{GOGOANIME_URL}"
	gogoanimeSearchURL   = gogoanimeBase + "//search.html"
	gogoanimeEpisodeList = gogoanimeBase + "//load-list-episode"
)

var (
	gogoanimePool = urlpool.New("GOGOANIME_URL", []string{"https://gogoanime.io", "http://gogoanime.io"})

	// the 404 page still renders a list of recently aired episodes,
	// scraping it would attach unrelated shows
	reGogoNotFound    = regexp.MustCompile(`<h1 class="entry-title">Page not found</h1>`)
	reGogoEpisodeHref = regexp.MustCompile(`[^/]+-episode-(.+)$`)
)

func init() {
	gogoanimePool.Register(request.DefaultFormatter, true)

	register(Factory{
		Name:   "GogoAnime",
		Search: searchGogoAnime,
		Load:   loadGogoAnime,
	})
}

// GogoAnime scrapes the gogoanime html pages. The site only carries
// english subs and dubs, dubbed cuts are separate shows whose titles
// end in "(Dub)".
type GogoAnime struct {
	*anime.Base

	animeID  lazy.Slot[string]
	rawTitle lazy.Slot[string]
	episodes lazy.Slot[map[int]domain.Episode]
}

func newGogoAnime(req *request.Request) *GogoAnime {
	a := &GogoAnime{}
	a.Base = anime.NewBase("GogoAnime", req, a)
	a.OnExpire(a.episodes.Reset)
	return a
}

func loadGogoAnime(doc bson.M) (domain.SourceAnime, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	a := newGogoAnime(req)
	a.Prime(doc)
	if id, ok := doc["anime_id"].(string); ok {
		a.animeID.Set(id)
	}
	if raw, ok := doc["raw_title"].(string); ok {
		a.rawTitle.Set(raw)
	}

	return a, nil
}

func searchGogoAnime(ctx context.Context, query string, lang language.Language, dubbed bool) ([]domain.SearchResult, error) {
	if lang != language.English {
		return nil, nil
	}

	req := request.New(gogoanimeSearchURL, request.WithParams(map[string]string{"keyword": query}))
	doc, err := req.HTML(ctx)
	if err != nil {
		return nil, err
	}

	var results []domain.SearchResult
	doc.Find("ul.items li").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("a").First()
		rawTitle := link.AttrOr("title", "")
		if rawTitle == "" || dubbed != isDubTitle(rawTitle) {
			return
		}

		href, ok := link.Attr("href")
		if !ok {
			return
		}

		title := reDubSuffix.ReplaceAllString(rawTitle, "")

		a := newGogoAnime(request.New(gogoanimeBase + href))
		a.rawTitle.Set(rawTitle)
		primed := bson.M{"title": title, "is_dub": dubbed}
		if thumbnail := link.Find("img").First().AttrOr("src", ""); thumbnail != "" {
			primed["thumbnail"] = thumbnail
		}
		a.Prime(primed)

		results = append(results, domain.SearchResult{
			Anime:     a,
			Certainty: utils.Certainty(query, title),
		})
	})

	return results, nil
}

// AnimeID is the numeric id the episode list endpoint is keyed by.
func (a *GogoAnime) AnimeID(ctx context.Context) (string, error) {
	return state.Cached(ctx, a.Entity, &a.animeID, func(ctx context.Context) (string, error) {
		doc, err := a.Request().HTML(ctx)
		if err != nil {
			return "", err
		}

		id, ok := doc.Find("#movie_id").First().Attr("value")
		if !ok {
			return "", errors.New("no movie id on page")
		}
		return id, nil
	})
}

// RawTitle is the title as displayed, dub marker included.
func (a *GogoAnime) RawTitle(ctx context.Context) (string, error) {
	return state.Cached(ctx, a.Entity, &a.rawTitle, func(ctx context.Context) (string, error) {
		doc, err := a.Request().HTML(ctx)
		if err != nil {
			return "", err
		}

		title := strings.TrimSpace(doc.Find("div.anime_info_body_bg h1").First().Text())
		if title == "" {
			return "", errors.New("no title on page")
		}
		return title, nil
	})
}

func (a *GogoAnime) FetchTitle(ctx context.Context) (string, error) {
	raw, err := a.RawTitle(ctx)
	if err != nil {
		return "", err
	}
	return reDubSuffix.ReplaceAllString(raw, ""), nil
}

func (a *GogoAnime) FetchThumbnail(ctx context.Context) (string, error) {
	return "", nil
}

func (a *GogoAnime) FetchDubbed(ctx context.Context) (bool, error) {
	raw, err := a.RawTitle(ctx)
	if err != nil {
		return false, err
	}
	return isDubTitle(raw), nil
}

func (a *GogoAnime) FetchLanguage(ctx context.Context) (language.Language, error) {
	return language.English, nil
}

func (a *GogoAnime) FetchEpisodeCount(ctx context.Context) (int, error) {
	doc, err := a.Request().HTML(ctx)
	if err != nil {
		return 0, err
	}

	last, ok := doc.Find("#episode_page a.active").First().Attr("ep_end")
	if !ok {
		return 0, nil
	}

	if count, err := strconv.Atoi(last); err == nil {
		return count, nil
	}

	// specials make for half numbered labels like "32.5"
	f, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse episode label %q: %w", last, err)
	}
	return int(math.Ceil(f)), nil
}

func (a *GogoAnime) FetchEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.listEpisodes(ctx)
}

func (a *GogoAnime) FetchEpisode(ctx context.Context, index int) (domain.Episode, error) {
	// guess the episode page from the title first, the full list costs
	// two extra requests
	if title, err := a.Title(ctx); err == nil {
		req := request.New(fmt.Sprintf("%s/%s-episode-%d", gogoanimeBase, sanitize.Slug(title), index+1))
		if notFound, err := gogoanimeNotFound(ctx, req); err == nil && !notFound {
			return newGogoEpisode(req), nil
		}
	}

	episodes, err := a.listEpisodes(ctx)
	if err != nil {
		return nil, err
	}

	ep, ok := episodes[index]
	if !ok {
		return nil, domain.ErrEpisodeNotFound
	}
	return ep, nil
}

func (a *GogoAnime) LoadEpisode(doc bson.M) (domain.Episode, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	ep := newGogoEpisode(req)
	ep.Prime(doc)
	return ep, nil
}

func (a *GogoAnime) listEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.episodes.Get(ctx, func(ctx context.Context) (map[int]domain.Episode, error) {
		id, err := a.AnimeID(ctx)
		if err != nil {
			return nil, err
		}
		count, err := a.EpisodeCount(ctx)
		if err != nil {
			return nil, err
		}

		req := request.New(gogoanimeEpisodeList, request.WithParams(map[string]string{
			"id":       id,
			"ep_start": "0",
			"ep_end":   strconv.Itoa(count),
		}))

		notFound, err := gogoanimeNotFound(ctx, req)
		if err != nil {
			return nil, err
		}
		if notFound {
			return nil, fmt.Errorf("no episode list for %s", a)
		}

		doc, err := req.HTML(ctx)
		if err != nil {
			return nil, err
		}

		episodes := make(map[int]domain.Episode)
		doc.Find("li a").Each(func(_ int, link *goquery.Selection) {
			href := strings.TrimSpace(link.AttrOr("href", ""))
			match := reGogoEpisodeHref.FindStringSubmatch(href)
			if match == nil {
				return
			}

			// specials carry labels like "32-5", skip them
			number, err := strconv.Atoi(match[1])
			if err != nil {
				return
			}
			if _, ok := episodes[number-1]; ok {
				return
			}
			episodes[number-1] = newGogoEpisode(request.New(gogoanimeBase + href))
		})

		return episodes, nil
	})
}

func (a *GogoAnime) State() bson.M {
	doc := a.Base.State()
	if id, ok := a.animeID.Peek(); ok {
		doc["anime_id"] = id
	}
	if raw, ok := a.rawTitle.Peek(); ok {
		doc["raw_title"] = raw
	}
	return doc
}

func gogoanimeNotFound(ctx context.Context, req *request.Request) (bool, error) {
	text, err := req.Text(ctx)
	if err != nil {
		return false, err
	}
	return reGogoNotFound.MatchString(text), nil
}

// GogoEpisode reads its embeds off the episode page's mirror list.
type GogoEpisode struct {
	*anime.EpisodeBase
}

func newGogoEpisode(req *request.Request) *GogoEpisode {
	e := &GogoEpisode{}
	e.EpisodeBase = anime.NewEpisode(req, e)
	return e
}

func (e *GogoEpisode) FetchRawStreams(ctx context.Context) ([]string, error) {
	doc, err := e.Request().HTML(ctx)
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("div.anime_muti_link a").Each(func(_ int, link *goquery.Selection) {
		if video, ok := link.Attr("data-video"); ok {
			links = append(links, utils.AddHTTPScheme(video, ""))
		}
	})

	return links, nil
}
