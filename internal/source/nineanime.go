package source

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"animarr/internal/anime"
	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/urlpool"
	"animarr/internal/utils"

	"github.com/PuerkitoBio/goquery"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	nineanimeBase      = "{NINEANIME_URL}"
	nineanimeSearchURL = nineanimeBase + "/search"

	nineanimeSearchRetries = 5
)

var nineanimePool = urlpool.New("NINEANIME_URL", []string{"https://9anime.to", "https://www2.9anime.to"})

func init() {
	nineanimePool.Register(request.DefaultFormatter, false)

	register(Factory{
		Name:   "NineAnime",
		Search: searchNineAnime,
		Load:   loadNineAnime,
	})
}

// NineAnime scrapes 9anime. Show pages render fine over plain http,
// the episode and server listings are script built and need the
// browser.
type NineAnime struct {
	*anime.Base

	rawTitle lazy.Slot[string]
	episodes lazy.Slot[map[int]domain.Episode]
}

func newNineAnime(req *request.Request) *NineAnime {
	a := &NineAnime{}
	a.Base = anime.NewBase("NineAnime", req, a)
	a.OnExpire(a.episodes.Reset)
	return a
}

func loadNineAnime(doc bson.M) (domain.SourceAnime, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	a := newNineAnime(req)
	a.Prime(doc)
	return a, nil
}

func searchNineAnime(ctx context.Context, query string, lang language.Language, dubbed bool) ([]domain.SearchResult, error) {
	if lang != language.English {
		return nil, nil
	}

	// the site shows an interstitial every now and then, reloading
	// until the result list appears gets past it
	req := request.New(nineanimeSearchURL,
		request.WithParams(map[string]string{"keyword": query}),
		request.WithProxy(),
	)

	var list *goquery.Selection
	for attempt := 0; attempt < nineanimeSearchRetries; attempt++ {
		doc, err := req.HTML(ctx)
		if err != nil {
			return nil, err
		}

		if container := doc.Find("div.film-list").First(); container.Length() > 0 {
			list = container
			break
		}
		req.Reload()
	}
	if list == nil {
		return nil, errors.New("no search results page after retries")
	}

	var results []domain.SearchResult
	list.Find("div.item").Each(func(_ int, item *goquery.Selection) {
		rawTitle := strings.TrimSpace(item.Find("a.name").First().Text())
		if rawTitle == "" || dubbed != isDubTitle(rawTitle) {
			return
		}
		title := reDubSuffix.ReplaceAllString(rawTitle, "")

		poster := item.Find("a.poster").First()
		href, ok := poster.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}

		a := newNineAnime(request.New(nineanimeBase + u.Path))
		a.rawTitle.Set(rawTitle)
		primed := bson.M{
			"title":         title,
			"is_dub":        dubbed,
			"episode_count": nineanimeEpisodeCount(item),
		}
		if thumbnail := poster.Find("img").First().AttrOr("src", ""); thumbnail != "" {
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

// nineanimeEpisodeCount reads the "Ep 10/12" badge off a search result.
// Movies carry no badge and count as one episode.
func nineanimeEpisodeCount(item *goquery.Selection) int {
	badge := item.Find("div.ep").First()
	if badge.Length() == 0 {
		return 1
	}

	text, _, _ := strings.Cut(badge.Text(), "/")
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimPrefix(text, "Ep"))

	count, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return count
}

// RawTitle is the title as displayed, dub marker included.
func (a *NineAnime) RawTitle(ctx context.Context) (string, error) {
	return a.rawTitle.Get(ctx, func(ctx context.Context) (string, error) {
		doc, err := a.Request().HTML(ctx)
		if err != nil {
			return "", err
		}

		title := strings.TrimSpace(doc.Find("h2.title").First().Text())
		if title == "" {
			return "", errors.New("no title on page")
		}
		return title, nil
	})
}

func (a *NineAnime) FetchTitle(ctx context.Context) (string, error) {
	raw, err := a.RawTitle(ctx)
	if err != nil {
		return "", err
	}
	return reDubSuffix.ReplaceAllString(raw, ""), nil
}

func (a *NineAnime) FetchThumbnail(ctx context.Context) (string, error) {
	doc, err := a.Request().HTML(ctx)
	if err != nil {
		return "", err
	}
	return doc.Find("div.thumb img").First().AttrOr("src", ""), nil
}

func (a *NineAnime) FetchDubbed(ctx context.Context) (bool, error) {
	raw, err := a.RawTitle(ctx)
	if err != nil {
		return false, err
	}
	return isDubTitle(raw), nil
}

func (a *NineAnime) FetchLanguage(ctx context.Context) (language.Language, error) {
	return language.English, nil
}

func (a *NineAnime) FetchEpisodeCount(ctx context.Context) (int, error) {
	episodes, err := a.listEpisodes(ctx)
	if err != nil {
		return 0, err
	}
	return len(episodes), nil
}

func (a *NineAnime) FetchEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.listEpisodes(ctx)
}

func (a *NineAnime) FetchEpisode(ctx context.Context, index int) (domain.Episode, error) {
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

func (a *NineAnime) LoadEpisode(doc bson.M) (domain.Episode, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	ep := newNineEpisode(req)
	ep.Prime(doc)
	return ep, nil
}

func (a *NineAnime) listEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.episodes.Get(ctx, func(ctx context.Context) (map[int]domain.Episode, error) {
		renderer := getRenderer()
		if renderer == nil {
			return nil, errors.New("no renderer available")
		}

		pageURL, err := a.Request().URL(ctx)
		if err != nil {
			return nil, err
		}

		html, err := renderer.HTML(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, err
		}

		episodes := make(map[int]domain.Episode)
		doc.Find("div.server:not(.hidden) ul.episodes a").Each(func(i int, link *goquery.Selection) {
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			u, err := url.Parse(href)
			if err != nil {
				return
			}
			episodes[i] = newNineEpisode(request.New(nineanimeBase + u.Path))
		})

		return episodes, nil
	})
}

// NineEpisode collects its embeds by clicking through the hoster tabs,
// the player iframe is all the page ever discloses.
type NineEpisode struct {
	*anime.EpisodeBase
}

func newNineEpisode(req *request.Request) *NineEpisode {
	e := &NineEpisode{}
	e.EpisodeBase = anime.NewEpisode(req, e)
	return e
}

func (e *NineEpisode) FetchRawStreams(ctx context.Context) ([]string, error) {
	renderer := getRenderer()
	if renderer == nil {
		return nil, errors.New("no renderer available")
	}

	pageURL, err := e.Request().URL(ctx)
	if err != nil {
		return nil, err
	}

	return renderer.EmbedSources(ctx, pageURL)
}
