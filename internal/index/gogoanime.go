package index

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/parse"
	"animarr/internal/uid"
	"animarr/internal/urlpool"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
)

const gogoanimeClass = "GogoAnime"

// shares its name with the adapter's pool, both resolve to the same
// stored winner
var gogoanimeIndexPool = urlpool.New("GOGOANIME_URL", []string{"https://gogoanime.io", "http://gogoanime.io"})

var reGogoRecentHref = regexp.MustCompile(`^(/.+)-episode-\d+(-\d+)?$`)

// GogoAnime walks the gogoanime listings. The full crawl covers the
// alphabetical index, the update crawl reads the recently aired page and
// stops once it runs into entries it has seen before.
type GogoAnime struct {
	name      string
	path      string
	update    bool
	Collector colly.Collector
}

// NewGogoAnimeFull crawls the complete alphabetical listing.
func NewGogoAnimeFull() *GogoAnime {
	return newGogoAnimeScraper("gogoanime-full", "/anime-list.html", false)
}

// NewGogoAnimeNew crawls the recently aired episodes on the front page.
func NewGogoAnimeNew() *GogoAnime {
	return newGogoAnimeScraper("gogoanime-new", "", true)
}

func newGogoAnimeScraper(name, path string, update bool) *GogoAnime {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	extensions.RandomUserAgent(collector)

	collector.SetRequestTimeout(120 * time.Second)

	return &GogoAnime{
		name:      name,
		path:      path,
		update:    update,
		Collector: *collector,
	}
}

func (g *GogoAnime) Name() string {
	return g.name
}

func (g *GogoAnime) UpdateUntilKnown() bool {
	return g.update
}

func (g *GogoAnime) Scrape(ctx context.Context, page int) ([]domain.Medium, bool, error) {
	base, err := gogoanimeIndexPool.URL(ctx)
	if err != nil {
		return nil, false, err
	}

	c := g.Collector.Clone()

	var media []domain.Medium
	if g.update {
		c.OnHTML("div.last_episodes ul.items li", func(e *colly.HTMLElement) {
			if m, ok := recentMedium(e, base); ok {
				media = append(media, m)
			}
		})
	} else {
		c.OnHTML("div.anime_list_body ul.listing li", func(e *colly.HTMLElement) {
			if m, ok := listedMedium(e, base); ok {
				media = append(media, m)
			}
		})
	}

	// the pagination only ever links pages that exist
	hasNext := false
	next := strconv.Itoa(page + 2)
	c.OnHTML("ul.pagination-list li a", func(e *colly.HTMLElement) {
		if e.Attr("data-page") == next {
			hasNext = true
		}
	})

	if err := c.Visit(fmt.Sprintf("%s%s?page=%d", base, g.path, page+1)); err != nil {
		return nil, false, err
	}

	return media, hasNext, nil
}

func listedMedium(e *colly.HTMLElement, base string) (domain.Medium, bool) {
	href := e.ChildAttr("a", "href")
	title := strings.TrimSpace(e.ChildAttr("a", "title"))
	if title == "" {
		title = strings.TrimSpace(e.ChildText("a"))
	}
	if href == "" || title == "" {
		return domain.Medium{}, false
	}

	return newGogoMedium(title, base+href, "", 0), true
}

func recentMedium(e *colly.HTMLElement, base string) (domain.Medium, bool) {
	title := strings.TrimSpace(e.ChildAttr("p.name a", "title"))
	if title == "" {
		title = strings.TrimSpace(e.ChildText("p.name"))
	}

	// the item links the episode page, the show page is derived from it
	match := reGogoRecentHref.FindStringSubmatch(e.ChildAttr("p.name a", "href"))
	if title == "" || match == nil {
		return domain.Medium{}, false
	}

	// labels like "Movie" carry no number, the count just stays unknown
	count, err := parse.EpisodeNumber(e.ChildText("p.episode"))
	if err != nil {
		count = 0
	}

	thumbnail := e.ChildAttr("div.img img", "src")
	return newGogoMedium(title, base+"/category"+match[1], thumbnail, count), true
}

func newGogoMedium(rawTitle, href, thumbnail string, episodeCount int) domain.Medium {
	title, dubbed := parse.RawTitle(rawTitle)

	mediaID := uid.CreateMediaID(title)
	id := uid.New(uid.TypeAnime, mediaID, gogoanimeClass, language.English, dubbed)

	return domain.Medium{
		UID:          id.String(),
		SourceClass:  gogoanimeClass,
		Updated:      time.Now().UTC(),
		MediumType:   string(uid.TypeAnime),
		MediumID:     mediaID,
		Language:     language.English.String(),
		Dubbed:       dubbed,
		Title:        title,
		Href:         href,
		Thumbnail:    thumbnail,
		EpisodeCount: episodeCount,
	}
}
