package source

import (
	"context"
	"encoding/json"
	"fmt"

	"animarr/internal/anime"
	"animarr/internal/domain"
	"animarr/internal/language"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/urlpool"
	"animarr/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	masteranimeBase      = "{MASTERANIME_URL}"
	masteranimeSearchURL = masteranimeBase + "/api/anime/filter"

	// the filter endpoint rejects anything longer
	masteranimeQueryLimit = 45
)

var (
	masteranimePool = urlpool.New("MASTERANIME_URL", []string{"https://www.masterani.me"})
	masteranimeCDN  = urlpool.New("MASTERANIME_CDN", []string{"https://cdn.masterani.me"})
)

func init() {
	masteranimePool.Register(request.DefaultFormatter, false)

	register(Factory{
		Name:   "MasterAnime",
		Search: searchMasterAnime,
		Load:   loadMasterAnime,
	})
}

type masterFilterResponse struct {
	Data []masterFilterAnime `json:"data"`
}

type masterFilterAnime struct {
	ID     int             `json:"id"`
	Slug   string          `json:"slug"`
	Title  string          `json:"title"`
	Poster json.RawMessage `json:"poster"`
}

type masterDetail struct {
	Info     masterInfo        `json:"info"`
	Poster   json.RawMessage   `json:"poster"`
	Episodes []masterDetailSub `json:"episodes"`
}

type masterInfo struct {
	ID    int    `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

type masterDetailSub struct {
	Info masterEpisodeInfo `json:"info"`
}

type masterEpisodeInfo struct {
	Episode masterString `json:"episode"`
}

// masterString tolerates the api serving the same field as a bare
// number in one place and a string in another.
type masterString string

func (s *masterString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = masterString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = masterString(num.String())
	return nil
}

// masteranimePoster resolves the poster payload against the cdn. The
// api serves either a bare file name or a path and file pair.
func masteranimePoster(ctx context.Context, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	base, err := masteranimeCDN.URL(ctx)
	if err != nil {
		return "", err
	}

	var file string
	if err := json.Unmarshal(raw, &file); err == nil {
		return fmt.Sprintf("%s/poster/%s", base, file), nil
	}

	var full struct {
		Path string `json:"path"`
		File string `json:"file"`
	}
	if err := json.Unmarshal(raw, &full); err != nil {
		return "", fmt.Errorf("failed to parse poster payload: %w", err)
	}

	return fmt.Sprintf("%s/%s%s", base, full.Path, full.File), nil
}

// MasterAnime talks to the masterani.me json api. The site carries subs
// only, dub searches come back empty.
type MasterAnime struct {
	*anime.Base

	animeID   lazy.Slot[int]
	animeSlug lazy.Slot[string]
	detail    lazy.Slot[masterDetail]
	episodes  lazy.Slot[map[int]domain.Episode]
}

func newMasterAnime(req *request.Request) *MasterAnime {
	a := &MasterAnime{}
	a.Base = anime.NewBase("MasterAnime", req, a)
	a.OnExpire(a.detail.Reset, a.episodes.Reset)
	return a
}

func loadMasterAnime(doc bson.M) (domain.SourceAnime, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	a := newMasterAnime(req)
	a.Prime(doc)
	if id, ok := state.AsInt(doc["anime_id"]); ok {
		a.animeID.Set(id)
	}
	if slug, ok := doc["anime_slug"].(string); ok {
		a.animeSlug.Set(slug)
	}

	return a, nil
}

func searchMasterAnime(ctx context.Context, query string, lang language.Language, dubbed bool) ([]domain.SearchResult, error) {
	if dubbed || lang != language.English {
		return nil, nil
	}

	if runes := []rune(query); len(runes) > masteranimeQueryLimit {
		query = string(runes[:masteranimeQueryLimit])
	}

	req := request.New(masteranimeSearchURL, request.WithParams(map[string]string{
		"search": query,
		"order":  "relevance_desc",
	}))

	var payload masterFilterResponse
	if err := req.JSON(ctx, &payload); err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(payload.Data))
	for _, item := range payload.Data {
		a := newMasterAnime(request.New(fmt.Sprintf("%s/api/anime/%d/detailed", masteranimeBase, item.ID)))
		a.animeID.Set(item.ID)
		a.animeSlug.Set(item.Slug)

		primed := bson.M{"title": item.Title, "is_dub": false}
		if poster, err := masteranimePoster(ctx, item.Poster); err == nil && poster != "" {
			primed["thumbnail"] = poster
		}
		a.Prime(primed)

		results = append(results, domain.SearchResult{
			Anime:     a,
			Certainty: utils.Certainty(query, item.Title),
		})
	}

	return results, nil
}

func (a *MasterAnime) detailData(ctx context.Context) (masterDetail, error) {
	return a.detail.Get(ctx, func(ctx context.Context) (masterDetail, error) {
		var detail masterDetail
		if err := a.Request().JSON(ctx, &detail); err != nil {
			return masterDetail{}, err
		}
		return detail, nil
	})
}

// AnimeID is the numeric id the api routes are keyed by.
func (a *MasterAnime) AnimeID(ctx context.Context) (int, error) {
	return state.Cached(ctx, a.Entity, &a.animeID, func(ctx context.Context) (int, error) {
		detail, err := a.detailData(ctx)
		if err != nil {
			return 0, err
		}
		return detail.Info.ID, nil
	})
}

// AnimeSlug is the url name episode pages live under.
func (a *MasterAnime) AnimeSlug(ctx context.Context) (string, error) {
	return state.Cached(ctx, a.Entity, &a.animeSlug, func(ctx context.Context) (string, error) {
		detail, err := a.detailData(ctx)
		if err != nil {
			return "", err
		}
		return detail.Info.Slug, nil
	})
}

func (a *MasterAnime) FetchTitle(ctx context.Context) (string, error) {
	detail, err := a.detailData(ctx)
	if err != nil {
		return "", err
	}
	return detail.Info.Title, nil
}

func (a *MasterAnime) FetchThumbnail(ctx context.Context) (string, error) {
	detail, err := a.detailData(ctx)
	if err != nil {
		return "", err
	}
	return masteranimePoster(ctx, detail.Poster)
}

func (a *MasterAnime) FetchDubbed(ctx context.Context) (bool, error) {
	return false, nil
}

func (a *MasterAnime) FetchLanguage(ctx context.Context) (language.Language, error) {
	return language.English, nil
}

func (a *MasterAnime) FetchEpisodeCount(ctx context.Context) (int, error) {
	detail, err := a.detailData(ctx)
	if err != nil {
		return 0, err
	}
	return len(detail.Episodes), nil
}

func (a *MasterAnime) FetchEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.listEpisodes(ctx)
}

func (a *MasterAnime) FetchEpisode(ctx context.Context, index int) (domain.Episode, error) {
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

func (a *MasterAnime) LoadEpisode(doc bson.M) (domain.Episode, error) {
	req, err := state.ReviveRequest(doc)
	if err != nil {
		return nil, err
	}

	ep := newMasterEpisode(req)
	ep.Prime(doc)
	if mirrors, ok := state.AsDocSlice(doc["mirror_data"]); ok {
		revived := make([]masterMirror, 0, len(mirrors))
		for _, raw := range mirrors {
			var mirror masterMirror
			if err := state.Decode(raw, &mirror); err != nil {
				continue
			}
			revived = append(revived, mirror)
		}
		ep.mirrors.Set(revived)
	}

	return ep, nil
}

func (a *MasterAnime) listEpisodes(ctx context.Context) (map[int]domain.Episode, error) {
	return a.episodes.Get(ctx, func(ctx context.Context) (map[int]domain.Episode, error) {
		slug, err := a.AnimeSlug(ctx)
		if err != nil {
			return nil, err
		}
		detail, err := a.detailData(ctx)
		if err != nil {
			return nil, err
		}

		episodes := make(map[int]domain.Episode, len(detail.Episodes))
		for i, sub := range detail.Episodes {
			u := fmt.Sprintf("%s/anime/watch/%s/%s", masteranimeBase, slug, sub.Info.Episode)
			episodes[i] = newMasterEpisode(request.New(u))
		}

		return episodes, nil
	})
}

func (a *MasterAnime) State() bson.M {
	doc := a.Base.State()
	if id, ok := a.animeID.Peek(); ok {
		doc["anime_id"] = id
	}
	if slug, ok := a.animeSlug.Peek(); ok {
		doc["anime_slug"] = slug
	}
	return doc
}

// masterMirror is one entry of the page's mirror listing, persisted
// verbatim so revived episodes skip the page visit.
type masterMirror struct {
	EmbedID masterString     `json:"embed_id" bson:"embed_id"`
	Host    masterMirrorHost `json:"host" bson:"host"`
}

type masterMirrorHost struct {
	EmbedPrefix string `json:"embed_prefix" bson:"embed_prefix"`
	EmbedSuffix string `json:"embed_suffix" bson:"embed_suffix"`
}

func (m masterMirror) embedURL() string {
	return m.Host.EmbedPrefix + string(m.EmbedID) + m.Host.EmbedSuffix
}

// MasterEpisode reads its embeds from the mirror data the watch page
// feeds its player component.
type MasterEpisode struct {
	*anime.EpisodeBase

	mirrors lazy.Slot[[]masterMirror]
}

func newMasterEpisode(req *request.Request) *MasterEpisode {
	e := &MasterEpisode{}
	e.EpisodeBase = anime.NewEpisode(req, e)
	e.OnExpire(e.mirrors.Reset)
	return e
}

func (e *MasterEpisode) mirrorData(ctx context.Context) ([]masterMirror, error) {
	return state.Cached(ctx, e.Entity, &e.mirrors, func(ctx context.Context) ([]masterMirror, error) {
		doc, err := e.Request().HTML(ctx)
		if err != nil {
			return nil, err
		}

		raw, ok := doc.Find("video-mirrors").First().Attr(":mirrors")
		if !ok {
			return nil, nil
		}

		var mirrors []masterMirror
		if err := json.Unmarshal([]byte(raw), &mirrors); err != nil {
			return nil, fmt.Errorf("failed to parse mirror data: %w", err)
		}
		return mirrors, nil
	})
}

func (e *MasterEpisode) FetchRawStreams(ctx context.Context) ([]string, error) {
	mirrors, err := e.mirrorData(ctx)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, len(mirrors))
	for _, mirror := range mirrors {
		links = append(links, utils.AddHTTPScheme(mirror.embedURL(), ""))
	}
	return links, nil
}

func (e *MasterEpisode) FetchHostURL(ctx context.Context) (string, error) {
	links, err := e.RawStreams(ctx)
	if err != nil {
		return "", err
	}
	if len(links) > 0 {
		return links[0], nil
	}
	return e.Request().URL(ctx)
}

func (e *MasterEpisode) State() bson.M {
	doc := e.EpisodeBase.State()
	if mirrors, ok := e.mirrors.Peek(); ok {
		doc["mirror_data"] = mirrors
	}
	return doc
}
