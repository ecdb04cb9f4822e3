package domain

import (
	"context"
	"time"

	"animarr/internal/language"
	"animarr/internal/uid"

	"go.mongodb.org/mongo-driver/bson"
)

// Anime is a single show as seen by one source, or a group spanning
// several. Accessors fetch lazily, nothing is loaded until asked for.
type Anime interface {
	UID(ctx context.Context) (uid.UID, error)
	MediaID(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Thumbnail(ctx context.Context) (string, error)
	EpisodeCount(ctx context.Context) (int, error)
	Language(ctx context.Context) (language.Language, error)
	Dubbed(ctx context.Context) (bool, error)

	// Episode returns the episode at the zero based index,
	// ErrEpisodeNotFound when out of range.
	Episode(ctx context.Context, index int) (Episode, error)

	// Preload resolves all metadata attributes concurrently.
	Preload(ctx context.Context) error
}

// SourceAnime is an Anime bound to one site, with persistent cached state.
type SourceAnime interface {
	Anime

	Source() string
	State() bson.M
	Dirty() bool
	MarkClean()
}

type Episode interface {
	// RawStreams lists the embedded player pages for this episode.
	RawStreams(ctx context.Context) ([]string, error)

	// Streams resolves the raw pages into handlers, best priority first.
	Streams(ctx context.Context) ([]Stream, error)

	// Stream returns the first working external stream,
	// ErrStreamNotFound when none work.
	Stream(ctx context.Context) (Stream, error)

	// StreamAt indexes into Streams, ErrStreamNotFound when out of range.
	StreamAt(ctx context.Context, index int) (Stream, error)

	// SourceLinks flattens the playable links of every stream.
	SourceLinks(ctx context.Context) ([]string, error)

	Poster(ctx context.Context) (string, error)

	State() bson.M
	Dirty() bool
	MarkClean()
}

// Stream extracts playable media urls from one embedded player page.
type Stream interface {
	Name() string
	Priority() int

	// External reports whether the links can be played outside the
	// embedding site.
	External(ctx context.Context) (bool, error)

	Links(ctx context.Context) ([]string, error)
	Poster(ctx context.Context) (string, error)

	// Working reports whether any playable link could be extracted.
	Working(ctx context.Context) bool

	State() bson.M
	Dirty() bool
	MarkClean()
}

type SearchResult struct {
	Anime     SourceAnime
	Certainty float64
}

// Medium is a lightweight search index record scraped from a site index.
type Medium struct {
	UID          string    `bson:"_id"`
	SourceClass  string    `bson:"cls"`
	Updated      time.Time `bson:"updated"`
	MediumType   string    `bson:"medium_type"`
	MediumID     string    `bson:"medium_id"`
	Language     string    `bson:"language"`
	Dubbed       bool      `bson:"dubbed"`
	Title        string    `bson:"title"`
	Aliases      []string  `bson:"aliases,omitempty"`
	Href         string    `bson:"href"`
	Thumbnail    string    `bson:"thumbnail,omitempty"`
	EpisodeCount int       `bson:"episode_count,omitempty"`
}

// IndexMeta records how far a site index crawl got, so the next run can
// resume instead of starting over.
type IndexMeta struct {
	Name     string    `bson:"_id"`
	LastPage int       `bson:"last_page"`
	Updated  time.Time `bson:"updated"`
}

// Renderer runs pages through the external headless browser service.
// Sources and resolvers that need scripted pages receive one, everything
// else stays plain HTTP.
type Renderer interface {
	// HTML navigates to url and returns the rendered document.
	HTML(ctx context.Context, url string) (string, error)

	// VideoSource navigates to url, clicks clickSelector if present and
	// returns the src and poster attributes of the video element.
	VideoSource(ctx context.Context, url, clickSelector, videoSelector string) (src string, poster string, err error)

	// EmbedSources navigates to url, walks every hoster tab on the page
	// and returns the embed urls the player iframe cycles through.
	EmbedSources(ctx context.Context, url string) ([]string, error)
}
