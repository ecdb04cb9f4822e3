package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	xstreamBase = "https://www.xstreamcdn.com"
	xstreamAPI  = xstreamBase + "/api/source/"
)

type xstreamData struct {
	Player struct {
		PosterFile string `json:"poster_file"`
	} `json:"player"`

	// data holds the source list on success and an error string
	// otherwise
	Data json.RawMessage `json:"data"`
}

func (d xstreamData) files() []string {
	var sources []struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(d.Data, &sources); err != nil {
		return nil
	}

	files := make([]string, 0, len(sources))
	for _, source := range sources {
		if source.File != "" {
			files = append(files, source.File)
		}
	}
	return files
}

// XStreamCDN asks the host's own api for the source list.
type XStreamCDN struct {
	base

	player lazy.Slot[xstreamData]
}

func newXStreamCDN(req *request.Request) domain.Stream {
	x := &XStreamCDN{base: newBase("XStreamCDN", defaultPriority, req)}
	x.init(x)
	x.OnExpire(x.player.Reset)
	return x
}

// videoID is the last path segment of the embed url.
func (x *XStreamCDN) videoID(ctx context.Context) (string, error) {
	raw, err := x.Request().URL(ctx)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	return path.Base(strings.TrimRight(u.Path, "/")), nil
}

func (x *XStreamCDN) playerData(ctx context.Context) (xstreamData, error) {
	return x.player.Get(ctx, func(ctx context.Context) (xstreamData, error) {
		id, err := x.videoID(ctx)
		if err != nil {
			return xstreamData{}, err
		}

		var data xstreamData
		req := request.New(xstreamAPI+id, request.WithMethod(http.MethodPost))
		if err := req.JSON(ctx, &data); err != nil {
			return xstreamData{}, err
		}

		return data, nil
	})
}

func (x *XStreamCDN) fetchExternal(ctx context.Context) (bool, error) {
	return true, nil
}

func (x *XStreamCDN) fetchLinks(ctx context.Context) ([]string, error) {
	data, err := x.playerData(ctx)
	if err != nil {
		return nil, err
	}

	files := data.files()
	if len(files) == 0 {
		return nil, nil
	}

	candidates := make([]*request.Request, 0, len(files))
	for _, file := range files {
		candidates = append(candidates, request.New(file))
	}

	// the api hands out short lived redirectors, keep the target
	return SuccessfulLinks(ctx, candidates, true), nil
}

func (x *XStreamCDN) fetchPoster(ctx context.Context) (string, error) {
	data, err := x.playerData(ctx)
	if err != nil {
		return "", err
	}

	if data.Player.PosterFile == "" {
		return "", nil
	}
	return xstreamBase + data.Player.PosterFile, nil
}

func init() {
	register(Factory{
		Name:     "XStreamCDN",
		Priority: defaultPriority,
		CanHandle: func(ctx context.Context, req *request.Request) bool {
			return hostMatches(ctx, req, "xstreamcdn.com")
		},
		New: newXStreamCDN,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			x := newXStreamCDN(req).(*XStreamCDN)
			x.prime(doc)
			return x, nil
		},
	})
}
