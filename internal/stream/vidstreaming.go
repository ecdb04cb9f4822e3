package stream

import (
	"context"
	"regexp"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	rePlayerSetup = regexp.MustCompile(`(?s)playerInstance\.setup\((.+?)\);`)
	reURLVideo    = regexp.MustCompile("urlVideo\\s*=\\s*[\"'`](.+)[\"'`];")
)

type vidstreamingData struct {
	Image   string `json:"image"`
	Sources []struct {
		File string `json:"file"`
	} `json:"sources"`
}

func extractPlayerSetup(text string) (vidstreamingData, bool) {
	match := rePlayerSetup.FindStringSubmatch(text)
	if match == nil {
		return vidstreamingData{}, false
	}

	// the setup references variables declared elsewhere in the script
	vars := make(map[string]string)
	if urlVideo := reURLVideo.FindStringSubmatch(text); urlVideo != nil {
		vars["urlVideo"] = urlVideo[1]
	}

	var data vidstreamingData
	if err := utils.ParseJSObject(match[1], vars, &data); err != nil {
		return vidstreamingData{}, false
	}

	return data, true
}

// Vidstreaming reads the jwplayer setup off the embed page.
type Vidstreaming struct {
	base

	player lazy.Slot[vidstreamingData]
}

func newVidstreaming(req *request.Request) domain.Stream {
	v := &Vidstreaming{base: newBase("Vidstreaming", defaultPriority, req)}
	v.init(v)
	v.OnExpire(v.player.Reset)
	return v
}

func (v *Vidstreaming) playerData(ctx context.Context) (vidstreamingData, error) {
	return v.player.Get(ctx, func(ctx context.Context) (vidstreamingData, error) {
		text, err := v.Request().Text(ctx)
		if err != nil {
			return vidstreamingData{}, err
		}

		data, _ := extractPlayerSetup(text)
		return data, nil
	})
}

func (v *Vidstreaming) fetchExternal(ctx context.Context) (bool, error) {
	return true, nil
}

func (v *Vidstreaming) fetchLinks(ctx context.Context) ([]string, error) {
	data, err := v.playerData(ctx)
	if err != nil {
		return nil, err
	}
	if len(data.Sources) == 0 {
		return nil, nil
	}

	candidates := make([]*request.Request, 0, len(data.Sources))
	for _, source := range data.Sources {
		candidates = append(candidates, request.New(source.File))
	}

	return SuccessfulLinks(ctx, candidates, false), nil
}

func (v *Vidstreaming) fetchPoster(ctx context.Context) (string, error) {
	data, err := v.playerData(ctx)
	if err != nil {
		return "", err
	}

	if data.Image != "" && request.New(data.Image).HeadSuccess(ctx) {
		return data.Image, nil
	}
	return "", nil
}

func init() {
	register(Factory{
		Name:     "Vidstreaming",
		Priority: defaultPriority,
		CanHandle: func(ctx context.Context, req *request.Request) bool {
			return hostMatches(ctx, req, "vidstreaming.io")
		},
		New: newVidstreaming,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			v := newVidstreaming(req).(*Vidstreaming)
			v.prime(doc)
			return v, nil
		},
	})
}
