package stream

import (
	"context"
	"errors"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"

	"go.mongodb.org/mongo-driver/bson"
)

type openloadData struct {
	source string
	poster string
}

// Openload ip locks its files, the extracted links only play for the
// service itself. It needs the headless browser and stays inactive
// without one.
type Openload struct {
	base

	player lazy.Slot[openloadData]
}

func newOpenload(req *request.Request) domain.Stream {
	o := &Openload{base: newBase("Openload", 5, req)}
	o.init(o)
	o.OnExpire(o.player.Reset)
	return o
}

func (o *Openload) playerData(ctx context.Context) (openloadData, error) {
	return o.player.Get(ctx, func(ctx context.Context) (openloadData, error) {
		renderer := getRenderer()
		if renderer == nil {
			return openloadData{}, errors.New("no renderer available")
		}

		u, err := o.Request().URL(ctx)
		if err != nil {
			return openloadData{}, err
		}

		src, poster, err := renderer.VideoSource(ctx, u, "div#videooverlay", "video#olvideo_html5_api")
		if err != nil {
			return openloadData{}, err
		}

		return openloadData{source: src, poster: poster}, nil
	})
}

func (o *Openload) fetchExternal(ctx context.Context) (bool, error) {
	return false, nil
}

func (o *Openload) fetchLinks(ctx context.Context) ([]string, error) {
	data, err := o.playerData(ctx)
	if err != nil {
		return nil, err
	}

	if data.source != "" && request.New(data.source).HeadSuccess(ctx) {
		return []string{data.source}, nil
	}
	return nil, nil
}

func (o *Openload) fetchPoster(ctx context.Context) (string, error) {
	data, err := o.playerData(ctx)
	if err != nil {
		return "", err
	}

	if data.poster != "" && request.New(data.poster).HeadSuccess(ctx) {
		return data.poster, nil
	}
	return "", nil
}

func init() {
	register(Factory{
		Name:     "Openload",
		Priority: 5,
		CanHandle: func(ctx context.Context, req *request.Request) bool {
			if getRenderer() == nil {
				return false
			}
			return hostMatches(ctx, req, "openload.co", "oload.tv")
		},
		New: newOpenload,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			o := newOpenload(req).(*Openload)
			o.prime(doc)
			return o, nil
		},
	})
}
