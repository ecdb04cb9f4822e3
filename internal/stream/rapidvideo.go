package stream

import (
	"context"
	"regexp"
	"time"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"

	"github.com/PuerkitoBio/goquery"
	"go.mongodb.org/mongo-driver/bson"
)

var reRapidVideoHost = regexp.MustCompile(`rapidvideo\.\w{2,3}`)

// RapidVideo serves the player only to sessions it has seen before, the
// page is fetched once for the cookie and then reloaded.
type RapidVideo struct {
	base

	doc lazy.Slot[*goquery.Document]
}

func newRapidVideo(req *request.Request) domain.Stream {
	r := &RapidVideo{base: newBase("RapidVideo", defaultPriority, req)}
	r.init(r)
	r.OnExpire(r.doc.Reset)
	return r
}

func (r *RapidVideo) document(ctx context.Context) (*goquery.Document, error) {
	return r.doc.Get(ctx, func(ctx context.Context) (*goquery.Document, error) {
		req := r.Request()
		if _, err := req.Response(ctx); err != nil {
			return nil, err
		}
		req.Reload()

		return req.HTML(ctx)
	})
}

func (r *RapidVideo) fetchExternal(ctx context.Context) (bool, error) {
	return true, nil
}

func (r *RapidVideo) fetchLinks(ctx context.Context) ([]string, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*request.Request
	doc.Find("video#videojs source").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			candidates = append(candidates, request.New(src, request.WithTimeout(10*time.Second)))
		}
	})

	return SuccessfulLinks(ctx, candidates, false), nil
}

func (r *RapidVideo) fetchPoster(ctx context.Context) (string, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return "", err
	}

	poster, ok := doc.Find("video#videojs").Attr("poster")
	if !ok || poster == "" {
		return "", nil
	}

	if request.New(poster).HeadSuccess(ctx) {
		return poster, nil
	}
	return "", nil
}

func init() {
	register(Factory{
		Name:     "RapidVideo",
		Priority: defaultPriority,
		CanHandle: func(ctx context.Context, req *request.Request) bool {
			raw, err := req.URL(ctx)
			if err != nil {
				return false
			}
			return reRapidVideoHost.MatchString(raw)
		},
		New: newRapidVideo,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			r := newRapidVideo(req).(*RapidVideo)
			r.prime(doc)
			return r, nil
		},
	})
}
