package stream

import (
	"context"
	"net/url"
	"regexp"
	"slices"

	"animarr/internal/domain"
	"animarr/internal/request"
	"animarr/internal/state"
	"animarr/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	reVideoLink = regexp.MustCompile(`\b((http(s)?:)?(//)?[/\w.\-]+\.(mp4|webm|ogg))\b`)
	reImageLink = regexp.MustCompile(`\b((http(s)?:)?(//)?[/\w.\-]+\.(jpg|gif|png))\b`)
)

// hosts that serve scrapable files but forbid embedding them elsewhere
var nonEmbeddableHosts = []string{"estream.xyz", "estream.to"}

// Generic scrapes raw video and image urls out of any page. It runs
// last, after every dedicated resolver has declined.
type Generic struct {
	base
}

func newGeneric(req *request.Request) domain.Stream {
	g := &Generic{base: newBase("Generic", 0, req)}
	g.init(g)
	return g
}

func (g *Generic) fetchExternal(ctx context.Context) (bool, error) {
	raw, err := g.Request().URL(ctx)
	if err != nil {
		return false, err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false, err
	}

	return !slices.Contains(nonEmbeddableHosts, u.Hostname()), nil
}

func (g *Generic) fetchLinks(ctx context.Context) ([]string, error) {
	candidates, err := g.findLinks(ctx, reVideoLink)
	if err != nil {
		return nil, err
	}

	return SuccessfulLinks(ctx, candidates, false), nil
}

func (g *Generic) fetchPoster(ctx context.Context) (string, error) {
	candidates, err := g.findLinks(ctx, reImageLink)
	if err != nil {
		return "", err
	}

	winner := request.First(ctx, candidates, nil)
	if winner == nil {
		return "", nil
	}

	return winner.URL(ctx)
}

func (g *Generic) findLinks(ctx context.Context, re *regexp.Regexp) ([]*request.Request, error) {
	req := g.Request()
	if !req.Success(ctx) {
		return nil, nil
	}

	text, err := req.Text(ctx)
	if err != nil {
		return nil, err
	}
	pageURL, err := req.URL(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []*request.Request
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		link := utils.AddHTTPScheme(match[1], pageURL)
		if seen[link] {
			continue
		}
		seen[link] = true
		candidates = append(candidates, request.New(link))
	}

	return candidates, nil
}

func init() {
	register(Factory{
		Name:     "Generic",
		Priority: 0,
		CanHandle: func(context.Context, *request.Request) bool {
			return true
		},
		New: newGeneric,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			g := newGeneric(req).(*Generic)
			g.prime(doc)
			return g, nil
		},
	})
}
