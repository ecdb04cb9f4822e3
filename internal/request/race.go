package request

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Predicate decides whether a request counts as a winner for First and
// TryAll.
type Predicate func(ctx context.Context, req *Request) bool

func headSuccess(ctx context.Context, req *Request) bool {
	return req.HeadSuccess(ctx)
}

// First races the requests and returns the first one that passes pred,
// or nil if none does. The default predicate is HeadSuccess. Losing
// requests are cancelled as soon as a winner is known.
func First(ctx context.Context, reqs []*Request, pred Predicate) *Request {
	if len(reqs) == 0 {
		return nil
	}
	if pred == nil {
		pred = headSuccess
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *Request, len(reqs))
	for _, req := range reqs {
		go func(req *Request) {
			if pred(ctx, req) {
				results <- req
				return
			}
			results <- nil
		}(req)
	}

	for range reqs {
		select {
		case req := <-results:
			if req != nil {
				return req
			}
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// TryAll checks every request against pred and returns the ones that
// pass, in their original order.
func TryAll(ctx context.Context, reqs []*Request, pred Predicate) []*Request {
	if pred == nil {
		pred = headSuccess
	}

	passed := make([]*Request, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			if pred(ctx, req) {
				passed[i] = req
			}
		}(i, req)
	}
	wg.Wait()

	return lo.Compact(passed)
}
