package utils

import "context"

// Race runs every fn concurrently and returns the first result reported
// as ok, in completion order. The rest are cancelled once a winner is
// known.
func Race[T any](ctx context.Context, fns []func(ctx context.Context) (T, bool)) (T, bool) {
	var zero T
	if len(fns) == 0 {
		return zero, false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val T
		ok  bool
	}

	results := make(chan result, len(fns))
	for _, fn := range fns {
		go func(fn func(ctx context.Context) (T, bool)) {
			val, ok := fn(ctx)
			results <- result{val: val, ok: ok}
		}(fn)
	}

	for range fns {
		select {
		case res := <-results:
			if res.ok {
				return res.val, true
			}
		case <-ctx.Done():
			return zero, false
		}
	}

	return zero, false
}
