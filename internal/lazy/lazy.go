package lazy

import (
	"context"
	"sync"
)

// Slot caches the result of a single successful computation. Failed
// fetches are not cached, the next Get tries again. A Slot must not be
// copied after first use.
type Slot[T any] struct {
	mu  sync.Mutex
	set bool
	val T
}

// Get returns the cached value, running fetch when the slot is empty.
// Concurrent calls share one fetch, later callers wait for it.
func (s *Slot[T]) Get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set {
		return s.val, nil
	}

	val, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	s.val = val
	s.set = true

	return val, nil
}

// Set primes the slot, overwriting any cached value.
func (s *Slot[T]) Set(val T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.val = val
	s.set = true
}

// Peek reports the cached value without computing anything.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.val, s.set
}

// Reset clears the slot.
func (s *Slot[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	s.val = zero
	s.set = false
}
