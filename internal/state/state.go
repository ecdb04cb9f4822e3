package state

import (
	"context"
	"sync"
	"time"

	"animarr/internal/lazy"
	"animarr/internal/request"
)

// Meta is the envelope shared by every persisted entity. Cls names the
// adapter that built the entity so it can be revived from its document.
type Meta struct {
	Cls        string        `bson:"cls,omitempty" json:"cls,omitempty"`
	Req        request.State `bson:"req" json:"req"`
	LastUpdate time.Time     `bson:"last_update" json:"last_update"`
}

// Entity carries the request an entity was built from, its dirty flag
// and the expiry of its changing attributes.
//
// Attributes that may change upstream register a reset through
// OnExpire. Accessors for those attributes call Refresh first, when the
// entity has outlived its expire time every changing attribute is
// dropped and fetched anew on demand.
type Entity struct {
	mu         sync.Mutex
	req        *request.Request
	dirty      bool
	lastUpdate time.Time

	expireAfter time.Duration
	changing    []func()
}

func NewEntity(req *request.Request, expireAfter time.Duration) *Entity {
	e := &Entity{
		req:         req,
		lastUpdate:  time.Now(),
		expireAfter: expireAfter,
	}
	if req != nil {
		// refetching against a cached response would just re-derive
		// the stale value
		e.changing = []func(){req.Reload}
	}
	return e
}

func (e *Entity) Request() *request.Request {
	return e.req
}

func (e *Entity) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty || (e.req != nil && e.req.Dirty())
}

func (e *Entity) MarkDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
}

func (e *Entity) MarkClean() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = false
	if e.req != nil {
		e.req.MarkClean()
	}
}

func (e *Entity) LastUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUpdate
}

// SetLastUpdate restores the update time of a revived entity.
func (e *Entity) SetLastUpdate(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !t.IsZero() {
		e.lastUpdate = t
	}
}

// OnExpire registers resets for attributes that go stale.
func (e *Entity) OnExpire(resets ...func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changing = append(e.changing, resets...)
}

// Refresh drops every changing attribute once the entity is older than
// its expire time.
func (e *Entity) Refresh() {
	e.mu.Lock()
	if e.expireAfter <= 0 || time.Since(e.lastUpdate) <= e.expireAfter {
		e.mu.Unlock()
		return
	}
	e.lastUpdate = time.Now()
	resets := e.changing
	e.mu.Unlock()

	for _, reset := range resets {
		reset()
	}
}

// Meta builds the persisted envelope for the entity.
func (e *Entity) Meta(cls string) Meta {
	return Meta{
		Cls:        cls,
		Req:        e.req.State(),
		LastUpdate: e.LastUpdate(),
	}
}

// Cached reads through slot and marks the entity dirty whenever a value
// was actually fetched, revived values leave the entity clean.
func Cached[T any](ctx context.Context, e *Entity, slot *lazy.Slot[T], fetch func(ctx context.Context) (T, error)) (T, error) {
	return slot.Get(ctx, func(ctx context.Context) (T, error) {
		val, err := fetch(ctx)
		if err == nil {
			e.MarkDirty()
		}
		return val, err
	})
}
