package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"animarr/internal/lazy"
	"animarr/internal/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedMarksDirty(t *testing.T) {
	entity := NewEntity(request.New("https://example.com"), time.Hour)
	var slot lazy.Slot[int]

	assert.False(t, entity.Dirty())

	val, err := Cached(context.Background(), entity, &slot, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.True(t, entity.Dirty())

	entity.MarkClean()

	// cached reads don't dirty the entity again
	_, err = Cached(context.Background(), entity, &slot, func(context.Context) (int, error) {
		return 0, errors.New("should not be called")
	})
	require.NoError(t, err)
	assert.False(t, entity.Dirty())
}

func TestCachedKeepsCleanOnError(t *testing.T) {
	entity := NewEntity(request.New("https://example.com"), time.Hour)
	var slot lazy.Slot[int]

	_, err := Cached(context.Background(), entity, &slot, func(context.Context) (int, error) {
		return 0, errors.New("fetch failed")
	})
	assert.Error(t, err)
	assert.False(t, entity.Dirty())
}

func TestRefreshDropsChangingAttrs(t *testing.T) {
	entity := NewEntity(request.New("https://example.com"), 30*time.Minute)

	var slot lazy.Slot[int]
	slot.Set(7)
	entity.OnExpire(slot.Reset)

	entity.Refresh()
	_, ok := slot.Peek()
	assert.True(t, ok, "fresh entity must keep its attributes")

	entity.SetLastUpdate(time.Now().Add(-time.Hour))
	entity.Refresh()
	_, ok = slot.Peek()
	assert.False(t, ok, "stale attributes must be dropped")

	// the refresh bumped last_update, attributes stay until it expires again
	slot.Set(9)
	entity.Refresh()
	_, ok = slot.Peek()
	assert.True(t, ok)
}

func TestMetaRoundTrip(t *testing.T) {
	req := request.New("https://example.com/api", request.WithProxy())
	entity := NewEntity(req, time.Hour)

	meta := entity.Meta("gogoanime.Anime")
	assert.Equal(t, "gogoanime.Anime", meta.Cls)
	assert.Equal(t, req.State(), meta.Req)
	assert.Equal(t, entity.LastUpdate(), meta.LastUpdate)

	revived := NewEntity(request.FromState(meta.Req), time.Hour)
	revived.SetLastUpdate(meta.LastUpdate)
	assert.Equal(t, meta.LastUpdate, revived.LastUpdate())
	assert.True(t, revived.Request().State().UseProxy)
}

func TestDirtyFollowsRequest(t *testing.T) {
	entity := NewEntity(request.New("https://example.com"), time.Hour)
	assert.False(t, entity.Dirty())

	entity.Request().SetURL("https://example.com/moved")
	assert.True(t, entity.Dirty(), "a moved request must reach the stored document")

	entity.MarkClean()
	assert.False(t, entity.Dirty())
	assert.False(t, entity.Request().Dirty())
}
