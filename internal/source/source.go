// Package source implements the site adapters animes are scraped from.
// Every site registers a factory at init time, the engine and the store
// only ever talk to the registry.
package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"animarr/internal/domain"
	"animarr/internal/language"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrUnknownSource marks documents whose class no registered adapter
// claims. The store deletes those instead of serving stale state.
var ErrUnknownSource = errors.New("unknown source")

// Factory describes one site adapter. Search may legitimately come back
// empty when the site doesn't carry the requested language or dub.
type Factory struct {
	Name   string
	Search func(ctx context.Context, query string, lang language.Language, dubbed bool) ([]domain.SearchResult, error)
	Load   func(doc bson.M) (domain.SourceAnime, error)
}

var (
	registryMu sync.RWMutex
	factories  []Factory
	byID       = make(map[string]Factory)
)

func register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	factories = append(factories, f)
	byID[strings.ToLower(f.Name)] = f
}

// All returns the registered adapters in registration order.
func All() []Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	snapshot := make([]Factory, len(factories))
	copy(snapshot, factories)
	return snapshot
}

// Get looks an adapter up by class name. Older documents carry fully
// qualified names, only the last segment counts and case doesn't.
func Get(name string) (Factory, bool) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := byID[strings.ToLower(name)]
	return f, ok
}

// Build revives a source anime from its state document.
func Build(doc bson.M) (domain.SourceAnime, error) {
	cls, _ := doc["cls"].(string)
	if cls == "" {
		return nil, fmt.Errorf("%w: document has no cls", ErrUnknownSource)
	}

	f, ok := Get(cls)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cls)
	}

	return f.Load(doc)
}

var (
	rendererMu sync.RWMutex
	renderer   domain.Renderer
)

// SetRenderer hands adapters that scrape script-built pages access to
// the headless browser. Without one those adapters fail their fetches.
func SetRenderer(r domain.Renderer) {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	renderer = r
}

func getRenderer() domain.Renderer {
	rendererMu.RLock()
	defer rendererMu.RUnlock()
	return renderer
}

// reDubSuffix strips the dub marker sites append to titles.
var reDubSuffix = regexp.MustCompile(`\s\(Dub\)$`)

func isDubTitle(title string) bool {
	return strings.HasSuffix(title, "(Dub)")
}
