package request

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var fieldPattern = regexp.MustCompile(`\{(\w+)\}`)

// FieldFunc resolves a formatter field on demand. Url pools register
// their current url this way so the lookup only races when a request
// actually needs the value.
type FieldFunc func(ctx context.Context) (string, error)

// Formatter fills {FIELD} placeholders in raw urls. Unknown fields are
// left untouched so partially formatted urls stay recognizable.
type Formatter struct {
	mu     sync.RWMutex
	fields map[string]FieldFunc
	proxy  map[string]bool
}

func NewFormatter() *Formatter {
	return &Formatter{
		fields: make(map[string]FieldFunc),
		proxy:  make(map[string]bool),
	}
}

// DefaultFormatter is shared by every request that doesn't bring its own.
var DefaultFormatter = NewFormatter()

func (f *Formatter) AddField(key string, fn FieldFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fields[key] = fn
}

func (f *Formatter) AddStatic(key, value string) {
	f.AddField(key, func(context.Context) (string, error) {
		return value, nil
	})
}

// UseProxy marks every url containing {key} as one that should be
// requested through the proxy.
func (f *Formatter) UseProxy(key string, use bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.fields[key]; !ok {
		return fmt.Errorf("no formatter field %q", key)
	}

	f.proxy[key] = use
	return nil
}

func (f *Formatter) Format(ctx context.Context, raw string) (string, error) {
	formatted := raw
	for _, match := range fieldPattern.FindAllStringSubmatch(raw, -1) {
		f.mu.RLock()
		fn, ok := f.fields[match[1]]
		f.mu.RUnlock()
		if !ok {
			continue
		}

		value, err := fn(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve field %q: %w", match[1], err)
		}

		formatted = strings.Replace(formatted, match[0], value, 1)
	}

	return formatted, nil
}

// ShouldUseProxy reports whether raw references a field that was marked
// with UseProxy.
func (f *Formatter) ShouldUseProxy(raw string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for key, use := range f.proxy {
		if strings.Contains(raw, "{"+key+"}") {
			return use
		}
	}

	return false
}
