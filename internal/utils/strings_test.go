package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddHTTPScheme(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		base     string
		expected string
	}{
		{
			name:     "protocol relative",
			link:     "//cdn.example.com/poster.jpg",
			base:     "",
			expected: "http://cdn.example.com/poster.jpg",
		},
		{
			name:     "already absolute",
			link:     "https://example.com/video.mp4",
			base:     "",
			expected: "https://example.com/video.mp4",
		},
		{
			name:     "relative with base",
			link:     "/anime/watch/gintama/1",
			base:     "https://example.com",
			expected: "https://example.com/anime/watch/gintama/1",
		},
		{
			name:     "bare host",
			link:     "example.com/embed",
			base:     "",
			expected: "http://example.com/embed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddHTTPScheme(tt.link, tt.base))
		})
	}
}

func TestFuzzyBool(t *testing.T) {
	for _, s := range []string{"true", "True", "t", "yes", "y", "1"} {
		assert.True(t, FuzzyBool(s), s)
	}
	for _, s := range []string{"", "false", "no", "0", "dub"} {
		assert.False(t, FuzzyBool(s), s)
	}
}

func TestCertainty(t *testing.T) {
	assert.Equal(t, 1.0, Certainty("Gintama", "gintama"))
	assert.Equal(t, 1.0, Certainty("", ""))

	// one edit away in a seven rune title
	assert.InDelta(t, 0.86, Certainty("gintama", "gintoma"), 0.01)

	// unrelated titles score low
	assert.Less(t, Certainty("gintama", "one piece"), 0.3)
}
