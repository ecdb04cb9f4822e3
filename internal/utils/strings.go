package utils

import (
	"math"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// AddHTTPScheme completes scheme relative and bare links. Relative paths
// are joined onto base when given.
func AddHTTPScheme(link, base string) string {
	switch {
	case strings.HasPrefix(link, "//"):
		return "http:" + link
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
		return link
	case base != "":
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(link, "/")
	default:
		return "http://" + link
	}
}

// FuzzyBool interprets the usual truthy query strings.
func FuzzyBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true
	}
	return false
}

// Certainty scores how closely a found title matches the query, in [0, 1]
// rounded to two decimals.
func Certainty(query, title string) float64 {
	a := strings.ToLower(query)
	b := strings.ToLower(title)

	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}

	dist := fuzzy.LevenshteinDistance(a, b)
	ratio := 1 - float64(dist)/float64(longest)

	return math.Round(ratio*100) / 100
}
