package sanitize

import (
	"regexp"
	"strings"
)

var (
	reSpace   = regexp.MustCompile(`\s+`)
	reSpecial = regexp.MustCompile(`[^\w\-]+`)
	reDashes  = regexp.MustCompile(`-+`)
)

// Title normalizes the whitespace of a scraped title
func Title(title string) string {
	return reSpace.ReplaceAllString(strings.TrimSpace(title), " ")
}

// Slug turns a title into the form sites use in their urls
func Slug(title string) string {
	slug := reSpace.ReplaceAllString(title, "-")
	slug = reSpecial.ReplaceAllString(slug, "")
	slug = reDashes.ReplaceAllString(slug, "-")
	return strings.ToLower(slug)
}
