package uid

import (
	"fmt"
	"strings"
	"unicode"

	"animarr/internal/language"
)

type MediaType string

const (
	TypeAnime MediaType = "a"
	TypeManga MediaType = "m"
)

// UID identifies an item across sources without a database lookup:
// media type, media id, source and language joined by dashes, with a
// "_dub" suffix for dubbed entries. Media ids never contain dashes, every
// non-alphanumeric rune is hex escaped, so the encoding stays reversible.
type UID string

func (u UID) String() string {
	return string(u)
}

func (u UID) Components() (Components, error) {
	return Parse(string(u))
}

type Components struct {
	MediaType MediaType
	MediaID   string
	Source    string
	Language  language.Language
	Dubbed    bool
}

func (c Components) UID() UID {
	return New(c.MediaType, c.MediaID, c.Source, c.Language, c.Dubbed)
}

// New composes a uid from its parts. An empty source is rendered as "none",
// used by groups that span several sources.
func New(mt MediaType, mediaID, source string, lang language.Language, dubbed bool) UID {
	if source == "" {
		source = "none"
	}

	dub := ""
	if dubbed {
		dub = "_dub"
	}

	return UID(fmt.Sprintf("%s-%s-%s-%s%s", mt, mediaID, strings.ToLower(source), lang, dub))
}

// Parse splits s into its components. The legacy three part form
// source-media_id-language predates media types and defaults to anime.
func Parse(s string) (Components, error) {
	parts := strings.Split(s, "-")

	var c Components

	switch len(parts) {
	case 4:
		mt := MediaType(parts[0])
		if mt != TypeAnime && mt != TypeManga {
			return c, fmt.Errorf("invalid uid %q: unknown media type %q", s, parts[0])
		}

		c.MediaType = mt
		c.MediaID = parts[1]
		c.Source = parts[2]

		lang, dubbed, err := parseLanguage(parts[3])
		if err != nil {
			return c, fmt.Errorf("invalid uid %q: %w", s, err)
		}
		c.Language = lang
		c.Dubbed = dubbed

	case 3:
		c.MediaType = TypeAnime
		c.Source = parts[0]
		c.MediaID = parts[1]

		lang, dubbed, err := parseLanguage(parts[2])
		if err != nil {
			return c, fmt.Errorf("invalid uid %q: %w", s, err)
		}
		c.Language = lang
		c.Dubbed = dubbed

	default:
		return c, fmt.Errorf("invalid uid: %q", s)
	}

	if c.MediaID == "" || c.Source == "" {
		return Components{}, fmt.Errorf("invalid uid: %q", s)
	}

	return c, nil
}

// CreateMediaID slugs a title into the media id part of a uid: lowercased,
// spaces removed, every other non-alphanumeric rune escaped as _<hex>_ of
// its code point.
func CreateMediaID(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "")

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "_%x_", r)
		}
	}

	return b.String()
}

func parseLanguage(s string) (language.Language, bool, error) {
	s, dubbed := strings.CutSuffix(s, "_dub")

	lang, err := language.Parse(s)
	if err != nil {
		return "", false, err
	}

	return lang, dubbed, nil
}
