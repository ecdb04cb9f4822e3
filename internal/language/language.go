package language

import (
	"fmt"
	"strings"
)

// Language is the short code used in uids and stored documents.
type Language string

const (
	English Language = "en"
	German  Language = "de"
)

func (l Language) String() string {
	return string(l)
}

func Parse(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english":
		return English, nil
	case "de", "german":
		return German, nil
	}

	return "", fmt.Errorf("unknown language: %q", s)
}
