package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

// keys are anchored to the char before them so colons inside string
// values, ports in urls mostly, are left alone
var (
	reJSKey         = regexp.MustCompile(`(^|[\s{,\[])['"]?([a-zA-Z0-9_]+)['"]?\s*:\s*([\[\d"'{])`)
	reTrailingComma = regexp.MustCompile(`([\]}])\s*,(\s*[\]}])`)
)

// ParseJSObject decodes a javascript object literal the way embedded
// players write them: unquoted keys, single quotes, trailing commas.
// vars maps bare identifiers referenced as values to their string values.
func ParseJSObject(text string, vars map[string]string, out any) error {
	for name, val := range vars {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, `'`+val+`'`)
	}

	text = reJSKey.ReplaceAllString(text, `$1"$2": $3`)
	text = strings.ReplaceAll(text, "'", `"`)

	for {
		next := reTrailingComma.ReplaceAllString(text, "$1$2")
		if next == text {
			break
		}
		text = next
	}

	return json.Unmarshal([]byte(text), out)
}
