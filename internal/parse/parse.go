package parse

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"animarr/internal/sanitize"
)

var reDubSuffix = regexp.MustCompile(`\s\(Dub\)$`)

// RawTitle splits a scraped title into the clean title and whether it
// names the dubbed release
func RawTitle(raw string) (string, bool) {
	title := sanitize.Title(raw)
	if stripped := reDubSuffix.ReplaceAllString(title, ""); stripped != title {
		return stripped, true
	}
	return title, false
}

// EpisodeSelection parses the user input for ranges and parts
func EpisodeSelection(input string, episodeCount int) ([]int, error) {
	parts := strings.Split(input, ",")
	uniqueEpisodes := make(map[int]bool)

	for _, part := range parts {
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid range format: %s", part)
			}
			start, end, err := getRange(rangeParts)
			if err != nil {
				return nil, err
			}

			for episode := 1; episode <= episodeCount; episode++ {
				if episode >= start && episode <= end {
					uniqueEpisodes[episode] = true
				}
			}
		} else {
			episode, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			if episode < 1 || episode > episodeCount {
				return nil, fmt.Errorf("episode out of range: %d", episode)
			}
			uniqueEpisodes[episode] = true
		}
	}

	selected := make([]int, 0, len(uniqueEpisodes))
	for episode := range uniqueEpisodes {
		selected = append(selected, episode)
	}

	return selected, nil
}

// getRange parses the user input for episode ranges
func getRange(rangeParts []string) (int, int, error) {
	start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start of range: %s", rangeParts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end of range: %s", rangeParts[1])
	}

	if start > end {
		return 0, 0, fmt.Errorf("start of range should not be greater than end: %s-%s", rangeParts[0], rangeParts[1])
	}

	return start, end, nil
}

// EpisodeNumber extracts the trailing episode number from text like
// "Episode 1047", truncating fractional specials
func EpisodeNumber(text string) (int, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no episode number in %q", text)
	}

	last := fields[len(fields)-1]
	if n, err := strconv.Atoi(last); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("no episode number in %q", text)
	}
	return int(f), nil
}

// EpisodeCount parses an episode total, rounding partial episodes up
func EpisodeCount(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid episode count: %s", s)
	}
	return int(math.Ceil(f)), nil
}

// GetMinAndMaxKeys returns the lowest and highest keys from a map that has keys that can be ordered
func GetMinAndMaxKeys[K cmp.Ordered, V any](someMap map[K]V) (K, K, error) {
	if len(someMap) == 0 {
		var zero K
		return zero, zero, fmt.Errorf("map is empty")
	}

	keys := make([]K, 0, len(someMap))
	for key := range someMap {
		keys = append(keys, key)
	}

	return slices.Min(keys), slices.Max(keys), nil
}
