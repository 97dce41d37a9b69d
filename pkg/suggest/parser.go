package suggest

import "strings"

// DefaultMarkers are the line prefixes the prompt instructs the model to emit.
func DefaultMarkers() []string {
	return []string{"建议1:", "建议2:", "建议3:"}
}

// ParseSuggestions extracts suggestions from model output. A line starting
// with any marker opens a suggestion; subsequent non-empty lines without a
// marker are joined onto it with single spaces. Text before the first marker
// is discarded. Total: any input yields a (possibly empty) list.
func ParseSuggestions(content string, markers []string) []string {
	suggestions := []string{}
	current := ""
	active := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		marker := matchMarker(line, markers)
		switch {
		case marker != "":
			if active && current != "" {
				suggestions = append(suggestions, current)
			}
			current = strings.TrimSpace(strings.TrimPrefix(line, marker))
			active = true
		case active && line != "":
			if current != "" {
				current += " "
			}
			current += line
		}
	}
	if active && current != "" {
		suggestions = append(suggestions, current)
	}
	return suggestions
}

func matchMarker(line string, markers []string) string {
	for _, m := range markers {
		if strings.HasPrefix(line, m) {
			return m
		}
	}
	return ""
}
