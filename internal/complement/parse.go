package complement

import (
	"encoding/json"
	"strings"
)

// maxParsedCategories caps the line-splitting heuristic.
const maxParsedCategories = 5

// parseCategories extracts a category list from free-form model output.
// Attempts, in order: a bare JSON array, the first balanced [...] substring,
// a line-splitting heuristic. Returns ok=false when nothing usable is found.
func parseCategories(content string) ([]string, bool) {
	if cats, ok := parseBareArray(content); ok {
		return cats, true
	}
	if cats, ok := parseEmbeddedArray(content); ok {
		return cats, true
	}
	return parseLines(content)
}

func parseBareArray(content string) ([]string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var cats []string
	if err := json.Unmarshal([]byte(trimmed), &cats); err != nil {
		return nil, false
	}
	return nonEmpty(cats)
}

func parseEmbeddedArray(content string) ([]string, bool) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return nil, false
	}
	var cats []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &cats); err != nil {
		return nil, false
	}
	return nonEmpty(cats)
}

func parseLines(content string) ([]string, bool) {
	var cats []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"'-*, `)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "]") {
			continue
		}
		cats = append(cats, line)
		if len(cats) == maxParsedCategories {
			break
		}
	}
	return nonEmpty(cats)
}

func nonEmpty(cats []string) ([]string, bool) {
	out := cats[:0]
	for _, c := range cats {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
