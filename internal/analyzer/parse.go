package analyzer

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON finds the JSON object in a model response and returns it in
// compact form. It tries the whole response, then a fenced code block, then
// the span from the first '{' to the last '}'.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	candidates := []string{content}
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		candidates = append(candidates, content[start:end+1])
	}

	for _, c := range candidates {
		if s, ok := compactObject(c); ok {
			return s, nil
		}
	}
	return "", ErrNoJSON
}

// compactObject reports whether s is a JSON object and returns it compacted.
func compactObject(s string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", false
	}
	return buf.String(), true
}
