package structured

import (
	"regexp"
	"slices"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

var (
	jsonFencePattern    = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n?(.*?)```")
	genericFencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")
)

// ExtractJSON pulls the JSON payload out of raw model text. It accepts bare
// JSON, ```json fenced blocks, generic fenced blocks and JSON embedded in
// prose. Candidates that are not valid JSON are run through jsonrepair before
// being rejected. The second return value is false when nothing usable is found.
func ExtractJSON(raw string) (string, bool) {
	candidates := Candidates(raw)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[0], true
}

// Candidates returns every usable JSON payload in raw in order of
// appearance: the whole text, fenced blocks and balanced objects or arrays
// are ranked by where they start, so the first complete structure wins. A
// fence ranks ahead of the spans inside it. Repaired candidates follow the
// valid ones.
func Candidates(raw string) []string {
	text := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if text == "" {
		return nil
	}

	var spans []span
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		spans = append(spans, span{start: 0, text: text})
	}
	for _, pattern := range []*regexp.Regexp{jsonFencePattern, genericFencePattern} {
		for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
			spans = append(spans, span{start: m[0], text: strings.TrimSpace(text[m[2]:m[3]])})
		}
	}
	spans = append(spans, balancedSpans(text)...)
	slices.SortStableFunc(spans, func(a, b span) int { return a.start - b.start })

	found := make([]string, 0, len(spans))
	for _, sp := range spans {
		found = append(found, sp.text)
	}

	seen := make(map[string]struct{}, len(found))
	var valid, repaired []string
	for _, candidate := range found {
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		if gjson.Valid(candidate) && isContainer(candidate) {
			valid = append(valid, candidate)
			continue
		}
		if fixed, ok := repair(candidate); ok {
			repaired = append(repaired, fixed)
		}
	}
	if len(valid) == 0 && len(repaired) == 0 {
		// A truncated object never balances; give the repairer the tail from
		// the first opening bracket.
		if start := strings.IndexAny(text, "{["); start >= 0 {
			if fixed, ok := repair(text[start:]); ok {
				repaired = append(repaired, fixed)
			}
		}
	}
	return append(valid, repaired...)
}

func repair(candidate string) (string, bool) {
	if strings.TrimSpace(candidate) == "" {
		return "", false
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", false
	}
	fixed = strings.TrimSpace(fixed)
	if !gjson.Valid(fixed) || !isContainer(fixed) {
		return "", false
	}
	return fixed, true
}

func isContainer(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

type span struct {
	start int
	text  string
}

// balancedSpans returns the top-level complete objects and arrays in text.
// Brackets inside string literals, including escaped quotes, are ignored.
func balancedSpans(text string) []span {
	var spans []span
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end, ok := matchClose(text, start); ok {
			spans = append(spans, span{start: start, text: text[start : end+1]})
			start = end
		}
	}
	return spans
}

func matchClose(text string, start int) (int, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
