package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// textKeys are preferred, in order, when a map has to become a single string.
var textKeys = []string{"text", "description", "content", "value", "name", "title", "step", "action"}

// ToText coerces any decoded value to a string. It never fails.
func ToText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, "; ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := ToText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		for _, k := range textKeys {
			if s := ToText(lookup(t, k)); s != "" {
				return s
			}
		}
		keys := sortedKeys(t)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := ToText(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprint(t)
	}
}

var (
	ordinalPattern      = regexp.MustCompile(`(?i)^\s*(?:step\s*\d+\s*[:.)\-]?\s*|\(?\d{1,3}\s*[.):](?:\s+|$)|\(\d{1,3}\)\s*|[-*•+]\s+)`)
	inlineNumberedSplit = regexp.MustCompile(`(?:^|\s)\(?\d+[.)]\s+`)
)

// StripOrdinal removes list numbering, bullets and "Step N:" prefixes.
// Applying it twice gives the same result as applying it once.
func StripOrdinal(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := strings.TrimSpace(ordinalPattern.ReplaceAllString(s, ""))
		if stripped == s {
			return s
		}
		s = stripped
	}
}

// SplitSteps turns a steps value into a list. Strategies are tried in order
// (array, newline, numbered list, sentence) and the first one producing more
// than one item wins.
func SplitSteps(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return cleanSteps(t)
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return cleanSteps(items)
	case string:
		return splitStepString(t)
	default:
		return splitStepString(ToText(t))
	}
}

func splitStepString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if strings.HasPrefix(s, "[") {
		if repaired, _, err := RepairJSON(s); err == nil {
			var arr []any
			if json.Unmarshal([]byte(repaired), &arr) == nil {
				if steps := cleanSteps(arr); len(steps) > 1 {
					return steps
				}
			}
		}
	}

	if steps := stripAll(strings.Split(s, "\n")); len(steps) > 1 {
		return steps
	}

	if locs := inlineNumberedSplit.FindAllStringIndex(s, -1); len(locs) > 1 {
		var parts []string
		for i, loc := range locs {
			end := len(s)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			parts = append(parts, s[loc[0]:end])
		}
		if steps := stripAll(parts); len(steps) > 1 {
			return steps
		}
	}

	if steps := stripAll(splitSentences(s)); len(steps) > 1 {
		return steps
	}

	if single := StripOrdinal(s); single != "" {
		return []string{single}
	}
	return nil
}

func cleanSteps(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := StripOrdinal(ToText(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := StripOrdinal(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitSentences splits after ., ! or ? followed by whitespace.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\t' {
				out = append(out, s[start:i+1])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// lookup reads a key ignoring case, underscores, dashes and spaces.
func lookup(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	want := canonicalKey(key)
	for k, v := range m {
		if canonicalKey(k) == want {
			return v
		}
	}
	return nil
}

func lookupAny(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v := lookup(m, k); v != nil {
			return v, true
		}
	}
	return nil, false
}

func canonicalKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
