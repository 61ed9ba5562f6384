package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats records what RepairJSON had to do.
type RepairStats struct {
	WasRepaired bool     `json:"was_repaired"`
	Strategies  []string `json:"strategies,omitempty"`
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")

// LooksLikeJSON reports whether s is probably a (possibly fenced) JSON document.
func LooksLikeJSON(s string) bool {
	s = unfence(strings.TrimSpace(s))
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// RepairJSON returns valid JSON for s or an error. Strategies run in order:
// code fence removal, trailing commas, bracket completion, then the
// jsonrepair library.
func RepairJSON(s string) (string, RepairStats, error) {
	var stats RepairStats
	repaired := strings.TrimSpace(s)

	if json.Valid([]byte(repaired)) {
		return repaired, stats, nil
	}
	stats.WasRepaired = true

	if unfenced := unfence(repaired); unfenced != repaired {
		repaired = unfenced
		stats.Strategies = append(stats.Strategies, "code_fence")
		if json.Valid([]byte(repaired)) {
			return repaired, stats, nil
		}
	}

	if fixed := removeTrailingCommas(repaired); fixed != repaired {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "trailing_commas")
		if json.Valid([]byte(repaired)) {
			return repaired, stats, nil
		}
	}

	if fixed := completeJSON(repaired); fixed != repaired {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "completion")
		if json.Valid([]byte(repaired)) {
			return repaired, stats, nil
		}
	}

	libraryRepaired, err := jsonrepair.JSONRepair(repaired)
	if err == nil && json.Valid([]byte(libraryRepaired)) {
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		return libraryRepaired, stats, nil
	}

	return repaired, stats, errors.New("json repair failed")
}

func unfence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// removeTrailingCommas drops commas directly before a closing bracket,
// leaving string contents untouched.
func removeTrailingCommas(s string) string {
	var sb strings.Builder
	inString, escaped := false, false
	pendingComma := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
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
			pendingComma = -1
			inString = true
		case ',':
			pendingComma = sb.Len()
		case '}', ']':
			if pendingComma >= 0 {
				out := sb.String()
				sb.Reset()
				sb.WriteString(out[:pendingComma])
				sb.WriteString(out[pendingComma+1:])
			}
			pendingComma = -1
		case ' ', '\t', '\n', '\r':
		default:
			pendingComma = -1
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// completeJSON closes an unterminated string and any open brackets in LIFO order.
func completeJSON(s string) string {
	var stack []byte
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
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
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\n\r,")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
