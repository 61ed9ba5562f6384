package contextbuilder

import (
	"regexp"
	"strings"
)

// selectorAttributes are scanned in this order.
var selectorAttributes = []string{"data-testid", "data-test", "data-cy", "id", "aria-label", "name"}

var selectorPattern = regexp.MustCompile(
	`(?i)(?:^|[\s<,(])(data-testid|data-test|data-cy|id|aria-label|name)\s*=\s*` +
		`(?:"([^"\n]+)"|'([^'\n]+)'|\{\s*["'` + "`" + `]([^"'` + "`" + `\n]+)["'` + "`" + `]\s*\})`)

// ScanSelectors collects attribute=value pairs useful as UI test selectors.
// Results are deduplicated, ordered by attribute preference, and capped at limit.
func ScanSelectors(content string, limit int) []string {
	byAttr := map[string][]string{}
	seen := map[string]bool{}

	for _, m := range selectorPattern.FindAllStringSubmatch(content, -1) {
		attr := strings.ToLower(m[1])
		value := strings.TrimSpace(firstNonEmpty(m[2], m[3], m[4]))
		if value == "" || strings.ContainsAny(value, "${}") {
			continue
		}
		key := attr + "=" + value
		if seen[key] {
			continue
		}
		seen[key] = true
		byAttr[attr] = append(byAttr[attr], key)
	}

	var out []string
	for _, attr := range selectorAttributes {
		for _, sel := range byAttr[attr] {
			if limit > 0 && len(out) >= limit {
				return out
			}
			out = append(out, sel)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
