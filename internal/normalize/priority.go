package normalize

import (
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

var priorityAliases = []struct {
	priority coreprocessor.Priority
	words    []string
}{
	{coreprocessor.PriorityCriticalPath, []string{"critical", "blocker", "p0", "must", "high"}},
	{coreprocessor.PriorityRegression, []string{"regression", "existing"}},
	{coreprocessor.PriorityEdgeCase, []string{"edge", "boundary", "corner"}},
	{coreprocessor.PriorityNegative, []string{"negative", "error", "invalid", "failure", "sad"}},
	{coreprocessor.PriorityHappyPath, []string{"happy", "positive", "smoke", "basic", "main"}},
}

// ParsePriority maps free-form priority text onto the closed priority set.
// Unmatched text yields Happy Path and false.
func ParsePriority(s string) (coreprocessor.Priority, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return coreprocessor.PriorityHappyPath, false
	}

	for _, p := range coreprocessor.Priorities {
		if strings.EqualFold(norm, string(p)) || canonicalKey(norm) == canonicalKey(string(p)) {
			return p, true
		}
	}

	for _, alias := range priorityAliases {
		for _, w := range alias.words {
			if strings.Contains(norm, w) {
				return alias.priority, true
			}
		}
	}
	return coreprocessor.PriorityHappyPath, false
}
