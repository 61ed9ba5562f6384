package llm

import (
	"fmt"
	"sort"
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

const promptPreamble = `You are a QA engineer. Write a test plan for the change below.
Answer with a single JSON object and nothing else, using exactly this shape:
{"riskSummary": string, "score": "low"|"medium"|"high", "risks": [string],
 "testScenarios": [{"name": string, "priority": "Critical Path"|"Happy Path"|"Regression"|"Edge Case"|"Negative",
   "steps": [string], "expectedResult": string, "automationHint": string}]}
`

// BuildPrompt renders a payload into a single prompt for a local model.
func BuildPrompt(payload coreprocessor.Payload) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)

	if payload.MaxScenarios > 0 {
		fmt.Fprintf(&sb, "Return at most %d scenarios.\n", payload.MaxScenarios)
	}
	if payload.Focus != "" {
		fmt.Fprintf(&sb, "Focus the plan on: %s\n", payload.Focus)
	}

	fmt.Fprintf(&sb, "\n## %s\n", payload.Title)
	if payload.Body != "" {
		sb.WriteString(payload.Body)
		sb.WriteString("\n")
	}

	if len(payload.Commits) > 0 {
		sb.WriteString("\n## Revisions\n")
		for _, c := range payload.Commits {
			subject, _, _ := strings.Cut(c.Message, "\n")
			fmt.Fprintf(&sb, "- %s %s\n", shortID(c.ID), subject)
		}
	}

	if len(payload.SelectorHints) > 0 {
		sb.WriteString("\n## Selectors\n")
		sb.WriteString(strings.Join(payload.SelectorHints, ", "))
		sb.WriteString("\n")
	}

	if payload.Diff != "" {
		sb.WriteString("\n## Diff\n```diff\n")
		sb.WriteString(payload.Diff)
		sb.WriteString("\n```\n")
	}

	paths := make([]string, 0, len(payload.FileContents))
	for p := range payload.FileContents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&sb, "\n## File %s\n```\n%s\n```\n", p, payload.FileContents[p])
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
