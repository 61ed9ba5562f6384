package llm

import (
	"context"
	"fmt"
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// DefaultStrategy builds a deterministic, generic analysis from the payload
// alone. It is the last link of every chain.
type DefaultStrategy struct{}

func (DefaultStrategy) Name() string { return coreprocessor.ProvenanceDefault }

func (d *DefaultStrategy) Generate(_ context.Context, payload coreprocessor.Payload) (any, error) {
	return d.analysis(payload), nil
}

func (d *DefaultStrategy) analysis(payload coreprocessor.Payload) map[string]any {
	subject := strings.TrimSpace(payload.Title)
	if subject == "" {
		subject = payload.TargetID
	}

	var userFacing []string
	for _, c := range payload.Commits {
		for _, cat := range c.Categories {
			if cat.UserFacing && cat.Description != "" {
				userFacing = append(userFacing, cat.Kind+" "+cat.Description)
			}
		}
	}

	risks := []any{
		"Automated analysis was unavailable; the scenarios below are generic and need manual review.",
	}
	if len(payload.Commits) > 0 {
		risks = append(risks, fmt.Sprintf("%d revision(s) changed since the last analysis.", len(payload.Commits)))
	}
	for i, uf := range userFacing {
		if i == 3 {
			break
		}
		risks = append(risks, "User-facing change: "+uf)
	}

	focus := "the changed functionality"
	if payload.Focus != "" {
		focus = payload.Focus
	}

	scenarios := []any{
		map[string]any{
			"name":     "Primary flow works end to end",
			"priority": string(coreprocessor.PriorityCriticalPath),
			"steps": []any{
				"Open the area affected by " + subject,
				"Exercise " + focus + " with typical input",
				"Complete the flow",
			},
			"expectedResult": "The flow completes without errors and shows the expected outcome.",
		},
		map[string]any{
			"name":     "Invalid input is rejected",
			"priority": string(coreprocessor.PriorityNegative),
			"steps": []any{
				"Open the area affected by " + subject,
				"Submit empty or malformed input to " + focus,
			},
			"expectedResult": "A clear validation message is shown and no data is changed.",
		},
		map[string]any{
			"name":     "Existing behavior is unchanged",
			"priority": string(coreprocessor.PriorityRegression),
			"steps": []any{
				"Repeat the most common workflow that touches " + focus,
				"Compare the result with the previous release",
			},
			"expectedResult": "Behavior matches the previous release.",
		},
	}
	if len(payload.SelectorHints) > 0 {
		scenarios[0].(map[string]any)["automationHint"] = "Candidate selectors: " + strings.Join(first(payload.SelectorHints, 5), ", ")
	}

	return map[string]any{
		"riskSummary":   fmt.Sprintf("Generic test plan for %s.", subject),
		"score":         "unknown",
		"risks":         risks,
		"testScenarios": scenarios,
	}
}

func first(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
