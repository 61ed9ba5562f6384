package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Shape is the detected form of a reasoning response.
type Shape string

const (
	ShapeMarkdown          Shape = "markdown_passthrough"
	ShapeStructuredKnown   Shape = "structured_known"
	ShapeStructuredUnknown Shape = "structured_unknown"
	ShapePlainText         Shape = "plain_text"
)

var (
	summaryKeys    = []string{"riskSummary", "summary", "overview", "riskAssessment", "assessment"}
	scoreKeys      = []string{"score", "riskScore", "riskLevel", "risk"}
	risksKeys      = []string{"risks", "keyRisks", "riskAreas", "concerns"}
	scenarioKeys   = []string{"testScenarios", "scenarios", "testCases", "tests", "recipes", "testRecipes", "testPlan"}
	markdownKeys   = []string{"markdown", "report", "comment", "body"}
	wrapperKeys    = []string{"data", "result", "analysis", "response", "output"}
	// Only documents with a recognized section header are trusted as markdown.
	markdownHeader = regexp.MustCompile(`(?im)^\s{0,3}#{1,6}\s*(?:\d+[.)]\s*)?(?:test\s+)?(?:risks?|risk\s+(?:summary|assessment|areas)|summary|overview|scenarios?|cases?|plan|recipes?|steps|expected\s+results?)\b`)
)

const maxUnwrapDepth = 4

// Probe classifies data and returns the value to interpret for that shape.
// JSON-looking strings are repaired and probed again.
func Probe(data any) (Shape, any, bool) {
	repaired := false
	for depth := 0; depth <= maxUnwrapDepth; depth++ {
		switch v := data.(type) {
		case json.RawMessage:
			data = string(v)
			continue
		case []byte:
			data = string(v)
			continue
		case string:
			s := strings.TrimSpace(v)
			if LooksLikeJSON(s) {
				if fixed, stats, err := RepairJSON(s); err == nil {
					var decoded any
					if json.Unmarshal([]byte(fixed), &decoded) == nil {
						repaired = repaired || stats.WasRepaired
						data = decoded
						continue
					}
				}
			}
			if markdownHeader.MatchString(s) {
				return ShapeMarkdown, s, repaired
			}
			return ShapePlainText, s, repaired
		case map[string]any:
			if inner, ok := unwrap(v); ok {
				data = inner
				continue
			}
			if hasAny(v, summaryKeys, risksKeys, scenarioKeys) {
				return ShapeStructuredKnown, v, repaired
			}
			if md, ok := lookupAny(v, markdownKeys...); ok && len(v) <= 2 {
				if s, ok := md.(string); ok && strings.TrimSpace(s) != "" {
					data = s
					continue
				}
			}
			return ShapeStructuredUnknown, v, repaired
		case []any:
			if looksLikeScenarioList(v) {
				return ShapeStructuredKnown, map[string]any{"testScenarios": v}, repaired
			}
			return ShapeStructuredUnknown, map[string]any{"items": v}, repaired
		case nil:
			return ShapePlainText, "", repaired
		default:
			return ShapePlainText, ToText(v), repaired
		}
	}
	return ShapeStructuredUnknown, data, repaired
}

// unwrap descends into single-purpose envelopes like {"data": {...}}.
func unwrap(m map[string]any) (any, bool) {
	if hasAny(m, summaryKeys, risksKeys, scenarioKeys) {
		return nil, false
	}
	for _, k := range wrapperKeys {
		inner := lookup(m, k)
		switch inner.(type) {
		case map[string]any, []any, string:
			if len(m) <= 3 {
				return inner, true
			}
		}
	}
	return nil, false
}

func hasAny(m map[string]any, groups ...[]string) bool {
	for _, keys := range groups {
		if _, ok := lookupAny(m, keys...); ok {
			return true
		}
	}
	return false
}

func looksLikeScenarioList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := lookupAny(m, "name", "title", "scenario", "steps"); !ok {
			return false
		}
	}
	return true
}
