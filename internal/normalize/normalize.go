// Package normalize turns heterogeneous reasoning responses into a
// CanonicalAnalysis.
package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Diagnostics describes how a response was interpreted.
type Diagnostics struct {
	Shape    Shape    `json:"shape"`
	Repaired bool     `json:"repaired,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
	RawKeys  []string `json:"raw_keys,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

func (d *Diagnostics) notef(format string, args ...any) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}

const (
	fallbackSummary  = "The analysis response could not be interpreted automatically."
	plainTextSummary = "The reasoning service answered in free text; it is kept as one scenario for manual review."
	plainTextName    = "Manual review"
	maxSummaryLen    = 600
)

// Normalize interprets data. It never panics: any fault yields a minimal
// degraded analysis and a diagnostic listing the raw top-level keys.
func Normalize(data any) (analysis coreprocessor.CanonicalAnalysis, diag Diagnostics) {
	defer func() {
		if r := recover(); r != nil {
			analysis = fallbackAnalysis()
			diag = Diagnostics{
				Shape:    diag.Shape,
				Fallback: true,
				RawKeys:  topLevelKeys(data),
				Notes:    []string{fmt.Sprintf("normalization fault: %v", r)},
			}
		}
	}()

	shape, value, repaired := Probe(data)
	diag.Shape = shape
	diag.Repaired = repaired

	switch shape {
	case ShapeStructuredKnown:
		analysis = fromStructured(value.(map[string]any), &diag)
	case ShapeStructuredUnknown:
		analysis = fromUnknown(value, &diag)
	case ShapeMarkdown:
		text := value.(string)
		analysis = coreprocessor.CanonicalAnalysis{
			RiskSummary: summarizeMarkdown(text),
			RawMarkdown: text,
		}
	default:
		text, _ := value.(string)
		analysis = fromPlainText(text, &diag)
	}

	if analysis.RiskSummary == "" && analysis.RawMarkdown == "" && len(analysis.TestScenarios) == 0 && len(analysis.Risks) == 0 {
		keys := topLevelKeys(data)
		analysis = fallbackAnalysis()
		diag.Fallback = true
		diag.RawKeys = keys
		diag.notef("response carried no usable content")
	}
	return analysis, diag
}

func fallbackAnalysis() coreprocessor.CanonicalAnalysis {
	return coreprocessor.CanonicalAnalysis{
		RiskSummary:   fallbackSummary,
		Risks:         []string{},
		TestScenarios: []coreprocessor.TestScenario{},
		Degraded:      true,
	}
}

func fromStructured(m map[string]any, diag *Diagnostics) coreprocessor.CanonicalAnalysis {
	out := coreprocessor.CanonicalAnalysis{Risks: []string{}, TestScenarios: []coreprocessor.TestScenario{}}

	if v, ok := lookupAny(m, summaryKeys...); ok {
		out.RiskSummary = truncateSummary(ToText(v))
	}
	if v, ok := lookupAny(m, scoreKeys...); ok {
		out.Score = ToText(v)
	}
	if v, ok := lookupAny(m, risksKeys...); ok {
		out.Risks = toList(v)
	}

	if v, ok := lookupAny(m, scenarioKeys...); ok {
		items, isList := v.([]any)
		if !isList {
			items = []any{v}
		}
		for i, item := range items {
			sc, ok := toScenario(item, i+1, diag)
			if ok {
				out.TestScenarios = append(out.TestScenarios, sc)
			}
		}
	}

	if out.RiskSummary == "" && len(out.TestScenarios) > 0 {
		out.RiskSummary = fmt.Sprintf("%d test scenario(s) generated.", len(out.TestScenarios))
		diag.notef("risk summary missing")
	}
	return out
}

func toScenario(item any, index int, diag *Diagnostics) (coreprocessor.TestScenario, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		text := ToText(item)
		if text == "" {
			return coreprocessor.TestScenario{}, false
		}
		diag.notef("scenario %d was not an object; used its text as the name", index)
		return coreprocessor.TestScenario{Name: text, Priority: coreprocessor.PriorityHappyPath, Steps: []string{}}, true
	}

	sc := coreprocessor.TestScenario{Steps: []string{}}
	if v, ok := lookupAny(m, "name", "title", "scenario"); ok {
		sc.Name = ToText(v)
	}
	if v, ok := lookupAny(m, "steps", "testSteps", "procedure", "actions"); ok {
		sc.Steps = SplitSteps(v)
		if sc.Steps == nil {
			sc.Steps = []string{}
		}
	}
	if v, ok := lookupAny(m, "expectedResult", "expected", "expectedOutcome", "expectedBehavior", "assertion", "result"); ok {
		sc.ExpectedResult = ToText(v)
	}
	if v, ok := lookupAny(m, "automationHint", "automation", "selectors", "selector", "hint"); ok {
		sc.AutomationHint = ToText(v)
	}

	rawPriority := ""
	if v, ok := lookupAny(m, "priority", "type", "category", "severity"); ok {
		rawPriority = ToText(v)
	}
	priority, matched := ParsePriority(rawPriority)
	if !matched {
		diag.notef("scenario %d: priority %q defaulted to %s", index, rawPriority, coreprocessor.PriorityHappyPath)
	}
	sc.Priority = priority

	if sc.Name == "" {
		if v, ok := lookupAny(m, "description"); ok {
			sc.Name = ToText(v)
		}
	}
	if sc.Name == "" && len(sc.Steps) == 0 && sc.ExpectedResult == "" {
		diag.notef("scenario %d was empty and dropped", index)
		return coreprocessor.TestScenario{}, false
	}
	if sc.Name == "" {
		sc.Name = fmt.Sprintf("Scenario %d", index)
	}
	return sc, true
}

// fromPlainText wraps an unrecognized string as a single degraded scenario.
func fromPlainText(text string, diag *Diagnostics) coreprocessor.CanonicalAnalysis {
	steps := SplitSteps(text)
	if len(steps) == 0 {
		return coreprocessor.CanonicalAnalysis{}
	}
	diag.notef("response was unstructured text")
	return coreprocessor.CanonicalAnalysis{
		RiskSummary: plainTextSummary,
		Risks:       []string{},
		TestScenarios: []coreprocessor.TestScenario{{
			Name:     plainTextName,
			Priority: coreprocessor.PriorityHappyPath,
			Steps:    steps,
		}},
		Degraded: true,
	}
}

func fromUnknown(value any, diag *Diagnostics) coreprocessor.CanonicalAnalysis {
	m, ok := value.(map[string]any)
	if !ok {
		return coreprocessor.CanonicalAnalysis{RawMarkdown: ToText(value), Degraded: true}
	}

	diag.RawKeys = sortedKeys(m)
	diag.notef("unrecognized response fields: %s", strings.Join(diag.RawKeys, ", "))

	var sb strings.Builder
	for _, k := range diag.RawKeys {
		text := ToText(m[k])
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "- **%s**: %s\n", k, text)
	}
	md := strings.TrimSpace(sb.String())
	if md == "" {
		return coreprocessor.CanonicalAnalysis{}
	}
	return coreprocessor.CanonicalAnalysis{
		RiskSummary: "The reasoning service answered in an unrecognized format; its content is shown below.",
		RawMarkdown: md,
		Degraded:    true,
	}
}

func toList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := StripOrdinal(ToText(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		steps := SplitSteps(v)
		if steps == nil {
			return []string{}
		}
		return steps
	}
}

// summarizeMarkdown picks the first prose line of a markdown document.
func summarizeMarkdown(md string) string {
	inFence := false
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence || line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "|") || strings.HasPrefix(line, "---") {
			continue
		}
		line = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
		return truncateSummary(StripOrdinal(line))
	}
	return ""
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxSummaryLen {
		return s
	}
	limit := maxSummaryLen
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]
	if i := strings.LastIndex(cut, " "); i > maxSummaryLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// topLevelKeys lists map keys of the raw value, decoding JSON strings when possible.
func topLevelKeys(data any) (keys []string) {
	defer func() {
		if recover() != nil {
			keys = nil
		}
	}()
	switch v := data.(type) {
	case map[string]any:
		return sortedKeys(v)
	case string:
		if _, decoded, _ := Probe(v); decoded != nil {
			if m, ok := decoded.(map[string]any); ok {
				return sortedKeys(m)
			}
		}
	}
	return nil
}
