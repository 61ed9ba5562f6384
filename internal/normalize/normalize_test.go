package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNormalize_StructuredKnown(t *testing.T) {
	data := decode(t, `{
		"risk_summary": "Checkout flow changed",
		"score": 7,
		"risks": ["1. Payment may double-submit", "- Missing validation"],
		"test_scenarios": [
			{"title": "Pay with card", "priority": "critical", "steps": "1. Open cart\n2. Pay", "expected": "Order confirmed"},
			{"name": "Empty cart", "priority": "urgent", "steps": ["Step 1: Open cart", "Step 2: Click pay"], "expectedResult": "Button disabled"},
			{}
		]
	}`)

	got, diag := Normalize(data)

	want := coreprocessor.CanonicalAnalysis{
		RiskSummary: "Checkout flow changed",
		Score:       "7",
		Risks:       []string{"Payment may double-submit", "Missing validation"},
		TestScenarios: []coreprocessor.TestScenario{
			{Name: "Pay with card", Priority: coreprocessor.PriorityCriticalPath, Steps: []string{"Open cart", "Pay"}, ExpectedResult: "Order confirmed"},
			{Name: "Empty cart", Priority: coreprocessor.PriorityHappyPath, Steps: []string{"Open cart", "Click pay"}, ExpectedResult: "Button disabled"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ShapeStructuredKnown, diag.Shape)
	assert.False(t, diag.Fallback)
	assert.Contains(t, diag.Notes, `scenario 2: priority "urgent" defaulted to Happy Path`)
	assert.Contains(t, diag.Notes, "scenario 3 was empty and dropped")
}

func TestNormalize_RepairsJSONString(t *testing.T) {
	raw := "```json\n{\"riskSummary\": \"Login changed\", \"testScenarios\": [{\"name\": \"Login\", \"steps\": [\"Open\", \"Submit\",],}]\n```"

	got, diag := Normalize(raw)

	assert.Equal(t, ShapeStructuredKnown, diag.Shape)
	assert.True(t, diag.Repaired)
	assert.Equal(t, "Login changed", got.RiskSummary)
	require.Len(t, got.TestScenarios, 1)
	assert.Equal(t, []string{"Open", "Submit"}, got.TestScenarios[0].Steps)
}

func TestNormalize_UnwrapsEnvelope(t *testing.T) {
	got, diag := Normalize(decode(t, `{"success": true, "data": {"summary": "ok", "scenarios": []}}`))
	assert.Equal(t, ShapeStructuredKnown, diag.Shape)
	assert.Equal(t, "ok", got.RiskSummary)
}

func TestNormalize_ScenarioArray(t *testing.T) {
	got, diag := Normalize(decode(t, `[{"name": "A", "steps": "Open the app. Click login."}]`))
	assert.Equal(t, ShapeStructuredKnown, diag.Shape)
	require.Len(t, got.TestScenarios, 1)
	assert.Equal(t, []string{"Open the app.", "Click login."}, got.TestScenarios[0].Steps)
	assert.Equal(t, "1 test scenario(s) generated.", got.RiskSummary)
}

func TestNormalize_Markdown(t *testing.T) {
	md := "## Risk\n\n**Checkout** changed significantly.\n\n- step one"
	got, diag := Normalize(md)

	assert.Equal(t, ShapeMarkdown, diag.Shape)
	assert.Equal(t, md, got.RawMarkdown)
	assert.Equal(t, "Checkout changed significantly.", got.RiskSummary)
	assert.False(t, got.Degraded)
}

func TestNormalize_MarkdownEnvelope(t *testing.T) {
	got, diag := Normalize(map[string]any{"markdown": "# Plan\nDo things"})
	assert.Equal(t, ShapeMarkdown, diag.Shape)
	assert.Equal(t, "# Plan\nDo things", got.RawMarkdown)
}

func TestNormalize_PlainText(t *testing.T) {
	got, diag := Normalize("I am unable to analyze this change right now.")

	assert.Equal(t, ShapePlainText, diag.Shape)
	assert.True(t, got.Degraded)
	assert.Empty(t, got.RawMarkdown)
	assert.Equal(t, plainTextSummary, got.RiskSummary)
	want := []coreprocessor.TestScenario{{
		Name:     "Manual review",
		Priority: coreprocessor.PriorityHappyPath,
		Steps:    []string{"I am unable to analyze this change right now."},
	}}
	if diff := cmp.Diff(want, got.TestScenarios); diff != "" {
		t.Errorf("scenarios mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_ListsWithoutHeadersAreNotTrusted(t *testing.T) {
	tests := []struct {
		in        string
		wantSteps []string
	}{
		{"- looks fine", []string{"looks fine"}},
		{"1. Do X\n2. Do Y", []string{"Do X", "Do Y"}},
		{"**Bold** claim only", []string{"**Bold** claim only"}},
	}
	for _, tt := range tests {
		got, diag := Normalize(tt.in)
		assert.Equal(t, ShapePlainText, diag.Shape, tt.in)
		assert.True(t, got.Degraded, tt.in)
		require.Len(t, got.TestScenarios, 1, tt.in)
		assert.Equal(t, tt.wantSteps, got.TestScenarios[0].Steps, tt.in)
	}
}

func TestNormalize_MarkdownEnvelopeWithoutHeader(t *testing.T) {
	got, diag := Normalize(map[string]any{"markdown": "just some words"})
	assert.Equal(t, ShapePlainText, diag.Shape)
	assert.True(t, got.Degraded)
	require.Len(t, got.TestScenarios, 1)
}

func TestTruncateSummary_RuneBoundary(t *testing.T) {
	s := "a" + strings.Repeat("é", maxSummaryLen)
	got := truncateSummary(s)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestNormalize_StructuredUnknown(t *testing.T) {
	got, diag := Normalize(map[string]any{"foo": "bar", "zap": []any{"x", "y"}})

	assert.Equal(t, ShapeStructuredUnknown, diag.Shape)
	assert.True(t, got.Degraded)
	assert.Equal(t, []string{"foo", "zap"}, diag.RawKeys)
	assert.Equal(t, "- **foo**: bar\n- **zap**: x; y", got.RawMarkdown)
}

func TestNormalize_EmptyFallsBack(t *testing.T) {
	for _, in := range []any{nil, "", "   ", map[string]any{}} {
		got, diag := Normalize(in)
		assert.True(t, got.Degraded, "%v", in)
		assert.True(t, diag.Fallback, "%v", in)
		assert.Equal(t, fallbackSummary, got.RiskSummary)
	}
}

type panicky struct{}

func (panicky) String() string { panic("stringer exploded") }

func TestNormalize_NeverPanics(t *testing.T) {
	inputs := []any{
		panicky{},
		map[string]any{"riskSummary": panicky{}},
		map[string]any{"testScenarios": []any{map[string]any{"name": panicky{}}}},
		[]any{nil, 1.5, true},
		errors.New("boom"),
		make(chan int),
		json.RawMessage(`{"summary":"raw"}`),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			got, _ := Normalize(in)
			assert.NotEmpty(t, got.RiskSummary+got.RawMarkdown)
		})
	}
}

func TestNormalize_FaultListsRawKeys(t *testing.T) {
	got, diag := Normalize(map[string]any{"riskSummary": panicky{}, "other": 1.0})
	assert.True(t, got.Degraded)
	assert.True(t, diag.Fallback)
	assert.Equal(t, []string{"other", "riskSummary"}, diag.RawKeys)
}

func TestSplitSteps(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"newline numbered", "1. Do X\n2. Do Y", []string{"Do X", "Do Y"}},
		{"inline numbered", "1. Do X 2. Do Y 3. Do Z", []string{"Do X", "Do Y", "Do Z"}},
		{"array", []any{"1) Open", map[string]any{"action": "Click"}}, []string{"Open", "Click"}},
		{"json array string", `["Open", "Close"]`, []string{"Open", "Close"}},
		{"sentences", "Open the app. Log in! Check?", []string{"Open the app.", "Log in!", "Check?"}},
		{"bullets", "- Open\n* Close\n• Done", []string{"Open", "Close", "Done"}},
		{"single", "Step 1: Just one", []string{"Just one"}},
		{"decimal kept", "Wait 1.5 seconds", []string{"Wait 1.5 seconds"}},
		{"empty", "  ", nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSteps(tt.in))
		})
	}
}

func TestStripOrdinal_Idempotent(t *testing.T) {
	for _, s := range []string{"1. 2. Open", "Step 3: (4) Click", "- * item", "2024-01-01 release", "plain"} {
		once := StripOrdinal(s)
		assert.Equal(t, once, StripOrdinal(once), s)
	}
	assert.Equal(t, "Open", StripOrdinal("1. 2. Open"))
	assert.Equal(t, "2024-01-01 release", StripOrdinal("2024-01-01 release"))
}

func TestStripOrdinal_KeepsRanges(t *testing.T) {
	assert.Equal(t, "10 - 20 users log in at once", StripOrdinal("10 - 20 users log in at once"))
	assert.Equal(t, "5 - 10 items", StripOrdinal("3. 5 - 10 items"))
	assert.Equal(t, "Retry", StripOrdinal("Step 2 - Retry"))
}

func TestParsePriority(t *testing.T) {
	tests := map[string]coreprocessor.Priority{
		"Critical Path": coreprocessor.PriorityCriticalPath,
		"critical_path": coreprocessor.PriorityCriticalPath,
		"HIGH":          coreprocessor.PriorityCriticalPath,
		"edge-case":     coreprocessor.PriorityEdgeCase,
		"regression":    coreprocessor.PriorityRegression,
		"Negative":      coreprocessor.PriorityNegative,
		"happy path":    coreprocessor.PriorityHappyPath,
	}
	for in, want := range tests {
		got, ok := ParsePriority(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := ParsePriority("whenever")
	assert.False(t, ok)
	assert.Equal(t, coreprocessor.PriorityHappyPath, got)
}

func TestToText(t *testing.T) {
	assert.Equal(t, "", ToText(nil))
	assert.Equal(t, "3", ToText(3.0))
	assert.Equal(t, "true", ToText(true))
	assert.Equal(t, "a; b", ToText([]any{"a", nil, "b"}))
	assert.Equal(t, "desc", ToText(map[string]any{"description": "desc", "z": 1.0}))
	assert.Equal(t, "a: 1; b: x", ToText(map[string]any{"b": "x", "a": 1.0}))
	assert.Equal(t, "boom", ToText(errors.New("boom")))
}

func TestRepairJSON(t *testing.T) {
	out, stats, err := RepairJSON(`{"a": [1, 2,], "b": "x, ]",}`)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.JSONEq(t, `{"a": [1, 2], "b": "x, ]"}`, out)

	out, _, err = RepairJSON(`{"a": {"b": "unterminated`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"b": "unterminated"}}`, out)

	out, stats, err = RepairJSON(`{"valid": true}`)
	require.NoError(t, err)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, `{"valid": true}`, out)
}
