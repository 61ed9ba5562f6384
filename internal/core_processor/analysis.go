package core_processor

// Priority is the closed set of scenario priorities.
type Priority string

const (
	PriorityHappyPath    Priority = "Happy Path"
	PriorityCriticalPath Priority = "Critical Path"
	PriorityEdgeCase     Priority = "Edge Case"
	PriorityRegression   Priority = "Regression"
	PriorityNegative     Priority = "Negative"
)

// Priorities lists every valid priority in display order.
var Priorities = []Priority{
	PriorityCriticalPath,
	PriorityHappyPath,
	PriorityRegression,
	PriorityEdgeCase,
	PriorityNegative,
}

// TestScenario is one generated test recipe.
type TestScenario struct {
	Name           string   `json:"name"`
	Priority       Priority `json:"priority"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expectedResult"`
	AutomationHint string   `json:"automationHint,omitempty"`
}

// CanonicalAnalysis is the normalized result of the reasoning step.
// RawMarkdown is set when the service answered with trusted markdown that is
// rendered near-unchanged.
type CanonicalAnalysis struct {
	RiskSummary   string         `json:"riskSummary"`
	Score         string         `json:"score,omitempty"`
	Risks         []string       `json:"risks"`
	TestScenarios []TestScenario `json:"testScenarios"`
	RawMarkdown   string         `json:"rawMarkdown,omitempty"`
	Degraded      bool           `json:"degraded,omitempty"`
}

// Provenance values recorded for an analysis result.
const (
	ProvenanceRemote  = "remote"
	ProvenanceLocal   = "local"
	ProvenanceDefault = "default"
)

// AnalysisResult is what the invoker hands back. Success is always true; the
// provenance tells which strategy produced Data.
type AnalysisResult struct {
	Success    bool     `json:"success"`
	Data       any      `json:"data"`
	Provenance string   `json:"provenance"`
	Attempts   []string `json:"attempts,omitempty"`
}

// Fallback reports whether the result came from anything but the remote service.
func (r AnalysisResult) Fallback() bool {
	return r.Provenance != ProvenanceRemote
}

// ChangeCategory is a heuristic classification derived from a commit message.
type ChangeCategory struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	UserFacing  bool   `json:"userFacing,omitempty"`
}

// CommitInfo is a revision enriched with change categories.
type CommitInfo struct {
	ID         string           `json:"id"`
	Message    string           `json:"message"`
	Author     string           `json:"author,omitempty"`
	Categories []ChangeCategory `json:"categories,omitempty"`
}

// Payload is the size-bounded request sent to the reasoning service.
type Payload struct {
	TargetID      string            `json:"targetId"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Diff          string            `json:"diff"`
	Commits       []CommitInfo      `json:"commits"`
	FileContents  map[string]string `json:"fileContents,omitempty"`
	SelectorHints []string          `json:"selectorHints,omitempty"`
	Focus         string            `json:"focus,omitempty"`
	MaxScenarios  int               `json:"maxScenarios,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	Truncations   []string          `json:"-"`
}
