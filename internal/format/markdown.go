package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const truncationNotice = "\n\n> _Output truncated to fit the comment size limit._\n"

// Markdown renders r for GitHub, GitLab and Linear.
func (f *Formatter) Markdown(r Report) string {
	var b strings.Builder
	a := r.Analysis

	fmt.Fprintf(&b, "## %s test recipe\n\n", f.brand)

	if r.NeedsReview() {
		fmt.Fprintf(&b, "> [!WARNING]\n> **%s**: %s\n\n", NeedsReviewLabel, f.bannerText(r))
	}

	if a.RiskSummary != "" {
		fmt.Fprintf(&b, "**Risk summary:** %s\n\n", a.RiskSummary)
	}
	if a.Score != "" {
		fmt.Fprintf(&b, "**Risk score:** %s\n\n", a.Score)
	}
	if r.Focus != "" {
		fmt.Fprintf(&b, "**Focus:** %s\n\n", r.Focus)
	}

	writeRevisions(&b, r)

	if len(a.Risks) > 0 {
		b.WriteString("### Risks\n\n")
		for _, risk := range a.Risks {
			fmt.Fprintf(&b, "- %s\n", risk)
		}
		b.WriteString("\n")
	}

	if len(a.TestScenarios) > 0 {
		b.WriteString("### Test scenarios\n\n")
		for i, sc := range a.TestScenarios {
			fmt.Fprintf(&b, "#### %d. %s `%s`\n\n", i+1, sc.Name, sc.Priority)
			for j, step := range sc.Steps {
				fmt.Fprintf(&b, "%d. %s\n", j+1, step)
			}
			if len(sc.Steps) > 0 {
				b.WriteString("\n")
			}
			if sc.ExpectedResult != "" {
				fmt.Fprintf(&b, "**Expected:** %s\n\n", sc.ExpectedResult)
			}
			if sc.AutomationHint != "" {
				fmt.Fprintf(&b, "_Automation:_ %s\n\n", sc.AutomationHint)
			}
		}
	}

	if a.RawMarkdown != "" {
		b.WriteString(a.RawMarkdown)
		b.WriteString("\n\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("<details><summary>Warnings</summary>\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n</details>\n\n")
	}

	footer := fmt.Sprintf("---\n<sub>%s</sub>\n", f.footerText(r))
	return capMarkdown(b.String(), footer, f.maxLen)
}

func writeRevisions(b *strings.Builder, r Report) {
	label := fmt.Sprintf("Revisions analyzed (%d)", len(r.Revisions))
	if len(r.Revisions) == 0 {
		fmt.Fprintf(b, "**%s**: no new revisions since the last analysis.\n\n", label)
		return
	}
	if r.FirstAnalysis {
		label += ", first analysis"
	}
	fmt.Fprintf(b, "<details><summary>%s</summary>\n\n", label)
	for _, rev := range r.Revisions {
		if rev.URL != "" {
			fmt.Fprintf(b, "- [`%s`](%s) %s\n", rev.ShortID(), rev.URL, revisionSubject(rev))
		} else {
			fmt.Fprintf(b, "- `%s` %s\n", rev.ShortID(), revisionSubject(rev))
		}
	}
	b.WriteString("\n</details>\n\n")
}

// capMarkdown keeps body+footer within max, cutting the body on a rune
// boundary. The footer always survives.
func capMarkdown(body, footer string, max int) string {
	if len(body)+len(footer) <= max {
		return body + footer
	}
	limit := max - len(footer) - len(truncationNotice)
	if limit < 0 {
		limit = 0
	}
	for limit > 0 && !utf8.RuneStart(body[limit]) {
		limit--
	}
	return body[:limit] + truncationNotice + footer
}
