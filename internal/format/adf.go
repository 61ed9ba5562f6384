package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxADFRawChars caps passthrough text inside Jira comments.
const maxADFRawChars = 20000

type node = map[string]any

func text(s string, marks ...string) node {
	n := node{"type": "text", "text": s}
	if len(marks) > 0 {
		ms := make([]any, len(marks))
		for i, m := range marks {
			ms[i] = node{"type": m}
		}
		n["marks"] = ms
	}
	return n
}

func paragraph(children ...node) node {
	return node{"type": "paragraph", "content": toAny(children)}
}

func heading(level int, s string) node {
	return node{"type": "heading", "attrs": node{"level": level}, "content": []any{text(s)}}
}

func list(kind string, items []string) node {
	content := make([]any, 0, len(items))
	for _, item := range items {
		content = append(content, node{"type": "listItem", "content": []any{paragraph(text(item))}})
	}
	return node{"type": kind, "content": content}
}

func panel(panelType string, children ...node) node {
	return node{"type": "panel", "attrs": node{"panelType": panelType}, "content": toAny(children)}
}

func toAny(nodes []node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

// ADF renders r as an Atlassian document for Jira comments.
func (f *Formatter) ADF(r Report) map[string]any {
	a := r.Analysis
	var content []node

	content = append(content, heading(2, f.brand+" test recipe"))

	if r.NeedsReview() {
		content = append(content, panel("warning",
			paragraph(text(NeedsReviewLabel+": ", "strong"), text(f.bannerText(r)))))
	}
	if a.RiskSummary != "" {
		content = append(content, paragraph(text("Risk summary: ", "strong"), text(a.RiskSummary)))
	}
	if a.Score != "" {
		content = append(content, paragraph(text("Risk score: ", "strong"), text(a.Score)))
	}
	if r.Focus != "" {
		content = append(content, paragraph(text("Focus: ", "strong"), text(r.Focus)))
	}

	label := fmt.Sprintf("Revisions analyzed (%d)", len(r.Revisions))
	if len(r.Revisions) == 0 {
		content = append(content, paragraph(text(label, "strong"), text(": no new revisions since the last analysis.")))
	} else {
		items := make([]string, len(r.Revisions))
		for i, rev := range r.Revisions {
			items[i] = rev.ShortID() + " " + revisionSubject(rev)
		}
		content = append(content, paragraph(text(label, "strong")), list("bulletList", items))
	}

	if len(a.Risks) > 0 {
		content = append(content, heading(3, "Risks"), list("bulletList", a.Risks))
	}

	if len(a.TestScenarios) > 0 {
		content = append(content, heading(3, "Test scenarios"))
		for i, sc := range a.TestScenarios {
			content = append(content, heading(4, fmt.Sprintf("%d. %s", i+1, sc.Name)),
				paragraph(text("Priority: ", "strong"), text(string(sc.Priority), "code")))
			if len(sc.Steps) > 0 {
				content = append(content, list("orderedList", sc.Steps))
			}
			if sc.ExpectedResult != "" {
				content = append(content, paragraph(text("Expected: ", "strong"), text(sc.ExpectedResult)))
			}
			if sc.AutomationHint != "" {
				content = append(content, paragraph(text("Automation: ", "em"), text(sc.AutomationHint)))
			}
		}
	}

	if raw := strings.TrimSpace(a.RawMarkdown); raw != "" {
		if len(raw) > maxADFRawChars {
			limit := maxADFRawChars
			for limit > 0 && !utf8.RuneStart(raw[limit]) {
				limit--
			}
			raw = raw[:limit] + "\n[truncated]"
		}
		for _, para := range strings.Split(raw, "\n\n") {
			if para = strings.TrimSpace(para); para != "" {
				content = append(content, paragraph(text(para)))
			}
		}
	}

	if len(r.Warnings) > 0 {
		content = append(content, paragraph(text("Warnings", "strong")), list("bulletList", r.Warnings))
	}

	content = append(content, node{"type": "rule"}, paragraph(text(f.footerText(r), "em")))

	return node{"type": "doc", "version": 1, "content": toAny(content)}
}
