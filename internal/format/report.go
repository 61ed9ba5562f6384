// Package format renders analyses as platform-native comments.
package format

import (
	coreprocessor "github.com/recipebot/internal/core_processor"
)

// MaxCommentLen is the cap applied to rendered markdown comments.
// GitHub rejects bodies above ~65536 characters.
const MaxCommentLen = 60000

// NeedsReviewLabel heads the banner shown on degraded analyses.
const NeedsReviewLabel = "Needs Manual Review"

// Report is everything a rendered comment shows.
type Report struct {
	Analysis      coreprocessor.CanonicalAnalysis
	Revisions     []coreprocessor.Revision
	Target        coreprocessor.Target
	Provenance    string
	Warnings      []string
	RequestedBy   string
	FirstAnalysis bool
	Focus         string
}

// NeedsReview reports whether the banner is shown.
func (r Report) NeedsReview() bool {
	return r.Analysis.Degraded || r.Provenance != coreprocessor.ProvenanceRemote
}

// Formatter renders reports with a fixed brand and signature phrase.
type Formatter struct {
	brand     string
	signature string
	maxLen    int
}

// New creates a formatter. The signature phrase is what the loop guard
// later recognizes as the product's own comment.
func New(brand, signature string, maxLen int) *Formatter {
	if maxLen <= 0 || maxLen > MaxCommentLen {
		maxLen = MaxCommentLen
	}
	return &Formatter{brand: brand, signature: signature, maxLen: maxLen}
}

// Render produces the document for the target platform.
func (f *Formatter) Render(r Report) coreprocessor.Document {
	if r.Target.Platform == coreprocessor.PlatformJira {
		return coreprocessor.Document{ADF: f.ADF(r), Markdown: f.Markdown(r)}
	}
	return coreprocessor.Document{Markdown: f.Markdown(r)}
}

func (f *Formatter) bannerText(r Report) string {
	switch {
	case r.Provenance == coreprocessor.ProvenanceDefault:
		return "the reasoning service was unavailable, so this is a generic plan. Review and adapt it before use."
	case r.Provenance == coreprocessor.ProvenanceLocal:
		return "this plan was produced by the local fallback model. Check it before relying on it."
	default:
		return "the response could not be fully interpreted. Check the content below before relying on it."
	}
}

func (f *Formatter) footerText(r Report) string {
	text := f.signature
	if r.RequestedBy != "" {
		text += " for @" + r.RequestedBy
	}
	if r.Provenance != "" {
		text += " (source: " + r.Provenance + ")"
	}
	return text
}

func revisionSubject(rev coreprocessor.Revision) string {
	for i := 0; i < len(rev.Message); i++ {
		if rev.Message[i] == '\n' {
			return rev.Message[:i]
		}
	}
	return rev.Message
}
