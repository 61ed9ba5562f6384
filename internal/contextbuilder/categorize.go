package contextbuilder

import (
	"regexp"
	"strings"
	"unicode/utf8"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Change kinds produced by Categorize.
const (
	KindAdded   = "added"
	KindRemoved = "removed"
	KindFixed   = "fixed"
	KindChanged = "changed"
)

type verbPattern struct {
	kind string
	re   *regexp.Regexp
}

var verbPatterns = []verbPattern{
	{KindAdded, regexp.MustCompile(`(?i)\b(?:add(?:s|ed|ing)?|introduc(?:e|es|ed|ing)|implement(?:s|ed|ing)?|creat(?:e|es|ed|ing)|support(?:s|ed)?)\b\s+(.+)`)},
	{KindRemoved, regexp.MustCompile(`(?i)\b(?:remov(?:e|es|ed|ing)|delet(?:e|es|ed|ing)|drop(?:s|ped|ping)?|deprecat(?:e|es|ed|ing))\b\s+(.+)`)},
	{KindFixed, regexp.MustCompile(`(?i)\b(?:fix(?:es|ed|ing)?|resolv(?:e|es|ed|ing)|correct(?:s|ed|ing)?|repair(?:s|ed|ing)?|patch(?:es|ed)?)\b\s+(.+)`)},
	{KindChanged, regexp.MustCompile(`(?i)\b(?:updat(?:e|es|ed|ing)|chang(?:e|es|ed|ing)|refactor(?:s|ed|ing)?|improv(?:e|es|ed|ing)|renam(?:e|es|ed|ing)|mov(?:e|es|ed|ing)|bump(?:s|ed)?|upgrad(?:e|es|ed|ing)|modif(?:y|ies|ied))\b\s+(.+)`)},
}

var conventionalPrefix = regexp.MustCompile(`(?i)^(feat|fix|refactor|perf|style|revert|chore|docs|test|build|ci)(?:\([^)]*\))?!?:\s*(.+)`)

var conventionalKinds = map[string]string{
	"feat":     KindAdded,
	"fix":      KindFixed,
	"refactor": KindChanged,
	"perf":     KindChanged,
	"style":    KindChanged,
	"revert":   KindRemoved,
}

var userFacingPattern = regexp.MustCompile(`(?i)\b(ui|ux|button|page|screen|form|modal|dialog|view|layout|style|css|label|link|menu|navbar|sidebar|tooltip|banner|checkout|login|signup|onboarding|dashboard|component|input|dropdown|toast|copy|text)s?\b`)

const maxDescriptionLen = 80

// Categorize derives change categories from a commit message subject.
func Categorize(message string) []coreprocessor.ChangeCategory {
	subject := strings.TrimSpace(strings.SplitN(message, "\n", 2)[0])
	if subject == "" {
		return nil
	}

	userFacing := userFacingPattern.MatchString(subject)
	var out []coreprocessor.ChangeCategory
	seen := map[string]bool{}

	if m := conventionalPrefix.FindStringSubmatch(subject); m != nil {
		if kind, ok := conventionalKinds[strings.ToLower(m[1])]; ok {
			seen[kind] = true
			out = append(out, coreprocessor.ChangeCategory{
				Kind:        kind,
				Description: describe(m[2]),
				UserFacing:  userFacing,
			})
		}
		subject = m[2]
	}

	for _, vp := range verbPatterns {
		if seen[vp.kind] {
			continue
		}
		m := vp.re.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		seen[vp.kind] = true
		out = append(out, coreprocessor.ChangeCategory{
			Kind:        vp.kind,
			Description: describe(m[1]),
			UserFacing:  userFacing,
		})
	}
	return out
}

// describe keeps the object of the verb up to the first clause break.
func describe(object string) string {
	object = strings.TrimSpace(object)
	if i := strings.IndexAny(object, ".;("); i > 0 {
		object = strings.TrimSpace(object[:i])
	}
	if len(object) <= maxDescriptionLen {
		return object
	}
	limit := maxDescriptionLen
	for limit > 0 && !utf8.RuneStart(object[limit]) {
		limit--
	}
	cut := object[:limit]
	if i := strings.LastIndex(cut, " "); i > maxDescriptionLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
