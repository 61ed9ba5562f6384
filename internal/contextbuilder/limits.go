package contextbuilder

import (
	"fmt"
	"unicode/utf8"
)

// Limits caps every artifact placed in a payload.
type Limits struct {
	MaxBodyChars int
	MaxDiffChars int
	MaxFiles     int
	MaxFileChars int
	MaxSelectors int
	MaxCommits   int
	FetchFiles   bool
}

// DefaultLimits are used for zero fields.
var DefaultLimits = Limits{
	MaxBodyChars: 8000,
	MaxDiffChars: 60000,
	MaxFiles:     5,
	MaxFileChars: 12000,
	MaxSelectors: 50,
	MaxCommits:   50,
}

func (l Limits) withDefaults() Limits {
	if l.MaxBodyChars <= 0 {
		l.MaxBodyChars = DefaultLimits.MaxBodyChars
	}
	if l.MaxDiffChars <= 0 {
		l.MaxDiffChars = DefaultLimits.MaxDiffChars
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultLimits.MaxFiles
	}
	if l.MaxFileChars <= 0 {
		l.MaxFileChars = DefaultLimits.MaxFileChars
	}
	if l.MaxSelectors <= 0 {
		l.MaxSelectors = DefaultLimits.MaxSelectors
	}
	if l.MaxCommits <= 0 {
		l.MaxCommits = DefaultLimits.MaxCommits
	}
	return l
}

// Truncate caps s at max bytes on a rune boundary and appends a visible marker.
// The second return value reports whether anything was cut.
func Truncate(s string, max int, label string) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n\n[... %s truncated: %d of %d characters shown ...]", label, cut, len(s)), true
}
