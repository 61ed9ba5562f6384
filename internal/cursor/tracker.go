// Package cursor tracks which revisions of a target were already analyzed.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// DefaultMaxHistory bounds how many revisions are listed per run.
const DefaultMaxHistory = 100

// minPrefixLen is the shortest abbreviated id accepted as a match.
const minPrefixLen = 7

// Store persists one cursor per (installation, target).
type Store interface {
	// GetCursor returns ErrNotFound when the target was never analyzed.
	GetCursor(ctx context.Context, installationID, target string) (*coreprocessor.RevisionCursor, error)
	// CompareAndSetCursor moves the cursor from expected to next. An empty
	// expected value means no cursor exists yet. ErrCursorConflict is returned
	// when the stored value differs from expected.
	CompareAndSetCursor(ctx context.Context, installationID, target, expected, next string) error
}

// RevisionLister lists revisions newest first.
type RevisionLister interface {
	ListRevisions(ctx context.Context, target coreprocessor.Target, limit int) ([]coreprocessor.Revision, error)
}

// Delta is the set of revisions a run should analyze.
type Delta struct {
	// Revisions are the new revisions, oldest first.
	Revisions []coreprocessor.Revision
	// All is the full bounded history, oldest first.
	All []coreprocessor.Revision
	// Head is the newest listed revision id.
	Head string
	// Previous is the cursor value the delta was computed against.
	Previous string

	FirstAnalysis bool
	Rewritten     bool
	HeadMismatch  bool
	Warnings      []string
}

// Empty reports whether there is nothing new to analyze.
func (d Delta) Empty() bool {
	return len(d.Revisions) == 0
}

// NewRevisionsSince computes the delta between a newest-first listing and a cursor.
func NewRevisionsSince(newestFirst []coreprocessor.Revision, cursor string) Delta {
	chrono := make([]coreprocessor.Revision, len(newestFirst))
	for i, rev := range newestFirst {
		chrono[len(newestFirst)-1-i] = rev
	}

	d := Delta{All: chrono, Previous: cursor}
	if len(chrono) > 0 {
		d.Head = chrono[len(chrono)-1].ID
	}

	if cursor == "" {
		d.FirstAnalysis = true
		d.Revisions = chrono
		return d
	}

	if len(chrono) == 0 {
		d.HeadMismatch = true
		d.Warnings = append(d.Warnings, fmt.Sprintf("no revisions listed but %s was analyzed before", short(cursor)))
		return d
	}

	idx := indexOf(chrono, cursor)
	if idx < 0 {
		d.Rewritten = true
		d.Revisions = chrono
		d.Warnings = append(d.Warnings, fmt.Sprintf("previously analyzed revision %s is no longer in the history; analyzing all %d revisions", short(cursor), len(chrono)))
		return d
	}

	d.Revisions = chrono[idx+1:]
	if len(d.Revisions) == 0 && !sameRevision(d.Head, cursor) {
		d.HeadMismatch = true
		d.Warnings = append(d.Warnings, fmt.Sprintf("no new revisions but head %s differs from %s", short(d.Head), short(cursor)))
	}
	return d
}

// indexOf finds cursor by exact id, then by abbreviated prefix in either direction.
func indexOf(chrono []coreprocessor.Revision, cursor string) int {
	for i := len(chrono) - 1; i >= 0; i-- {
		if chrono[i].ID == cursor {
			return i
		}
	}
	for i := len(chrono) - 1; i >= 0; i-- {
		if prefixMatch(chrono[i].ID, cursor) {
			return i
		}
	}
	return -1
}

func sameRevision(a, b string) bool {
	return a == b || prefixMatch(a, b)
}

func prefixMatch(a, b string) bool {
	if len(a) < minPrefixLen || len(b) < minPrefixLen {
		return false
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func short(id string) string {
	if len(id) > minPrefixLen {
		return id[:minPrefixLen]
	}
	return id
}

// Tracker combines the cursor store with a revision listing.
type Tracker struct {
	store      Store
	maxHistory int
}

// NewTracker creates a tracker. maxHistory <= 0 uses DefaultMaxHistory.
func NewTracker(store Store, maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Tracker{store: store, maxHistory: maxHistory}
}

// Delta loads the cursor and computes the new revisions for target. A listing
// failure degrades to an empty delta with a warning; store faults are returned.
func (t *Tracker) Delta(ctx context.Context, lister RevisionLister, installationID string, target coreprocessor.Target) (Delta, error) {
	logger := zerolog.Ctx(ctx)
	key := target.String()

	var previous string
	cur, err := t.store.GetCursor(ctx, installationID, key)
	switch {
	case err == nil:
		previous = cur.RevisionID
	case errors.Is(err, coreprocessor.ErrNotFound):
	default:
		return Delta{}, fmt.Errorf("load cursor for %s: %w", key, err)
	}

	revisions, err := lister.ListRevisions(ctx, target, t.maxHistory)
	if err != nil {
		logger.Warn().Err(err).Str("cursor", previous).Msg("listing revisions failed, continuing with empty delta")
		return Delta{
			Previous: previous,
			Warnings: []string{"revision history could not be listed; the analysis covers the description and diff only"},
		}, nil
	}
	if len(revisions) > t.maxHistory {
		revisions = revisions[:t.maxHistory]
	}

	d := NewRevisionsSince(revisions, previous)
	event := logger.Debug()
	if d.Rewritten || d.HeadMismatch {
		event = logger.Warn()
	}
	event.
		Str("cursor", previous).
		Str("head", d.Head).
		Int("new_revisions", len(d.Revisions)).
		Bool("first_analysis", d.FirstAnalysis).
		Bool("rewritten", d.Rewritten).
		Bool("head_mismatch", d.HeadMismatch).
		Msg("computed revision delta")
	return d, nil
}
