// Package storage persists installations, revision cursors and the run log.
package storage

import (
	"context"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Store is the persistence surface the service needs. Cursor writes are
// compare-and-set; run records move from pending to one terminal status.
type Store interface {
	InstallationByAccount(ctx context.Context, platform, accountID string) (*coreprocessor.Installation, error)
	GetInstallation(ctx context.Context, id string) (*coreprocessor.Installation, error)
	SaveInstallation(ctx context.Context, inst *coreprocessor.Installation) error
	ListInstallations(ctx context.Context) ([]coreprocessor.Installation, error)

	GetCursor(ctx context.Context, installationID, target string) (*coreprocessor.RevisionCursor, error)
	CompareAndSetCursor(ctx context.Context, installationID, target, expected, next string) error

	CreateRun(ctx context.Context, run *coreprocessor.RunRecord) error
	CompleteRun(ctx context.Context, id string, result RunResult) error
	FailRun(ctx context.Context, id, reason string) error
	GetRun(ctx context.Context, id string) (*coreprocessor.RunRecord, error)
	// ListRuns returns the newest runs first. An empty target lists all targets.
	ListRuns(ctx context.Context, target string, limit int) ([]coreprocessor.RunRecord, error)

	Close() error
}

// RunResult is what a completed run records.
type RunResult struct {
	ResultRef         string
	Provenance        string
	RevisionsAnalyzed []string
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
