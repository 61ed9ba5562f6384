package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
	"github.com/recipebot/internal/storage"
)

// ctxStore refuses writes on a finished context, like a real database driver.
type ctxStore struct {
	*storage.MemoryStore
}

func (s ctxStore) CompareAndSetCursor(ctx context.Context, installationID, target, expected, next string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.CompareAndSetCursor(ctx, installationID, target, expected, next)
}

func (s ctxStore) CompleteRun(ctx context.Context, id string, result storage.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.CompleteRun(ctx, id, result)
}

// expiringPlatform confirms the post and lets the run deadline fire right after.
type expiringPlatform struct {
	*fakePlatform
	cancel context.CancelFunc
}

func (p expiringPlatform) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	ref, err := p.fakePlatform.PostComment(ctx, target, doc)
	p.cancel()
	return ref, err
}

func TestPost_DeadlineAfterPostStillAdvancesCursor(t *testing.T) {
	store := ctxStore{storage.NewMemoryStore()}
	target := coreprocessor.Target{Platform: coreprocessor.PlatformGitHub, Repository: "acme/shop", Number: 7}
	run := &coreprocessor.RunRecord{ID: "run-1", InstallationID: "inst-1", Target: target.String(), Status: coreprocessor.RunPending}
	require.NoError(t, store.CreateRun(context.Background(), run))

	ctx, cancel := context.WithCancel(zerolog.Nop().WithContext(context.Background()))
	defer cancel()
	platform := expiringPlatform{fakePlatform: &fakePlatform{}, cancel: cancel}

	delta := cursor.Delta{Previous: "", Head: "ccccccc3333"}
	ref, err := NewPoster(store).Post(ctx, platform, run, target, delta, coreprocessor.Document{Markdown: "hi"},
		storage.RunResult{ResultRef: "inline:run-1", Provenance: coreprocessor.ProvenanceRemote}, true)
	require.NoError(t, err)
	assert.Equal(t, "c1", ref.ID)
	require.Error(t, ctx.Err())

	c, err := store.GetCursor(context.Background(), "inst-1", target.String())
	require.NoError(t, err)
	assert.Equal(t, "ccccccc3333", c.RevisionID)

	got, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.RunCompleted, got.Status)
}
