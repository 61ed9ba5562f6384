package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
	"github.com/recipebot/internal/storage"
)

// Poster publishes a rendered comment and then records the outcome. The
// cursor only moves after the platform confirmed the comment.
type Poster struct {
	store storage.Store
}

func NewPoster(store storage.Store) *Poster {
	return &Poster{store: store}
}

// Post publishes doc for run. On success the cursor is compare-and-set to
// the delta head (unless advance is false) and the run completes. On failure
// the run is marked failed and the cursor is left alone.
func (p *Poster) Post(ctx context.Context, platform coreprocessor.Platform, run *coreprocessor.RunRecord, target coreprocessor.Target, delta cursor.Delta, doc coreprocessor.Document, result storage.RunResult, advance bool) (coreprocessor.CommentRef, error) {
	logger := zerolog.Ctx(ctx)

	ref, err := platform.PostComment(ctx, target, doc)
	if err != nil {
		if !errors.Is(err, coreprocessor.ErrPost) {
			err = fmt.Errorf("%w: %v", coreprocessor.ErrPost, err)
		}
		if ferr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to mark run failed")
		}
		return coreprocessor.CommentRef{}, err
	}
	logger.Info().Str("comment_id", ref.ID).Str("comment_url", ref.URL).Msg("comment posted")

	// The comment is already public, so the bookkeeping below must not be
	// lost to a run deadline that fires now.
	detached := context.WithoutCancel(ctx)
	if advance && delta.Head != "" && delta.Head != delta.Previous {
		err := p.store.CompareAndSetCursor(detached, run.InstallationID, target.String(), delta.Previous, delta.Head)
		switch {
		case errors.Is(err, coreprocessor.ErrCursorConflict):
			// A concurrent run already moved the cursor; its view wins.
			logger.Warn().Err(err).Msg("cursor moved concurrently, leaving it")
		case err != nil:
			logger.Error().Err(err).Msg("failed to advance cursor")
		default:
			logger.Debug().Str("from", delta.Previous).Str("to", delta.Head).Msg("cursor advanced")
		}
	}

	if err := p.store.CompleteRun(detached, run.ID, result); err != nil {
		return ref, fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	return ref, nil
}
