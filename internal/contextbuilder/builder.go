// Package contextbuilder assembles the size-bounded payload sent to the
// reasoning service.
package contextbuilder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recipebot/internal/command"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
)

// Builder assembles payloads.
type Builder struct {
	limits   Limits
	redactor Redactor
}

// Option configures a Builder.
type Option func(*Builder)

// WithRedactor scrubs the description, diff and file contents before they
// are capped.
func WithRedactor(r Redactor) Option {
	return func(b *Builder) { b.redactor = r }
}

// NewBuilder creates a builder; zero limits fall back to DefaultLimits.
func NewBuilder(limits Limits, opts ...Option) *Builder {
	b := &Builder{limits: limits.withDefaults()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches description, diff and optionally file contents concurrently
// and returns a payload with every artifact capped.
func (b *Builder) Build(ctx context.Context, source coreprocessor.Source, target coreprocessor.Target, delta cursor.Delta, trigger coreprocessor.Trigger) (coreprocessor.Payload, error) {
	logger := zerolog.Ctx(ctx)

	payload := coreprocessor.Payload{
		TargetID:     target.String(),
		Focus:        strings.TrimSpace(trigger.Params[command.ParamFocus]),
		Warnings:     append([]string(nil), delta.Warnings...),
		FileContents: map[string]string{},
	}
	if max, err := strconv.Atoi(trigger.Params[command.ParamMax]); err == nil && max > 0 {
		payload.MaxScenarios = max
	}

	revisions := delta.Revisions
	if trigger.Flag(command.FlagFull) {
		revisions = delta.All
	}
	payload.Commits = b.commits(revisions, &payload)

	wantFiles := b.limits.FetchFiles || trigger.Flag(command.FlagFiles)

	var (
		mu    sync.Mutex
		title string
		body  string
		diff  string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, d, err := source.FetchDescription(gctx, target)
		if err != nil {
			return fmt.Errorf("fetch description: %w", err)
		}
		title, body = t, d
		return nil
	})
	g.Go(func() error {
		d, err := source.FetchDiff(gctx, target)
		if err != nil {
			logger.Warn().Err(err).Msg("diff unavailable, continuing without it")
			mu.Lock()
			payload.Warnings = append(payload.Warnings, "the diff could not be fetched")
			mu.Unlock()
			return nil
		}
		diff = d
		if !wantFiles {
			return nil
		}
		files := b.fetchFiles(gctx, source, target, d)
		mu.Lock()
		for path, content := range files {
			payload.FileContents[path] = content
		}
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return coreprocessor.Payload{}, err
	}

	payload.Title = title
	body = b.redact(logger, &payload, body, "description")
	diff = b.redact(logger, &payload, diff, "diff")
	for path, content := range payload.FileContents {
		payload.FileContents[path] = b.redact(logger, &payload, content, "file "+path)
	}
	payload.Body = b.capped(logger, &payload, body, b.limits.MaxBodyChars, "description")
	payload.Diff = b.capped(logger, &payload, diff, b.limits.MaxDiffChars, "diff")
	for path, content := range payload.FileContents {
		payload.FileContents[path] = b.capped(logger, &payload, content, b.limits.MaxFileChars, "file "+path)
	}

	var selectorSource strings.Builder
	selectorSource.WriteString(diff)
	for _, content := range payload.FileContents {
		selectorSource.WriteString("\n")
		selectorSource.WriteString(content)
	}
	payload.SelectorHints = ScanSelectors(selectorSource.String(), b.limits.MaxSelectors)

	logger.Debug().
		Int("commits", len(payload.Commits)).
		Int("diff_chars", len(payload.Diff)).
		Int("files", len(payload.FileContents)).
		Int("selectors", len(payload.SelectorHints)).
		Strs("truncations", payload.Truncations).
		Msg("assembled payload")
	return payload, nil
}

func (b *Builder) commits(revisions []coreprocessor.Revision, payload *coreprocessor.Payload) []coreprocessor.CommitInfo {
	if len(revisions) > b.limits.MaxCommits {
		dropped := len(revisions) - b.limits.MaxCommits
		revisions = revisions[dropped:]
		payload.Truncations = append(payload.Truncations, fmt.Sprintf("commits: %d oldest of %d omitted", dropped, dropped+len(revisions)))
	}

	out := make([]coreprocessor.CommitInfo, 0, len(revisions))
	for _, rev := range revisions {
		out = append(out, coreprocessor.CommitInfo{
			ID:         rev.ID,
			Message:    rev.Message,
			Author:     rev.Author,
			Categories: Categorize(rev.Message),
		})
	}
	return out
}

// fetchFiles fetches selected files one by one; a failing file is skipped.
func (b *Builder) fetchFiles(ctx context.Context, source coreprocessor.Source, target coreprocessor.Target, diff string) map[string]string {
	logger := zerolog.Ctx(ctx)
	out := map[string]string{}
	for _, path := range SelectFiles(diff, b.limits.MaxFiles) {
		content, err := source.FetchFile(ctx, target, path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping file")
			continue
		}
		out[path] = content
	}
	return out
}

func (b *Builder) redact(logger *zerolog.Logger, payload *coreprocessor.Payload, s, label string) string {
	if b.redactor == nil {
		return s
	}
	out, n := b.redactor.Redact(s)
	if n > 0 {
		payload.Warnings = append(payload.Warnings, redactionWarning(label, n))
		logger.Warn().Str("artifact", label).Int("secrets", n).Msg("redacted secrets from payload artifact")
	}
	return out
}

func (b *Builder) capped(logger *zerolog.Logger, payload *coreprocessor.Payload, s string, max int, label string) string {
	out, cut := Truncate(s, max, label)
	if cut {
		payload.Truncations = append(payload.Truncations, fmt.Sprintf("%s: %d of %d characters", label, max, len(s)))
		logger.Info().Str("artifact", label).Int("limit", max).Int("size", len(s)).Msg("truncated payload artifact")
	}
	return out
}
