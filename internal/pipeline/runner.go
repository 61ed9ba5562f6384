// Package pipeline runs one analysis from a detected trigger to a posted comment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recipebot/internal/command"
	"github.com/recipebot/internal/contextbuilder"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
	"github.com/recipebot/internal/format"
	"github.com/recipebot/internal/llm"
	"github.com/recipebot/internal/logging"
	"github.com/recipebot/internal/normalize"
	"github.com/recipebot/internal/providers"
	"github.com/recipebot/internal/storage"
	"github.com/recipebot/internal/storage/artifacts"
)

// DefaultRunTimeout bounds a whole run, fetches and posting included.
const DefaultRunTimeout = 5 * time.Minute

// ErrInstallationDisabled rejects triggers for a switched-off installation.
var ErrInstallationDisabled = errors.New("installation disabled")

// Clients hands out the platform client of an installation.
type Clients interface {
	Client(inst *coreprocessor.Installation) (coreprocessor.Platform, error)
}

// Deps are the collaborators of a Runner. Artifacts and Metrics are optional.
type Deps struct {
	Store     storage.Store
	Clients   Clients
	Tracker   *cursor.Tracker
	Builder   *contextbuilder.Builder
	Invoker   *llm.Invoker
	Formatter *format.Formatter
	Artifacts artifacts.Store
	Metrics   *Metrics
	Logger    zerolog.Logger
	Timeout   time.Duration
}

// Runner executes tracker, assembler, invoker, normalizer, formatter and
// poster for one trigger and records the run.
type Runner struct {
	store     storage.Store
	clients   Clients
	tracker   *cursor.Tracker
	builder   *contextbuilder.Builder
	invoker   *llm.Invoker
	formatter *format.Formatter
	artifacts artifacts.Store
	poster    *Poster
	metrics   *Metrics
	logger    zerolog.Logger
	timeout   time.Duration
}

// NewRunner wires a runner from its dependencies.
func NewRunner(d Deps) *Runner {
	r := &Runner{
		store:     d.Store,
		clients:   d.Clients,
		tracker:   d.Tracker,
		builder:   d.Builder,
		invoker:   d.Invoker,
		formatter: d.Formatter,
		artifacts: d.Artifacts,
		poster:    NewPoster(d.Store),
		metrics:   d.Metrics,
		logger:    d.Logger,
		timeout:   d.Timeout,
	}
	if r.artifacts == nil {
		r.artifacts = artifacts.Inline{}
	}
	if r.timeout <= 0 {
		r.timeout = DefaultRunTimeout
	}
	return r
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID      string
	Provenance string
	Comment    coreprocessor.CommentRef
	Revisions  int
}

// Run analyzes the target of event and posts the result. The returned error
// is already recorded on the run when a run was created.
func (r *Runner) Run(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) (Outcome, error) {
	runID := uuid.NewString()
	target := event.Target
	logger := logging.ForRun(r.logger, runID, event.Platform, target.String())
	ctx = logger.WithContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out := Outcome{RunID: runID}

	inst, err := r.store.InstallationByAccount(ctx, event.Platform, event.AccountID)
	if err != nil {
		logger.Warn().Err(err).Str("account_id", event.AccountID).Msg("no installation for account")
		return out, fmt.Errorf("installation %s/%s: %w", event.Platform, event.AccountID, err)
	}
	if !inst.Enabled {
		logger.Info().Str("installation_id", inst.ID).Msg("installation disabled, skipping")
		return out, ErrInstallationDisabled
	}

	platform, err := r.clients.Client(inst)
	if err != nil {
		return out, fmt.Errorf("platform client: %w", err)
	}
	dryRun := trigger.Flag(command.FlagDryRun)
	if dryRun {
		platform = providers.DryRun(platform)
	}

	run := &coreprocessor.RunRecord{
		ID:             runID,
		InstallationID: inst.ID,
		Target:         target.String(),
		RequestedBy:    requester(event.Author),
		RequestedAt:    start,
		Status:         coreprocessor.RunPending,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return out, fmt.Errorf("create run: %w", err)
	}
	logger.Info().
		Str("installation_id", inst.ID).
		Str("requested_by", run.RequestedBy).
		Bool("dry_run", dryRun || inst.Credentials.Simulate).
		Msg("run started")

	out, err = r.safeExecute(ctx, platform, run, event, trigger, advanceCursor(dryRun, inst))
	out.RunID = runID

	status := coreprocessor.RunCompleted
	if err != nil {
		status = coreprocessor.RunFailed
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("run failed")
	} else {
		logger.Info().
			Str("provenance", out.Provenance).
			Int("revisions", out.Revisions).
			Str("comment_id", out.Comment.ID).
			Dur("elapsed", time.Since(start)).
			Msg("run completed")
	}
	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(event.Platform, status).Inc()
		r.metrics.RunDuration.WithLabelValues(event.Platform).Observe(time.Since(start).Seconds())
	}
	return out, err
}

// safeExecute turns a panic in any stage into a failed run so the record
// never stays pending.
func (r *Runner) safeExecute(ctx context.Context, platform coreprocessor.Platform, run *coreprocessor.RunRecord, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger, advance bool) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", p).Msg("run panicked")
			out = Outcome{}
			err = r.fail(ctx, run.ID, fmt.Errorf("run panicked: %v", p))
		}
	}()
	return r.execute(ctx, platform, run, event, trigger, advance)
}

func (r *Runner) execute(ctx context.Context, platform coreprocessor.Platform, run *coreprocessor.RunRecord, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger, advance bool) (Outcome, error) {
	logger := zerolog.Ctx(ctx)
	target := event.Target
	out := Outcome{}

	delta, err := r.tracker.Delta(ctx, platform, run.InstallationID, target)
	if err != nil {
		return out, r.fail(ctx, run.ID, fmt.Errorf("compute revision delta: %w", err))
	}
	if trigger.Flag(command.FlagFull) && !delta.FirstAnalysis {
		delta.Revisions = delta.All
	}

	payload, err := r.builder.Build(ctx, platform, target, delta, trigger)
	if err != nil {
		return out, r.fail(ctx, run.ID, fmt.Errorf("assemble context: %w", err))
	}
	if payload.Title == "" {
		payload.Title = event.Title
	}

	result := r.invoker.Invoke(ctx, payload)
	out.Provenance = result.Provenance
	if r.metrics != nil {
		r.metrics.Provenance.WithLabelValues(result.Provenance).Inc()
	}

	analysis, diag := normalize.Normalize(result.Data)
	if diag.Fallback {
		analysis.Degraded = true
		logger.Warn().Strs("raw_keys", diag.RawKeys).Strs("notes", diag.Notes).Msg("analysis could not be normalized, using fallback")
	} else if len(diag.Notes) > 0 {
		logger.Debug().Str("shape", string(diag.Shape)).Strs("notes", diag.Notes).Msg("analysis normalized")
	}
	if result.Fallback() {
		analysis.Degraded = true
	}
	if payload.MaxScenarios > 0 && len(analysis.TestScenarios) > payload.MaxScenarios {
		analysis.TestScenarios = analysis.TestScenarios[:payload.MaxScenarios]
	}

	ref, err := r.artifacts.Save(ctx, run.ID, analysis)
	if err != nil {
		logger.Warn().Err(err).Msg("artifact upload failed, recording inline reference")
		ref = artifacts.InlinePrefix + run.ID
	}

	doc := r.formatter.Render(format.Report{
		Analysis:      analysis,
		Revisions:     delta.Revisions,
		Target:        target,
		Provenance:    result.Provenance,
		Warnings:      payload.Warnings,
		RequestedBy:   run.RequestedBy,
		FirstAnalysis: delta.FirstAnalysis,
		Focus:         payload.Focus,
	})

	comment, err := r.poster.Post(ctx, platform, run, target, delta, doc, storage.RunResult{
		ResultRef:         ref,
		Provenance:        result.Provenance,
		RevisionsAnalyzed: revisionIDs(delta.Revisions),
	}, advance)
	if err != nil {
		return out, err
	}
	out.Comment = comment
	out.Revisions = len(delta.Revisions)
	return out, nil
}

// fail records err on the run. The run log write uses a detached context so a
// cancelled run still leaves a terminal record.
func (r *Runner) fail(ctx context.Context, runID string, err error) error {
	if ferr := r.store.FailRun(context.WithoutCancel(ctx), runID, err.Error()); ferr != nil {
		zerolog.Ctx(ctx).Error().Err(ferr).Msg("failed to mark run failed")
	}
	return err
}

// advanceCursor reports whether a successful post may move the cursor. Dry
// runs never post, so the next real trigger must still see the revisions.
func advanceCursor(dryRun bool, inst *coreprocessor.Installation) bool {
	return !dryRun && !inst.Credentials.Simulate
}

func requester(a coreprocessor.Author) string {
	switch {
	case a.Login != "":
		return a.Login
	case a.DisplayName != "":
		return a.DisplayName
	case a.ID != "":
		return a.ID
	}
	return "unknown"
}

func revisionIDs(revs []coreprocessor.Revision) []string {
	ids := make([]string, 0, len(revs))
	for _, rev := range revs {
		ids = append(ids, rev.ID)
	}
	return ids
}
