package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipebot/internal/contextbuilder"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
	"github.com/recipebot/internal/format"
	"github.com/recipebot/internal/llm"
	"github.com/recipebot/internal/storage"
)

const signature = "Generated by RecipeBot"

type fakePlatform struct {
	mu        sync.Mutex
	revisions []coreprocessor.Revision // newest first
	postErr   error
	postPanic bool
	posted    []coreprocessor.Document
}

func (f *fakePlatform) Name() string { return coreprocessor.PlatformGitHub }

func (f *fakePlatform) ListRevisions(_ context.Context, _ coreprocessor.Target, limit int) ([]coreprocessor.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]coreprocessor.Revision(nil), f.revisions...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePlatform) FetchDescription(context.Context, coreprocessor.Target) (string, string, error) {
	return "Add checkout button", "Adds a checkout button to the cart page.", nil
}

func (f *fakePlatform) FetchDiff(context.Context, coreprocessor.Target) (string, error) {
	return "", nil
}

func (f *fakePlatform) FetchFile(context.Context, coreprocessor.Target, string) (string, error) {
	return "", errors.New("no files")
}

func (f *fakePlatform) PostComment(_ context.Context, _ coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postPanic {
		panic("renderer state corrupted")
	}
	if f.postErr != nil {
		return coreprocessor.CommentRef{}, f.postErr
	}
	f.posted = append(f.posted, doc)
	return coreprocessor.CommentRef{ID: "c1"}, nil
}

// push adds a new head revision.
func (f *fakePlatform) push(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.revisions = append([]coreprocessor.Revision{{ID: id, Message: "feat: change " + id}}, f.revisions...)
	}
}

func (f *fakePlatform) last() coreprocessor.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posted[len(f.posted)-1]
}

type staticClients struct{ p coreprocessor.Platform }

func (s staticClients) Client(*coreprocessor.Installation) (coreprocessor.Platform, error) {
	return s.p, nil
}

type remoteStub struct {
	data  any
	block bool
}

func (r remoteStub) Name() string { return coreprocessor.ProvenanceRemote }

func (r remoteStub) Generate(ctx context.Context, _ coreprocessor.Payload) (any, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.data, nil
}

var remoteAnalysis = map[string]any{
	"riskSummary": "Checkout flow changed.",
	"testScenarios": []any{
		map[string]any{"name": "Buy one item", "priority": "Critical Path", "steps": []any{"Open cart", "Click checkout"}, "expectedResult": "Order placed"},
		map[string]any{"name": "Empty cart", "priority": "Edge Case", "steps": []any{"Open empty cart"}, "expectedResult": "Checkout disabled"},
	},
}

type harness struct {
	store    *storage.MemoryStore
	platform *fakePlatform
	inst     *coreprocessor.Installation
	metrics  *Metrics
	runner   *Runner
}

func newHarness(t *testing.T, strategy llm.Strategy, timeout time.Duration) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	inst := &coreprocessor.Installation{Platform: coreprocessor.PlatformGitHub, AccountID: "acme", Enabled: true}
	require.NoError(t, store.SaveInstallation(context.Background(), inst))

	platform := &fakePlatform{}
	platform.push("aaaaaaa1111", "bbbbbbb2222", "ccccccc3333")

	metrics := NewMetrics(prometheus.NewRegistry())
	runner := NewRunner(Deps{
		Store:     store,
		Clients:   staticClients{p: platform},
		Tracker:   cursor.NewTracker(store, 0),
		Builder:   contextbuilder.NewBuilder(contextbuilder.Limits{}),
		Invoker:   llm.NewInvoker(llm.Step{Strategy: strategy, Timeout: timeout}),
		Formatter: format.New("RecipeBot", signature, 0),
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})
	return &harness{store: store, platform: platform, inst: inst, metrics: metrics, runner: runner}
}

func testEvent() coreprocessor.TriggerEvent {
	return coreprocessor.TriggerEvent{
		Platform:  coreprocessor.PlatformGitHub,
		AccountID: "acme",
		Target:    coreprocessor.Target{Platform: coreprocessor.PlatformGitHub, Repository: "acme/shop", Number: 7},
		Author:    coreprocessor.Author{Login: "dev"},
	}
}

func (h *harness) cursor(t *testing.T) string {
	t.Helper()
	c, err := h.store.GetCursor(context.Background(), h.inst.ID, testEvent().Target.String())
	if errors.Is(err, coreprocessor.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	return c.RevisionID
}

func TestRun_FirstThenIncremental(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)
	ctx := context.Background()

	out, err := h.runner.Run(ctx, testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.ProvenanceRemote, out.Provenance)
	assert.Equal(t, 3, out.Revisions)
	assert.Equal(t, "ccccccc3333", h.cursor(t))

	first := h.platform.last().Markdown
	assert.Contains(t, first, "Revisions analyzed (3)")
	assert.Contains(t, first, signature)
	assert.NotContains(t, first, format.NeedsReviewLabel)

	h.platform.push("ddddddd4444", "eeeeeee5555")
	out, err = h.runner.Run(ctx, testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Revisions)
	assert.Equal(t, "eeeeeee5555", h.cursor(t))

	second := h.platform.last().Markdown
	assert.Contains(t, second, "Revisions analyzed (2)")
	assert.Contains(t, second, "ddddddd")
	assert.NotContains(t, second, "aaaaaaa")

	run, err := h.store.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.RunCompleted, run.Status)
	assert.Equal(t, []string{"ddddddd4444", "eeeeeee5555"}, run.RevisionsAnalyzed)
	assert.Equal(t, "inline:"+out.RunID, run.ResultRef)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Runs.WithLabelValues(coreprocessor.PlatformGitHub, coreprocessor.RunCompleted)))
}

func TestRun_TimeoutFallsBackWithBanner(t *testing.T) {
	h := newHarness(t, remoteStub{block: true}, 50*time.Millisecond)

	out, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.ProvenanceDefault, out.Provenance)
	assert.Contains(t, h.platform.last().Markdown, format.NeedsReviewLabel)

	run, err := h.store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.RunCompleted, run.Status)
	assert.Equal(t, coreprocessor.ProvenanceDefault, run.Provenance)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Provenance.WithLabelValues(coreprocessor.ProvenanceDefault)))
}

func TestRun_PostFailureLeavesCursor(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)
	h.platform.postErr = errors.New("502 bad gateway")

	out, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, coreprocessor.ErrPost)
	assert.Empty(t, h.cursor(t))

	run, err := h.store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.RunFailed, run.Status)
	assert.Contains(t, run.Error, "502")
}

func TestRun_DryRunDoesNotPostOrAdvance(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)

	out, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{
		Command: "/recipe",
		Flags:   map[string]bool{"dry-run": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "dry-run", out.Comment.ID)
	assert.Empty(t, h.platform.posted)
	assert.Empty(t, h.cursor(t))
}

func TestRun_MaxScenarios(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)

	_, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{
		Command: "/recipe",
		Params:  map[string]string{"max": "1"},
	})
	require.NoError(t, err)
	md := h.platform.last().Markdown
	assert.Contains(t, md, "Buy one item")
	assert.NotContains(t, md, "Empty cart")
}

func TestRun_UnknownOrDisabledInstallation(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)

	event := testEvent()
	event.AccountID = "someone-else"
	_, err := h.runner.Run(context.Background(), event, coreprocessor.Trigger{Command: "/recipe"})
	assert.ErrorIs(t, err, coreprocessor.ErrNotFound)

	h.inst.Enabled = false
	require.NoError(t, h.store.SaveInstallation(context.Background(), h.inst))
	_, err = h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	assert.ErrorIs(t, err, ErrInstallationDisabled)
	assert.Empty(t, h.platform.posted)
}

func TestRun_ConcurrentTriggersSingleCursorWinner(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "ccccccc3333", h.cursor(t))
	runs, err := h.store.ListRuns(context.Background(), testEvent().Target.String(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestRun_FreeTextResponseIsMarkedForReview(t *testing.T) {
	const refusal = "I am unable to analyze this change right now."
	h := newHarness(t, remoteStub{data: refusal}, time.Second)

	out, err := h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.ProvenanceRemote, out.Provenance)

	md := h.platform.last().Markdown
	assert.Contains(t, md, format.NeedsReviewLabel)
	assert.Contains(t, md, "Manual review")
	assert.Equal(t, 1, strings.Count(md, refusal))
}

func TestRun_PanicFailsRun(t *testing.T) {
	h := newHarness(t, remoteStub{data: remoteAnalysis}, time.Second)
	h.platform.postPanic = true

	var (
		out Outcome
		err error
	)
	require.NotPanics(t, func() {
		out, err = h.runner.Run(context.Background(), testEvent(), coreprocessor.Trigger{Command: "/recipe"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer state corrupted")
	assert.Empty(t, h.cursor(t))

	run, err := h.store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, coreprocessor.RunFailed, run.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Runs.WithLabelValues(coreprocessor.PlatformGitHub, coreprocessor.RunFailed)))
}
