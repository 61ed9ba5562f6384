package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipebot/internal/command"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/pipeline"
	"github.com/recipebot/internal/webhookauth"
)

type fakeVerifier struct {
	err     error
	account string
	got     webhookauth.Request
}

func (f *fakeVerifier) Verify(_ context.Context, req webhookauth.Request) (webhookauth.Result, error) {
	f.got = req
	if f.err != nil {
		return webhookauth.Result{}, f.err
	}
	return webhookauth.Result{AccountID: f.account}, nil
}

type fakeParser struct {
	event *coreprocessor.TriggerEvent
	err   error
}

func (f *fakeParser) Supports(string) bool { return true }

func (f *fakeParser) ParseEvent(string, map[string]string, []byte) (*coreprocessor.TriggerEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.event
	return &cp, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	err    error
	events []coreprocessor.TriggerEvent
	trigs  []coreprocessor.Trigger
}

func (f *fakeDispatcher) Start(context.Context) error { return nil }
func (f *fakeDispatcher) Stop(context.Context) error  { return nil }

func (f *fakeDispatcher) Dispatch(_ context.Context, e coreprocessor.TriggerEvent, t coreprocessor.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	f.trigs = append(f.trigs, t)
	return nil
}

type fakeRuns struct {
	target string
	limit  int
}

func (f *fakeRuns) ListRuns(_ context.Context, target string, limit int) ([]coreprocessor.RunRecord, error) {
	f.target, f.limit = target, limit
	return []coreprocessor.RunRecord{{ID: "r1", Target: target, Status: coreprocessor.RunCompleted}}, nil
}

type fixture struct {
	verifier   *fakeVerifier
	parser     *fakeParser
	dispatcher *fakeDispatcher
	runs       *fakeRuns
	metrics    *pipeline.Metrics
	server     *Server
}

func newFixture(t *testing.T, adminHash string) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		verifier: &fakeVerifier{account: "acme"},
		parser: &fakeParser{event: &coreprocessor.TriggerEvent{
			Platform: coreprocessor.PlatformGitHub,
			Target:   coreprocessor.Target{Platform: coreprocessor.PlatformGitHub, Repository: "acme/shop", Number: 3},
			Body:     "/recipe focus=checkout",
			Author:   coreprocessor.Author{Login: "dev"},
		}},
		dispatcher: &fakeDispatcher{},
		runs:       &fakeRuns{},
		metrics:    pipeline.NewMetrics(reg),
	}
	f.server = NewServer(Options{
		Platforms:    []string{coreprocessor.PlatformGitHub, coreprocessor.PlatformJira},
		AdminKeyHash: adminHash,
		Verifier:     f.verifier,
		Parser:       f.parser,
		Detector:     command.NewDetector([]string{"/recipe"}, "recipebot", "Generated by RecipeBot"),
		Dispatcher:   f.dispatcher,
		Runs:         f.runs,
		Metrics:      f.metrics,
		Gatherer:     reg,
		Logger:       zerolog.Nop(),
	})
	return f
}

func (f *fixture) post(path, body string) (*httptest.ResponseRecorder, map[string]string) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	var out map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestWebhook_Accepted(t *testing.T) {
	f := newFixture(t, "")

	rec, out := f.post("/webhooks/github?x=1", `{"raw":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accepted", out["status"])

	require.Len(t, f.dispatcher.events, 1)
	assert.Equal(t, "acme", f.dispatcher.events[0].AccountID, "account id comes from the verifier")
	assert.False(t, f.dispatcher.events[0].ReceivedAt.IsZero())
	assert.Equal(t, "checkout", f.dispatcher.trigs[0].Params["focus"])

	assert.Equal(t, `{"raw":true}`, string(f.verifier.got.Body))
	assert.Equal(t, "/webhooks/github", f.verifier.got.Path)
	assert.Equal(t, "1", f.verifier.got.Query.Get("x"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Webhooks.WithLabelValues("github", "accepted")))
}

func TestWebhook_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "authentication failure",
			setup:      func(f *fixture) { f.verifier.err = fmt.Errorf("%w: bad signature", coreprocessor.ErrAuthentication) },
			wantCode:   http.StatusUnauthorized,
			wantStatus: "unauthorized",
		},
		{
			name:       "store fault during verification",
			setup:      func(f *fixture) { f.verifier.err = errors.New("db down") },
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
		},
		{
			name:       "malformed payload",
			setup:      func(f *fixture) { f.parser.err = fmt.Errorf("%w: bad json", coreprocessor.ErrMalformedPayload) },
			wantCode:   http.StatusBadRequest,
			wantStatus: "malformed",
		},
		{
			name:       "ignored event",
			setup:      func(f *fixture) { f.parser.err = coreprocessor.ErrIgnoredEvent },
			wantCode:   http.StatusOK,
			wantStatus: "ignored",
		},
		{
			name:       "no command",
			setup:      func(f *fixture) { f.parser.event.Body = "looks good to me" },
			wantCode:   http.StatusOK,
			wantStatus: "skipped",
		},
		{
			name:       "bot author",
			setup:      func(f *fixture) { f.parser.event.Author.IsBot = true },
			wantCode:   http.StatusOK,
			wantStatus: "skipped",
		},
		{
			name:       "dispatch failure",
			setup:      func(f *fixture) { f.dispatcher.err = errors.New("queue full") },
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			tt.setup(f)
			rec, out := f.post("/webhooks/github", `{}`)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, out["status"])
			if tt.wantStatus != "accepted" {
				assert.Empty(t, f.dispatcher.events)
			}
		})
	}
}

func TestWebhook_UnknownPlatformNotRouted(t *testing.T) {
	f := newFixture(t, "")
	rec, _ := f.post("/webhooks/bitbucket", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	f.post("/webhooks/github", `{}`)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipebot_webhooks_total")
}

func TestRunsAPI(t *testing.T) {
	hash, err := HashAdminKey("correct-horse-battery")
	require.NoError(t, err)
	f := newFixture(t, hash)

	get := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?target=github:acme/shop%233&limit=5", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("").Code)
	assert.Equal(t, http.StatusUnauthorized, get("wrong-key-wrong-key").Code)

	rec := get("correct-horse-battery")
	require.Equal(t, http.StatusOK, rec.Code)
	var body RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "github:acme/shop#3", f.runs.target)
	assert.Equal(t, 5, f.runs.limit)
}

func TestRunsAPI_DisabledWithoutHash(t *testing.T) {
	f := newFixture(t, "")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHashAdminKey_TooShort(t *testing.T) {
	_, err := HashAdminKey("short")
	assert.Error(t, err)
}
