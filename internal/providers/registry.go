// Package providers builds per-installation platform clients.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Factory builds a platform client for one installation. The http client it
// receives is already rate limited.
type Factory func(inst coreprocessor.Installation, httpClient *http.Client) (coreprocessor.Platform, error)

// EventParser turns a raw webhook into a TriggerEvent. It returns
// ErrIgnoredEvent for payloads that are not new comments and
// ErrMalformedPayload for payloads that cannot be decoded.
type EventParser func(headers map[string]string, body []byte) (*coreprocessor.TriggerEvent, error)

type entry struct {
	factory Factory
	parser  EventParser
}

type cachedClient struct {
	platform  coreprocessor.Platform
	updatedAt time.Time
}

// Registry caches one client per installation and rebuilds it when the
// installation's credentials change.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]entry
	clients   map[string]cachedClient
	limit     rate.Limit
	burst     int
	transport http.RoundTripper
	timeout   time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithTransport sets the base transport under the rate limiter.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Registry) { r.transport = rt }
}

// WithTimeout sets the per-request timeout of platform clients.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry creates a registry whose clients share a token bucket of
// requestsPerSecond per installation.
func NewRegistry(requestsPerSecond float64, burst int, opts ...Option) *Registry {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	r := &Registry{
		entries:   make(map[string]entry),
		clients:   make(map[string]cachedClient),
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		transport: http.DefaultTransport,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a platform.
func (r *Registry) Register(platform string, factory Factory, parser EventParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[platform] = entry{factory: factory, parser: parser}
}

// Supports reports whether a platform is registered.
func (r *Registry) Supports(platform string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[platform]
	return ok
}

// ParseEvent decodes a webhook for platform.
func (r *Registry) ParseEvent(platform string, headers map[string]string, body []byte) (*coreprocessor.TriggerEvent, error) {
	r.mu.Lock()
	e, ok := r.entries[platform]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
	return e.parser(headers, body)
}

// Client returns the cached client for inst. Installations marked simulate
// get a client that logs instead of posting.
func (r *Registry) Client(inst *coreprocessor.Installation) (coreprocessor.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[inst.ID]; ok && c.updatedAt.Equal(inst.UpdatedAt) {
		return c.platform, nil
	}

	e, ok := r.entries[inst.Platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", inst.Platform)
	}

	httpClient := &http.Client{
		Timeout:   r.timeout,
		Transport: &limitedTransport{base: r.transport, limiter: rate.NewLimiter(r.limit, r.burst)},
	}
	p, err := e.factory(*inst, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build %s client for installation %s: %w", inst.Platform, inst.ID, err)
	}
	if inst.Credentials.Simulate {
		p = DryRun(p)
	}
	r.clients[inst.ID] = cachedClient{platform: p, updatedAt: inst.UpdatedAt}
	return p, nil
}

// Forget drops the cached client of an installation.
func (r *Registry) Forget(installationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, installationID)
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.base.RoundTrip(req)
}

type dryRun struct {
	coreprocessor.Platform
}

// DryRun wraps p so PostComment logs the rendered document and posts nothing.
func DryRun(p coreprocessor.Platform) coreprocessor.Platform {
	if _, ok := p.(dryRun); ok {
		return p
	}
	return dryRun{Platform: p}
}

func (d dryRun) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	zerolog.Ctx(ctx).Info().
		Str("platform", d.Name()).
		Str("target", target.String()).
		Int("markdown_chars", len(doc.Markdown)).
		Bool("adf", doc.ADF != nil).
		Msg("dry run: comment not posted")
	if e := zerolog.Ctx(ctx).Debug(); e.Enabled() {
		e.Str("markdown", doc.Markdown).Msg("dry run comment body")
	}
	return coreprocessor.CommentRef{ID: "dry-run"}, nil
}
