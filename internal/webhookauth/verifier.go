package webhookauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/webhookutils"
)

// Request is the raw inbound webhook as seen before any parsing.
type Request struct {
	Platform string
	Method   string
	Path     string
	Query    url.Values
	Headers  map[string]string
	Body     []byte
}

// Result describes a verified request.
type Result struct {
	Installation *coreprocessor.Installation
	AccountID    string
	// Unsigned is set when a request without a configured secret was let through
	// outside production.
	Unsigned bool
}

// SecretResolver finds the installation that owns a platform account.
type SecretResolver interface {
	InstallationByAccount(ctx context.Context, platform, accountID string) (*coreprocessor.Installation, error)
}

// Verifier authenticates webhooks for every supported platform.
type Verifier struct {
	resolver    SecretResolver
	production  bool
	contextPath string
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithContextPath strips a mount prefix before computing Connect request hashes.
func WithContextPath(prefix string) Option {
	return func(v *Verifier) { v.contextPath = strings.TrimSuffix(prefix, "/") }
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier. production disables the unsigned fallback.
func NewVerifier(resolver SecretResolver, production bool, logger zerolog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		resolver:   resolver,
		production: production,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates req. Authentication failures wrap ErrAuthentication;
// any other error is a lookup fault.
func (v *Verifier) Verify(ctx context.Context, req Request) (Result, error) {
	switch req.Platform {
	case coreprocessor.PlatformGitHub:
		return v.verifyGitHub(ctx, req)
	case coreprocessor.PlatformGitLab:
		return v.verifyGitLab(ctx, req)
	case coreprocessor.PlatformJira:
		return v.verifyJira(ctx, req)
	case coreprocessor.PlatformLinear:
		return v.verifyLinear(ctx, req)
	default:
		return Result{}, fmt.Errorf("%w: unknown platform %q", coreprocessor.ErrAuthentication, req.Platform)
	}
}

func (v *Verifier) verifyGitHub(ctx context.Context, req Request) (Result, error) {
	inst, account, err := v.installationFromPayload(ctx, req)
	if err != nil {
		return Result{}, err
	}
	signature, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, "X-Hub-Signature-256")
	if !VerifyHMAC(inst.Credentials.WebhookSecret, req.Body, signature, "sha256=") {
		return Result{}, fmt.Errorf("%w: github signature mismatch for account %s", coreprocessor.ErrAuthentication, account)
	}
	return Result{Installation: inst, AccountID: account}, nil
}

func (v *Verifier) verifyGitLab(ctx context.Context, req Request) (Result, error) {
	inst, account, err := v.installationFromPayload(ctx, req)
	if err != nil {
		return Result{}, err
	}
	token, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, "X-Gitlab-Token")
	if !VerifyToken(inst.Credentials.WebhookSecret, token) {
		return Result{}, fmt.Errorf("%w: gitlab token mismatch for account %s", coreprocessor.ErrAuthentication, account)
	}
	return Result{Installation: inst, AccountID: account}, nil
}

func (v *Verifier) verifyJira(ctx context.Context, req Request) (Result, error) {
	authorization, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, "Authorization")
	token := ConnectToken(authorization, req.Query)
	if token == "" {
		return Result{}, fmt.Errorf("%w: missing connect token", coreprocessor.ErrAuthentication)
	}

	clientKey, err := ConnectIssuer(token)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", coreprocessor.ErrAuthentication, err)
	}

	inst, err := v.lookup(ctx, coreprocessor.PlatformJira, clientKey)
	if err != nil {
		return Result{}, err
	}

	path := strings.TrimPrefix(req.Path, v.contextPath)
	if _, err := VerifyConnectJWT(token, inst.Credentials.SharedSecret, req.Method, path, req.Query, v.now()); err != nil {
		return Result{}, fmt.Errorf("%w: %v", coreprocessor.ErrAuthentication, err)
	}
	return Result{Installation: inst, AccountID: clientKey}, nil
}

func (v *Verifier) verifyLinear(ctx context.Context, req Request) (Result, error) {
	account := ProbeAccountID(coreprocessor.PlatformLinear, req.Body)
	if account == "" {
		return Result{}, fmt.Errorf("%w: payload has no organizationId", coreprocessor.ErrAuthentication)
	}

	inst, err := v.resolver.InstallationByAccount(ctx, coreprocessor.PlatformLinear, account)
	if err != nil && !errors.Is(err, coreprocessor.ErrNotFound) {
		return Result{}, fmt.Errorf("resolve installation: %w", err)
	}
	if inst != nil && !inst.Enabled {
		return Result{}, fmt.Errorf("%w: installation %s is disabled", coreprocessor.ErrAuthentication, inst.ID)
	}

	if inst == nil || inst.Credentials.WebhookSecret == "" {
		if v.production {
			return Result{}, fmt.Errorf("%w: no webhook secret for org %s", coreprocessor.ErrAuthentication, account)
		}
		v.logger.Warn().Str("org_id", account).Msg("accepting unsigned linear webhook outside production")
		return Result{Installation: inst, AccountID: account, Unsigned: true}, nil
	}

	signature, _ := webhookutils.GetHeaderCaseInsensitive(req.Headers, "Linear-Signature")
	if !VerifyHMAC(inst.Credentials.WebhookSecret, req.Body, signature, "") {
		return Result{}, fmt.Errorf("%w: linear signature mismatch for org %s", coreprocessor.ErrAuthentication, account)
	}
	return Result{Installation: inst, AccountID: account}, nil
}

func (v *Verifier) installationFromPayload(ctx context.Context, req Request) (*coreprocessor.Installation, string, error) {
	account := ProbeAccountID(req.Platform, req.Body)
	if account == "" {
		return nil, "", fmt.Errorf("%w: payload has no account identifier", coreprocessor.ErrAuthentication)
	}
	inst, err := v.lookup(ctx, req.Platform, account)
	if err != nil {
		return nil, account, err
	}
	return inst, account, nil
}

// lookup maps a missing or disabled installation to ErrAuthentication and
// passes store faults through unchanged.
func (v *Verifier) lookup(ctx context.Context, platform, account string) (*coreprocessor.Installation, error) {
	inst, err := v.resolver.InstallationByAccount(ctx, platform, account)
	if errors.Is(err, coreprocessor.ErrNotFound) {
		return nil, fmt.Errorf("%w: no installation for %s account %s", coreprocessor.ErrAuthentication, platform, account)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve installation: %w", err)
	}
	if !inst.Enabled {
		return nil, fmt.Errorf("%w: installation %s is disabled", coreprocessor.ErrAuthentication, inst.ID)
	}
	return inst, nil
}
