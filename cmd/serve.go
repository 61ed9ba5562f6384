package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/recipebot/internal/api"
	"github.com/recipebot/internal/command"
	"github.com/recipebot/internal/config"
	"github.com/recipebot/internal/contextbuilder"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/cursor"
	"github.com/recipebot/internal/format"
	"github.com/recipebot/internal/jobqueue"
	"github.com/recipebot/internal/llm"
	"github.com/recipebot/internal/logging"
	"github.com/recipebot/internal/pipeline"
	"github.com/recipebot/internal/providers"
	"github.com/recipebot/internal/providers/github"
	"github.com/recipebot/internal/providers/gitlab"
	"github.com/recipebot/internal/providers/jira"
	"github.com/recipebot/internal/providers/linear"
	"github.com/recipebot/internal/storage"
	"github.com/recipebot/internal/storage/artifacts"
	"github.com/recipebot/internal/webhookauth"
)

// ServeCommand returns the CLI command for starting the webhook server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the RecipeBot webhook server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides server.addr)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	sqlStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlStore.Close()
	store := storage.NewCachedStore(sqlStore, storage.DefaultInstallationTTL)

	registry := providers.NewRegistry(cfg.Platforms.RateLimit, cfg.Platforms.Burst)
	RegisterPlatforms(registry)

	invoker, err := buildInvoker(cfg)
	if err != nil {
		return err
	}

	arts, err := artifacts.New(ctx, artifacts.Config{
		Endpoint:  cfg.Artifacts.Endpoint,
		AccessKey: cfg.Artifacts.AccessKey,
		SecretKey: cfg.Artifacts.SecretKey,
		Bucket:    cfg.Artifacts.Bucket,
		UseSSL:    cfg.Artifacts.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(reg)

	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     store,
		Clients:   registry,
		Tracker:   cursor.NewTracker(store, cfg.Limits.MaxHistory),
		Builder:   buildContextBuilder(cfg),
		Invoker:   invoker,
		Formatter: format.New(cfg.Brand.Name, cfg.Brand.Signature, cfg.Limits.MaxCommentSize),
		Artifacts: arts,
		Metrics:   metrics,
		Logger:    logger,
	})
	handler := func(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) error {
		_, err := runner.Run(ctx, event, trigger)
		return err
	}

	dispatcher, err := newDispatcher(ctx, cfg, handler, logger)
	if err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	server := api.NewServer(api.Options{
		Addr:            cfg.Server.Addr,
		BodyLimit:       cfg.Server.BodyLimit,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AdminKeyHash:    cfg.Server.AdminKeyHash,
		Platforms:       cfg.Platforms.Enabled,
		Verifier: webhookauth.NewVerifier(store, cfg.Mode == config.ModeProduction, logger,
			webhookauth.WithContextPath(cfg.Platforms.JiraContextPath)),
		Parser:     registry,
		Detector:   command.NewDetector(cfg.Commands, cfg.Brand.Token, cfg.Brand.Signature),
		Dispatcher: dispatcher,
		Runs:       store,
		Metrics:    metrics,
		Gatherer:   reg,
		Logger:     logger,
	})

	serveErr := server.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("dispatcher did not stop cleanly")
	}
	return serveErr
}

// RegisterPlatforms binds every platform client and webhook parser.
func RegisterPlatforms(r *providers.Registry) {
	r.Register(coreprocessor.PlatformGitHub, github.New, github.ParseEvent)
	r.Register(coreprocessor.PlatformGitLab, gitlab.New, gitlab.ParseEvent)
	r.Register(coreprocessor.PlatformJira, jira.New, jira.ParseEvent)
	r.Register(coreprocessor.PlatformLinear, linear.New, linear.ParseEvent)
}

func buildInvoker(cfg *config.Config) (*llm.Invoker, error) {
	var steps []llm.Step
	if cfg.Reasoning.URL != "" {
		steps = append(steps, llm.Step{
			Strategy: llm.NewRemoteStrategy(cfg.Reasoning.URL, cfg.Reasoning.APIKey, cfg.Reasoning.Retries, &http.Client{}),
			Timeout:  cfg.Reasoning.Timeout,
		})
	}
	if cfg.Local.Backend != "none" {
		gen, err := llm.NewGenerator(llm.LocalOptions{
			Backend: cfg.Local.Backend,
			Model:   cfg.Local.Model,
			BaseURL: cfg.Local.BaseURL,
			APIKey:  cfg.Local.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("local model: %w", err)
		}
		steps = append(steps, llm.Step{Strategy: llm.NewLocalStrategy(gen), Timeout: cfg.Local.Timeout})
	}
	return llm.NewInvoker(steps...), nil
}

func buildContextBuilder(cfg *config.Config) *contextbuilder.Builder {
	var opts []contextbuilder.Option
	if cfg.Limits.RedactSecrets {
		opts = append(opts, contextbuilder.WithRedactor(contextbuilder.NewSecretRedactor()))
	}
	return contextbuilder.NewBuilder(contextbuilder.Limits{
		MaxBodyChars: cfg.Limits.MaxBodyChars,
		MaxDiffChars: cfg.Limits.MaxDiffChars,
		MaxFiles:     cfg.Limits.MaxFiles,
		MaxFileChars: cfg.Limits.MaxFileChars,
		MaxSelectors: cfg.Limits.MaxSelectors,
		MaxCommits:   cfg.Limits.MaxCommits,
		FetchFiles:   cfg.Limits.FetchFiles,
	}, opts...)
}

func newDispatcher(ctx context.Context, cfg *config.Config, handler jobqueue.Handler, logger zerolog.Logger) (jobqueue.Dispatcher, error) {
	qc := jobqueue.QueueConfig{MaxWorkers: cfg.Queue.Workers}
	switch cfg.Queue.Driver {
	case jobqueue.DriverRiver:
		d, err := jobqueue.NewRiverDispatcher(ctx, riverDSN(cfg), handler, qc, logger)
		if err != nil {
			return nil, fmt.Errorf("river dispatcher: %w", err)
		}
		return d, nil
	case jobqueue.DriverGoroutine, "":
		return jobqueue.NewGoroutineDispatcher(handler, qc), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}
}

func riverDSN(cfg *config.Config) string {
	if cfg.Queue.DSN != "" {
		return cfg.Queue.DSN
	}
	return cfg.Database.DSN
}

// setup loads and validates configuration and builds the base logger.
func setup(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}

// openStore opens the configured database and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	if err := storage.Migrate(ctx, store.DB(), cfg.Database.Driver, logger); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), store.Close())
	}
	return store, nil
}
