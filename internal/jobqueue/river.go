package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// AnalysisJobArgs carries one accepted trigger through the River queue.
type AnalysisJobArgs struct {
	Event   coreprocessor.TriggerEvent `json:"event"`
	Trigger coreprocessor.Trigger      `json:"trigger"`
}

// Kind returns the job kind for River
func (AnalysisJobArgs) Kind() string {
	return "recipebot_analysis"
}

// InsertOpts disables redelivery: a failed run is recorded and re-triggered
// by a user, never replayed by the queue.
func (AnalysisJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type analysisWorker struct {
	river.WorkerDefaults[AnalysisJobArgs]
	handler Handler
	logger  zerolog.Logger
	timeout time.Duration
}

func (w *analysisWorker) Timeout(*river.Job[AnalysisJobArgs]) time.Duration {
	return w.timeout
}

func (w *analysisWorker) Work(ctx context.Context, job *river.Job[AnalysisJobArgs]) error {
	logger := w.logger.With().Int64("job_id", job.ID).Logger()
	ctx = logger.WithContext(ctx)

	if err := w.handler(ctx, job.Args.Event, job.Args.Trigger); err != nil {
		logger.Warn().Err(err).Str("target", job.Args.Event.Target.String()).Msg("analysis job ended with error")
		return river.JobCancel(err)
	}
	return nil
}

// RiverDispatcher persists triggers as River jobs in PostgreSQL.
type RiverDispatcher struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config QueueConfig
}

// NewRiverDispatcher connects to databaseURL and registers the analysis worker.
func NewRiverDispatcher(ctx context.Context, databaseURL string, handler Handler, config QueueConfig, logger zerolog.Logger) (*RiverDispatcher, error) {
	config = config.withDefaults()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &analysisWorker{handler: handler, logger: logger, timeout: config.JobTimeout})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &RiverDispatcher{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers
func (d *RiverDispatcher) Start(ctx context.Context) error {
	return d.client.Start(ctx)
}

// Stop stops the workers and closes the pool.
func (d *RiverDispatcher) Stop(ctx context.Context) error {
	defer d.pool.Close()
	return d.client.Stop(ctx)
}

// Dispatch inserts an analysis job.
func (d *RiverDispatcher) Dispatch(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) error {
	_, err := d.client.Insert(ctx, AnalysisJobArgs{Event: event, Trigger: trigger}, &river.InsertOpts{
		MaxAttempts: 1,
		Queue:       d.config.Queue,
	})
	if err != nil {
		return fmt.Errorf("failed to queue analysis job: %w", err)
	}
	return nil
}

// MigrateRiver applies River's own schema migrations.
func MigrateRiver(ctx context.Context, databaseURL string, logger zerolog.Logger) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info().Int("version", v.Version).Msg("applied river migration")
	}
	return nil
}
