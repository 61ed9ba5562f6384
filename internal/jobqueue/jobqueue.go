/*
Package jobqueue hands accepted triggers to background workers.

Two dispatchers exist: GoroutineDispatcher runs each trigger in-process with
a bounded worker count, RiverDispatcher inserts a River job into PostgreSQL.
Neither redelivers: a run that fails is recorded as failed and a user
re-triggers it. Tunables live in queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// ErrStopped rejects dispatches after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Handler executes one analysis run.
type Handler func(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) error

// Dispatcher schedules triggers for execution outside the webhook request.
type Dispatcher interface {
	Dispatch(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// GoroutineDispatcher runs triggers on goroutines of this process.
type GoroutineDispatcher struct {
	handler Handler
	config  QueueConfig
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewGoroutineDispatcher creates an in-process dispatcher.
func NewGoroutineDispatcher(handler Handler, config QueueConfig) *GoroutineDispatcher {
	config = config.withDefaults()
	return &GoroutineDispatcher{
		handler: handler,
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxWorkers)),
	}
}

func (d *GoroutineDispatcher) Start(context.Context) error { return nil }

// Dispatch returns immediately. The run keeps the values of ctx (the
// request logger) but not its cancellation, so it outlives the request.
func (d *GoroutineDispatcher) Dispatch(ctx context.Context, event coreprocessor.TriggerEvent, trigger coreprocessor.Trigger) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logger := zerolog.Ctx(detached)

		if err := d.sem.Acquire(detached, 1); err != nil {
			logger.Error().Err(err).Msg("could not acquire worker slot")
			return
		}
		defer d.sem.Release(1)

		runCtx, cancel := context.WithTimeout(detached, d.config.JobTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("target", event.Target.String()).Msg("analysis worker panicked")
			}
		}()

		if err := d.handler(runCtx, event, trigger); err != nil {
			logger.Warn().Err(err).Str("target", event.Target.String()).Msg("analysis run ended with error")
		}
	}()
	return nil
}

// Stop rejects new dispatches and waits for in-flight runs until ctx ends.
func (d *GoroutineDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight runs: %w", ctx.Err())
	}
}

// Wait blocks until every dispatched run has returned. Tests use it.
func (d *GoroutineDispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
