// Package llm invokes the reasoning service behind an ordered fallback chain.
package llm

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Strategy produces raw analysis data for a payload.
type Strategy interface {
	Name() string
	Generate(ctx context.Context, payload coreprocessor.Payload) (any, error)
}

// Step is one strategy with its own hard deadline.
type Step struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Invoker tries each step in order and never fails: the final fallback is
// the deterministic default analysis.
type Invoker struct {
	steps    []Step
	fallback *DefaultStrategy
}

// NewInvoker creates an invoker. A DefaultStrategy is always appended.
func NewInvoker(steps ...Step) *Invoker {
	inv := &Invoker{fallback: &DefaultStrategy{}}
	for _, s := range steps {
		if s.Strategy == nil {
			continue
		}
		if s.Timeout <= 0 {
			s.Timeout = 60 * time.Second
		}
		inv.steps = append(inv.steps, s)
	}
	inv.steps = append(inv.steps, Step{Strategy: inv.fallback, Timeout: 5 * time.Second})
	return inv
}

// Invoke runs the chain. The result is always successful; Provenance names
// the strategy that produced Data.
func (inv *Invoker) Invoke(ctx context.Context, payload coreprocessor.Payload) coreprocessor.AnalysisResult {
	logger := zerolog.Ctx(ctx)
	var attempts []string

	for _, step := range inv.steps {
		name := step.Strategy.Name()
		start := time.Now()

		data, err := inv.attempt(ctx, step, payload)
		if err == nil && data == nil {
			err = fmt.Errorf("%s strategy returned no data", name)
		}
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			logger.Warn().Err(err).Str("strategy", name).Dur("elapsed", time.Since(start)).Msg("analysis strategy failed")
			continue
		}

		attempts = append(attempts, name+": ok")
		logger.Info().Str("provenance", name).Dur("elapsed", time.Since(start)).Msg("analysis produced")
		return coreprocessor.AnalysisResult{
			Success:    true,
			Data:       data,
			Provenance: name,
			Attempts:   attempts,
		}
	}

	// Only reachable if the default strategy itself was cut off.
	return coreprocessor.AnalysisResult{
		Success:    true,
		Data:       inv.fallback.analysis(payload),
		Provenance: coreprocessor.ProvenanceDefault,
		Attempts:   attempts,
	}
}

type outcome struct {
	data any
	err  error
}

// attempt runs one strategy under its own timeout. A strategy that ignores
// its context is abandoned when the deadline passes.
func (inv *Invoker) attempt(parent context.Context, step Step, payload coreprocessor.Payload) (any, error) {
	ctx, cancel := context.WithTimeout(parent, step.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zerolog.Ctx(parent).Error().
					Str("strategy", step.Strategy.Name()).
					Str("stack", string(debug.Stack())).
					Msgf("strategy panicked: %v", r)
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		data, err := step.Strategy.Generate(ctx, payload)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out after %s: %w", step.Timeout, ctx.Err())
	}
}
