package session

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/helix/internal/logging"
	nopmetrics "github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/types"
)

// Step is one named stage of session establishment.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pipeline runs steps strictly in order.
type Pipeline struct {
	steps   []Step
	alive   func() bool
	logger  types.Logger
	metrics types.MetricsCollector
}

// NewPipeline creates a pipeline.
//
// Parameters:
//   - alive: Probe checked before every step; returning false aborts the run
//     (nil means always alive)
func NewPipeline(steps []Step, alive func() bool, logger types.Logger, metrics types.MetricsCollector) *Pipeline {
	if alive == nil {
		alive = func() bool { return true }
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = nopmetrics.NewNop()
	}

	return &Pipeline{steps: steps, alive: alive, logger: logger, metrics: metrics}
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}

	return names
}

// Run executes the steps until one fails.
//
// Completed steps are not rolled back.
//
// Returns:
//   - error: *types.StepError naming the failed step; a step that finds the
//     context cancelled or the probe false fails with types.ErrSessionAborted
func (p *Pipeline) Run(ctx context.Context) error {
	for _, step := range p.steps {
		if ctx.Err() != nil || !p.alive() {
			p.logger.Info("session establishment aborted", "step", step.Name)
			return &types.StepError{Step: step.Name, Err: types.ErrSessionAborted}
		}

		start := time.Now()
		err := step.Run(ctx)
		p.metrics.RecordSessionStep(step.Name, err == nil, time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", types.ErrSessionAborted, err)
			}
			p.logger.Warn("session step failed", "step", step.Name, "error", err)

			return &types.StepError{Step: step.Name, Err: err}
		}

		p.logger.Debug("session step completed", "step", step.Name, "duration", time.Since(start))
	}

	return nil
}
