// Package pipeline runs an ordered sequence of named steps with per-step
// logging. Unlike a saga there is no compensation: once a step has committed
// state, later failures never undo it. Best-effort steps log their failure and
// let the pipeline continue.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Step is a single unit of work in a pipeline.
type Step struct {
	Name    string
	Execute func(ctx context.Context) error
	// BestEffort steps never fail the pipeline.
	BestEffort bool
	// Skip, when set and returning true, bypasses the step.
	Skip func() bool
}

// Pipeline executes steps in order.
type Pipeline struct {
	name   string
	steps  []Step
	logger *zap.Logger
	// halted is set by a step that finished the pipeline early.
	halted bool
}

// New creates an empty pipeline.
func New(name string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		name:   name,
		steps:  make([]Step, 0, 8),
		logger: logger,
	}
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) *Pipeline {
	p.steps = append(p.steps, step)
	return p
}

// Halt stops the pipeline after the current step without reporting an error.
// Steps call it when they have produced the final result on their own, e.g.
// when an idempotency check finds earlier work.
func (p *Pipeline) Halt() {
	p.halted = true
}

// Execute runs the steps. The first failing required step aborts the run and
// its name is wrapped into the returned error.
func (p *Pipeline) Execute(ctx context.Context) error {
	start := time.Now()
	p.logger.Debug("pipeline started", zap.String("pipeline", p.name))

	for _, step := range p.steps {
		if p.halted {
			p.logger.Debug("pipeline halted early",
				zap.String("pipeline", p.name),
				zap.String("next_step", step.Name),
			)
			return nil
		}
		if step.Skip != nil && step.Skip() {
			p.logger.Debug("skipping pipeline step",
				zap.String("pipeline", p.name),
				zap.String("step", step.Name),
			)
			continue
		}

		if err := step.Execute(ctx); err != nil {
			if step.BestEffort {
				p.logger.Warn("best-effort pipeline step failed",
					zap.String("pipeline", p.name),
					zap.String("step", step.Name),
					zap.Error(err),
				)
				continue
			}
			p.logger.Error("pipeline step failed",
				zap.String("pipeline", p.name),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			return fmt.Errorf("%s failed at step '%s': %w", p.name, step.Name, err)
		}
	}

	p.logger.Debug("pipeline completed",
		zap.String("pipeline", p.name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
