// Package pipeline wires asset steps together, runs hooks, and handles retries.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Pipeline executes a sequence of Steps against one asset with hook and
// retry support.  It is the standalone counterpart of core.Processor and
// holds no worker pool.  Completed steps are appended to Asset.Applied; a
// failing step is reported to the recorder before Run returns.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	recorder   core.Recorder
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRecorder reports step failures to r.
func (p *Pipeline) WithRecorder(r core.Recorder) *Pipeline {
	p.recorder = r
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Steps returns the configured steps in order.
func (p *Pipeline) Steps() []core.Step {
	out := make([]core.Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Run executes the pipeline on a.  It returns the final asset and the time
// spent in each step.
func (p *Pipeline) Run(ctx context.Context, a *core.Asset) (*core.Asset, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := a

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] = elapsed
		if err != nil {
			p.record(step.Name(), current, err)
			return nil, timings, err
		}
		result.Applied = append(result.Applied, step.Name())
		current = result
	}
	return current, timings, nil
}

func (p *Pipeline) record(step string, a *core.Asset, err error) {
	if p.recorder == nil {
		return
	}
	path := a.InputPath
	if path == "" {
		path = a.OutputPath
	}
	p.recorder.Record(core.Event{
		Time:     time.Now(),
		Level:    core.LevelError,
		Op:       step,
		Category: string(apperrors.CategoryOf(err)),
		Path:     path,
		Message:  "step failed",
		Err:      err,
	})
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, a *core.Asset) (*core.Asset, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), a)

	var (
		result  *core.Asset
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		result, err = step.Execute(ctx, a)
		elapsed = time.Since(start)

		if err == nil || !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			err = apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			i = attempts
		case <-time.After(p.retryDelay):
		}
	}

	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, a *core.Asset) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, a)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, a *core.Asset, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, a, d, err)
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      make([]core.Step, len(p.steps)),
		hooks:      make([]core.Hook, len(p.hooks)),
		recorder:   p.recorder,
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}
