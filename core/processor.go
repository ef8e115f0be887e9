package core

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/asset-optimizer/config"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Processor is the central orchestrator.  It is safe for concurrent use.
type Processor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector
	recorder Recorder
	locks    *pathLocks

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		recorder: NopRecorder{},
		locks:    newPathLocks(),
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// SetRecorder attaches the side-channel event recorder.
func (p *Processor) SetRecorder(r Recorder) {
	if r == nil {
		r = NopRecorder{}
	}
	p.recorder = r
}

// Recorder returns the attached event recorder.
func (p *Processor) Recorder() Recorder { return p.recorder }

// AddHook registers a pipeline hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

func (p *Processor) workerCount() int {
	if p.cfg.WorkerCount > 0 {
		return p.cfg.WorkerCount
	}
	return runtime.NumCPU()
}

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workerCount(); i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers.  Jobs already picked up run to completion.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Process is the primary synchronous API.  It runs steps against one asset
// while holding the asset's output path exclusively.
func (p *Processor) Process(ctx context.Context, src Source, steps ...Step) (*ProcessingResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}
	if src.InputPath == "" && src.Texture == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()

	unlock := p.locks.lockAll(claimedPaths(src, steps))
	defer unlock()

	asset := &Asset{
		Name:       src.Name,
		InputPath:  src.InputPath,
		OutputPath: src.OutputPath,
		Texture:    src.Texture,
	}
	if asset.Name == "" && src.InputPath != "" {
		asset.Name = filepath.Base(src.InputPath)
	}

	timings := make(map[string]time.Duration, len(steps))
	current := asset
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		p.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, stepErr := p.runWithRetry(ctx, step, current)
		elapsed := time.Since(t)
		timings[step.Name()] = elapsed
		p.notifyAfter(ctx, step.Name(), next, elapsed, stepErr)
		if stepErr != nil {
			atomic.AddInt64(&p.errorCount, 1)
			p.recordFailure(step.Name(), current, stepErr)
			return nil, stepErr
		}
		next.Applied = append(next.Applied, step.Name())
		current = next
	}

	atomic.AddInt64(&p.processedCount, 1)

	return &ProcessingResult{
		Asset:          current,
		ProcessingTime: time.Since(start),
		StepTimings:    timings,
	}, nil
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch processes sources concurrently, at most WorkerCount at a time.  Once
// ctx is cancelled no further source is scheduled; sources already running
// finish on a detached context so no output file is left half written.
// A failing source never aborts its siblings.
func (p *Processor) Batch(ctx context.Context, sources []Source, steps ...Step) ([]*ProcessingResult, []error) {
	results := make([]*ProcessingResult, len(sources))
	errs := make([]error, len(sources))
	sem := make(chan struct{}, p.workerCount())
	inflight := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, src := range sources {
		select {
		case <-ctx.Done():
			errs[i] = apperrors.Wrap(apperrors.CategoryPipeline, "batch.schedule", ctx.Err())
			continue
		case sem <- struct{}{}:
		}
		if err := ctx.Err(); err != nil {
			<-sem
			errs[i] = apperrors.Wrap(apperrors.CategoryPipeline, "batch.schedule", err)
			continue
		}

		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			defer func() { <-sem }()
			jobCtx := inflight
			if p.cfg.JobTimeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(inflight, p.cfg.JobTimeout)
				defer cancel()
			}
			results[idx], errs[idx] = p.Process(jobCtx, s, steps...)
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := p.Process(ctx, job.Source, job.Steps...)
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: result, Err: err}
	}
}

func (p *Processor) runWithRetry(ctx context.Context, step Step, a *Asset) (*Asset, error) {
	maxRetries := p.cfg.MaxRetries
	delay := p.cfg.RetryDelay

	var (
		result *Asset
		err    error
	)
	for i := 0; i <= maxRetries; i++ {
		result, err = safeExecute(ctx, step, a)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return result, err
}

// safeExecute converts a panicking step into an error.
func safeExecute(ctx context.Context, step Step, a *Asset) (out *Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = apperrors.New(apperrors.CategoryPipeline, step.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	return step.Execute(ctx, a)
}

func (p *Processor) notifyBefore(ctx context.Context, name string, a *Asset) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, a)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, a *Asset, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, a, d, err)
	}
	if p.metrics != nil {
		p.metrics.RecordProcessingTime(name, d)
		if err != nil {
			p.metrics.RecordError(name, string(apperrors.CategoryOf(err)))
		}
	}
}

func (p *Processor) recordFailure(step string, a *Asset, err error) {
	path := a.InputPath
	if path == "" {
		path = a.OutputPath
	}
	p.recorder.Record(Event{
		Time:     time.Now(),
		Level:    LevelError,
		Op:       step,
		Category: string(apperrors.CategoryOf(err)),
		Path:     path,
		Message:  "step failed",
		Err:      err,
	})
	if p.logger != nil {
		p.logger.Error("pipeline.step.failed", "step", step, "path", path, "error", err.Error())
	}
}

// ProcessedCount returns the total number of successfully processed assets.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
