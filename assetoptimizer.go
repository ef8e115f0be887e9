// Package assetoptimizer picks the smallest storage format for game textures
// and recompresses PNG rasters without ever growing them.
package assetoptimizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Skryldev/asset-optimizer/adapters/decoder"
	"github.com/Skryldev/asset-optimizer/adapters/encoder"
	"github.com/Skryldev/asset-optimizer/adapters/memtex"
	"github.com/Skryldev/asset-optimizer/adapters/pngopt"
	"github.com/Skryldev/asset-optimizer/adapters/pngquant"
	"github.com/Skryldev/asset-optimizer/adapters/vips"
	"github.com/Skryldev/asset-optimizer/config"
	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/fit"
	"github.com/Skryldev/asset-optimizer/heuristics"
	"github.com/Skryldev/asset-optimizer/hooks"
	"github.com/Skryldev/asset-optimizer/pipeline"
	"github.com/Skryldev/asset-optimizer/recompress"
	"github.com/Skryldev/asset-optimizer/resize"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Optimizer is the primary entry point.  The boolean operations never panic
// and never return errors: failures are reported through the Recorder.
type Optimizer struct {
	inner *core.Processor
	reg   *core.DefaultRegistry
	cfg   config.Config

	recorder core.Recorder
	logger   core.Logger

	fitter     *fit.Fitter
	shrinker   *heuristics.SolidShrinker
	detector   heuristics.NormalMapDetector
	resizer    *resize.Resizer
	recompress *recompress.Pipeline
	exporter   *encoder.PNG
	vips       *vips.Backend
}

// New creates a fully wired Optimizer with decoders registered for MTEX
// containers and PNG, JPEG and WebP sources.
// Events go to a slog text handler on stderr at cfg.LogLevel until
// SetRecorder replaces it.
func New(cfg config.Config) (*Optimizer, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "new", err)
	}
	solidFilter, err := core.ParseFilter(cfg.Solid.Filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "new.solid", err)
	}
	resizeFilter, err := core.ParseFilter(cfg.Resize.Filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "new.resize", err)
	}
	carrier, err := core.ParseFormat(cfg.Resize.CarrierFormat)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "new.resize", err)
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(memtex.Ext, memtex.NewDecoder())
	reg.RegisterDecoder(".png", decoder.NewPNG())
	reg.RegisterDecoder(".jpg", decoder.NewJPEG())
	reg.RegisterDecoder(".jpeg", decoder.NewJPEG())
	reg.RegisterDecoder(".webp", decoder.NewWebP())

	sl := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: hooks.ParseLevel(cfg.LogLevel)}))
	o := &Optimizer{
		inner:    core.New(cfg, reg),
		reg:      reg,
		cfg:      cfg,
		shrinker: heuristics.NewSolidShrinker(cfg.Solid.Width, cfg.Solid.Height, solidFilter),
		detector: heuristics.NormalMapDetector{Min: cfg.NormalMap.MinMagnitude, Max: cfg.NormalMap.MaxMagnitude},
		resizer:  resize.New(carrier, resizeFilter),
		exporter: encoder.NewPNG(),
	}

	var lossless core.LosslessRecompressor = pngopt.New()
	if cfg.Recompress.Backend == config.LosslessVips {
		o.vips = vips.NewBackend(vips.BackendConfig{MaxWorkers: cfg.WorkerCount})
		o.vips.Reducer = pngopt.New()
		lossless = o.vips
	}
	o.recompress = recompress.New(lossless,
		pngquant.New(cfg.Recompress.QuantizerPath, cfg.Recompress.QuantizerTimeout), nil)
	o.recompress.MaxEffort = cfg.Recompress.MaxEffort
	o.recompress.PerceptualReport = cfg.Recompress.PerceptualReport

	o.SetRecorder(hooks.NewSlogRecorder(sl))
	return o, nil
}

// SetRecorder replaces the event recorder.  Call before processing starts.
func (o *Optimizer) SetRecorder(r core.Recorder) {
	if r == nil {
		r = core.NopRecorder{}
	}
	o.recorder = r
	o.fitter = fit.New(r)
	o.recompress.Recorder = r
	o.inner.SetRecorder(r)
}

// SetLogger attaches a structured logger.
func (o *Optimizer) SetLogger(l core.Logger) {
	o.logger = l
	o.recompress.Logger = l
	o.inner.SetLogger(l)
}

// SetMetrics attaches a metrics collector.
func (o *Optimizer) SetMetrics(m core.MetricsCollector) { o.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (o *Optimizer) AddHook(h core.Hook) { o.inner.AddHook(h) }

// RegisterDecoder registers a texture decoder for a file extension.
func (o *Optimizer) RegisterDecoder(ext string, d core.TextureDecoder) { o.reg.RegisterDecoder(ext, d) }

// SetQuantizer replaces the lossy recompressor.
func (o *Optimizer) SetQuantizer(q core.Quantizer) { o.recompress.Quantizer = q }

// SetLosslessRecompressor replaces the lossless recompressor.
func (o *Optimizer) SetLosslessRecompressor(l core.LosslessRecompressor) { o.recompress.Lossless = l }

// Start starts the background worker pool.
func (o *Optimizer) Start() { o.inner.Start() }

// Stop drains the worker pool and releases libvips when it was started.
func (o *Optimizer) Stop() {
	o.inner.Stop()
	if o.vips != nil {
		o.vips.Shutdown()
		o.vips = nil
	}
}

// Process executes the provided steps synchronously and returns the result.
func (o *Optimizer) Process(ctx context.Context, src core.Source, steps ...core.Step) (*core.ProcessingResult, error) {
	return o.inner.Process(ctx, src, steps...)
}

// Batch runs the same steps on multiple sources concurrently.
func (o *Optimizer) Batch(ctx context.Context, sources []core.Source, steps ...core.Step) ([]*core.ProcessingResult, []error) {
	return o.inner.Batch(ctx, sources, steps...)
}

// Submit enqueues an async job for the worker pool.
func (o *Optimizer) Submit(job core.Job) error { return o.inner.Submit(job) }

// NewPipeline creates a reusable, standalone pipeline that shares the
// optimizer's retry policy and recorder.
func (o *Optimizer) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	return pipeline.New().Use(steps...).WithRetry(o.cfg.MaxRetries, o.cfg.RetryDelay).WithRecorder(o.recorder)
}

// Stats returns lightweight processing statistics.
func (o *Optimizer) Stats() (processed, errors int64) {
	return o.inner.ProcessedCount(), o.inner.ErrorCount()
}

// ── Boolean operations ────────────────────────────────────────────────────────

// FitAlpha moves tex to the narrowest format that keeps its alpha and bakes
// it to outputPath.
func (o *Optimizer) FitAlpha(ctx context.Context, tex core.Texture, outputPath string, lossless bool) bool {
	return o.guard("fit_alpha", outputPath, func() error {
		d, err := o.fitter.Fit(ctx, tex, lossless)
		if err != nil {
			return err
		}
		if o.logger != nil {
			o.logger.Debug("fit_alpha.decision", "path", outputPath,
				"from", d.Original.String(), "to", d.Target.String(), "reason", d.Reason)
		}
		return bake(tex, outputPath)
	})
}

// ShrinkSolid collapses single-colour textures and bakes tex either way.
func (o *Optimizer) ShrinkSolid(ctx context.Context, tex core.Texture, outputPath string) bool {
	return o.guard("shrink_solid", outputPath, func() error {
		if _, err := o.shrinker.Shrink(ctx, tex); err != nil {
			return err
		}
		return bake(tex, outputPath)
	})
}

// IsNormalMap reports whether tex looks like a tangent-space normal map.
// Classification failures are recorded and reported as false.
func (o *Optimizer) IsNormalMap(tex core.Texture) bool {
	var normal bool
	o.guard("is_normal", "", func() error {
		var err error
		normal, err = o.detector.IsNormalMap(tex)
		return err
	})
	return normal
}

// HalveNormalMap halves tex once if it is a normal map and bakes it.
func (o *Optimizer) HalveNormalMap(ctx context.Context, tex core.Texture, outputPath string) bool {
	return o.guard("halve_normals", outputPath, func() error {
		h := &heuristics.NormalHalver{Detector: o.detector, Resizer: o.resizer}
		if _, err := h.Halve(ctx, tex); err != nil {
			return err
		}
		return bake(tex, outputPath)
	})
}

// ResizeTexture resamples tex to w x h keeping its format and bakes it.
// Matching dimensions bake the texture unchanged.
func (o *Optimizer) ResizeTexture(ctx context.Context, tex core.Texture, outputPath string, w, h int) bool {
	return o.guard("resize", outputPath, func() error {
		if _, err := o.resizer.Resize(ctx, tex, w, h); err != nil {
			return err
		}
		return bake(tex, outputPath)
	})
}

// RecompressRaster rewrites the PNG at inputPath into outputPath.
// intensity runs from 0 (fastest) to 100 (smallest).
func (o *Optimizer) RecompressRaster(ctx context.Context, inputPath, outputPath string, intensity int, lossless bool) bool {
	return o.guard("recompress", inputPath, func() error {
		_, err := o.recompress.Run(ctx, inputPath, outputPath, intensity, lossless)
		return err
	})
}

// RecompressDefault is RecompressRaster at the configured default intensity.
func (o *Optimizer) RecompressDefault(ctx context.Context, inputPath, outputPath string, lossless bool) bool {
	return o.RecompressRaster(ctx, inputPath, outputPath, o.cfg.Recompress.DefaultIntensity, lossless)
}

// Recompress is RecompressRaster returning the full outcome.
func (o *Optimizer) Recompress(ctx context.Context, inputPath, outputPath string, intensity int, lossless bool) (*core.RecompressionOutcome, error) {
	return o.recompress.Run(ctx, inputPath, outputPath, intensity, lossless)
}

// ExportPNG writes the first frame of tex to outputPath as a PNG.
func (o *Optimizer) ExportPNG(ctx context.Context, tex core.Texture, outputPath string) bool {
	return o.guard("export_png", outputPath, func() error {
		return o.exporter.Export(ctx, tex, 0, outputPath)
	})
}

func bake(tex core.Texture, path string) error {
	if path == "" {
		return apperrors.New(apperrors.CategoryInput, "bake", apperrors.ErrNoOutput)
	}
	if err := tex.Bake(path); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "bake", err)
	}
	return nil
}

// guard runs fn, converting errors and panics into a recorded event and a
// false result.
func (o *Optimizer) guard(op, path string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(op, path, apperrors.New(apperrors.CategoryPipeline, op, fmt.Errorf("panic: %v", r)))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		o.fail(op, path, err)
		return false
	}
	return true
}

func (o *Optimizer) fail(op, path string, err error) {
	o.recorder.Record(core.Event{
		Time:     time.Now(),
		Level:    core.LevelError,
		Op:       op,
		Category: string(apperrors.CategoryOf(err)),
		Path:     path,
		Message:  op + " failed",
		Err:      err,
	})
}

// ── Step constructors ─────────────────────────────────────────────────────────

// Decode returns a step that loads the asset's input through the registry.
func (o *Optimizer) Decode() core.Step { return &pipeline.DecodeStep{Registry: o.reg} }

// FitAlphaStep returns an alpha-fit step.
func (o *Optimizer) FitAlphaStep(lossless bool) core.Step {
	return &pipeline.FitAlphaStep{Fitter: o.fitter, Lossless: lossless}
}

// ShrinkSolidStep returns a solid-colour collapse step.
func (o *Optimizer) ShrinkSolidStep() core.Step {
	return &pipeline.ShrinkSolidStep{Shrinker: o.shrinker}
}

// HalveNormals returns a step halving normal maps once.
func (o *Optimizer) HalveNormals() core.Step {
	return &pipeline.HalveNormalsStep{Halver: &heuristics.NormalHalver{Detector: o.detector, Resizer: o.resizer}}
}

// Resize returns a format-preserving resize step.
func (o *Optimizer) Resize(w, h int) core.Step {
	return &pipeline.ResizeStep{Resizer: o.resizer, Width: w, Height: h}
}

// RecompressStep returns a raster recompression step.
func (o *Optimizer) RecompressStep(intensity int, lossless bool) core.Step {
	return &pipeline.RecompressStep{Pipeline: o.recompress, Intensity: intensity, Lossless: lossless}
}

// DefaultRecompressStep is RecompressStep at the configured default intensity.
func (o *Optimizer) DefaultRecompressStep(lossless bool) core.Step {
	return o.RecompressStep(o.cfg.Recompress.DefaultIntensity, lossless)
}

// ExportPNGStep returns a step writing frame 0 as a PNG next to the asset's
// output path; a following RecompressStep recompresses that PNG in place.
func (o *Optimizer) ExportPNGStep() core.Step {
	return &pipeline.ExportStep{Encoder: o.exporter}
}

// Bake returns a step that writes the texture to the asset's output path.
func Bake() core.Step { return &pipeline.BakeStep{} }

// ── Source constructors ───────────────────────────────────────────────────────

// FromFile creates a Source that decodes inputPath and writes outputPath.
func FromFile(inputPath, outputPath string) core.Source {
	return core.Source{InputPath: inputPath, OutputPath: outputPath}
}

// FromTexture creates a Source around an already decoded texture.
func FromTexture(name string, tex core.Texture, outputPath string) core.Source {
	return core.Source{Name: name, Texture: tex, OutputPath: outputPath}
}
