// Package recompress drives lossless or quality-bounded PNG recompression and
// guarantees the destination is never larger than the source.
package recompress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// DefaultMaxEffort is the top of the lossless effort scale.
const DefaultMaxEffort = 6

// Pipeline runs one recompression per call.  Lossless and Quantizer may be
// nil, in which case the corresponding mode always falls back to a copy.
type Pipeline struct {
	Lossless  core.LosslessRecompressor
	Quantizer core.Quantizer
	Recorder  core.Recorder
	Logger    core.Logger

	MaxEffort        int
	PerceptualReport bool
}

// New returns a Pipeline with the default effort scale and perceptual
// reporting on.
func New(lossless core.LosslessRecompressor, quantizer core.Quantizer, rec core.Recorder) *Pipeline {
	if rec == nil {
		rec = core.NopRecorder{}
	}
	return &Pipeline{
		Lossless:         lossless,
		Quantizer:        quantizer,
		Recorder:         rec,
		MaxEffort:        DefaultMaxEffort,
		PerceptualReport: true,
	}
}

// ── Parameter mapping ─────────────────────────────────────────────────────────

// ClampIntensity limits intensity to [0, 100].
func ClampIntensity(intensity int) int { return min(max(intensity, 0), 100) }

// EffortFor maps intensity onto [0, maxEffort].
func EffortFor(intensity, maxEffort int) int {
	return int(math.Round(float64(maxEffort) * float64(ClampIntensity(intensity)) / 100))
}

// SpeedFor maps intensity onto the quantizer's 1 (slowest) to 11 scale.
func SpeedFor(intensity int) int {
	return max(1, 11-int(math.Round(float64(ClampIntensity(intensity))/10)))
}

// QualityCeilingFor returns the upper bound of the accepted quality range.
func QualityCeilingFor(intensity int) int { return max(1, ClampIntensity(intensity)) }

// ── Run ───────────────────────────────────────────────────────────────────────

// Run recompresses inputPath into outputPath.  Tool failures and size
// regressions never surface as errors: the destination then receives the
// input bytes unchanged and the outcome reports FellBack.  Errors are
// returned only for unusable arguments or when the destination cannot be
// written.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string, intensity int, lossless bool) (*core.RecompressionOutcome, error) {
	if outputPath == "" {
		return nil, apperrors.New(apperrors.CategoryInput, "recompress", apperrors.ErrNoOutput)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "recompress", err)
	}
	inSize, ok, err := utils.FileSize(inputPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "recompress.stat", err)
	}
	if !ok {
		return nil, apperrors.New(apperrors.CategoryInput, "recompress",
			fmt.Errorf("%w: %s", os.ErrNotExist, inputPath))
	}

	intensity = ClampIntensity(intensity)
	outcome := &core.RecompressionOutcome{
		Intensity:       intensity,
		InputSize:       inSize,
		PerceptualDelta: -1,
	}

	tmp, err := tempSibling(outputPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "recompress.tmp", err)
	}
	defer os.Remove(tmp)

	op := "recompress.lossy"
	var toolErr error
	if lossless {
		op = "recompress.lossless"
		outcome.Mode = core.ModeLossless
		outcome.Effort = EffortFor(intensity, p.maxEffort())
		toolErr = p.runLossless(ctx, inputPath, tmp, outcome.Effort)
	} else {
		outcome.Mode = core.ModeLossy
		outcome.Speed = SpeedFor(intensity)
		outcome.QualityCeiling = QualityCeilingFor(intensity)
		toolErr = p.runLossy(ctx, inputPath, tmp, outcome.Speed, outcome.QualityCeiling)
	}

	outSize, _, err := utils.FileSize(tmp)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "recompress.stat", err)
	}

	switch {
	case toolErr != nil:
		p.fallBack(outcome, op, inputPath, apperrors.CategoryExternalTool, core.LevelWarn, toolErr)
	case outSize == 0:
		p.fallBack(outcome, op, inputPath, apperrors.CategoryExternalTool, core.LevelWarn,
			errors.New("tool produced no output"))
	case outSize >= inSize:
		p.fallBack(outcome, op, inputPath, apperrors.CategorySizeRegression, core.LevelInfo,
			fmt.Errorf("output %d bytes not smaller than input %d bytes", outSize, inSize))
	}

	if outcome.FellBack {
		if !samePath(inputPath, outputPath) {
			if err := utils.CopyFile(inputPath, outputPath); err != nil {
				return nil, apperrors.Wrap(apperrors.CategoryStorage, "recompress.copy", err)
			}
		}
		outcome.OutputSize = inSize
		if !lossless {
			outcome.PerceptualDelta = 0
		}
		return outcome, nil
	}

	if !lossless && p.PerceptualReport {
		outcome.PerceptualDelta = PerceptualDelta(inputPath, tmp)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "recompress.rename", err)
	}
	outcome.OutputSize = outSize
	if p.Logger != nil {
		p.Logger.Debug("recompress.done", "path", outputPath, "mode", string(outcome.Mode),
			"in", outcome.InputSize, "out", outcome.OutputSize)
	}
	return outcome, nil
}

func (p *Pipeline) maxEffort() int {
	if p.MaxEffort > 0 {
		return p.MaxEffort
	}
	return DefaultMaxEffort
}

func (p *Pipeline) runLossless(ctx context.Context, in, out string, effort int) error {
	if p.Lossless == nil {
		return apperrors.New(apperrors.CategoryExternalTool, "recompress.lossless", apperrors.ErrToolUnavailable)
	}
	return p.Lossless.Optimize(ctx, in, out, effort, core.AllReductions())
}

func (p *Pipeline) runLossy(ctx context.Context, in, out string, speed, quality int) error {
	if p.Quantizer == nil {
		return apperrors.New(apperrors.CategoryExternalTool, "recompress.lossy", apperrors.ErrToolUnavailable)
	}
	return p.Quantizer.Quantize(ctx, in, out, speed, quality, true)
}

func (p *Pipeline) fallBack(o *core.RecompressionOutcome, op, path string, cat apperrors.Category, lvl core.Level, cause error) {
	o.FellBack = true
	o.FallbackReason = cause.Error()
	p.recorder().Record(core.Event{
		Time:     time.Now(),
		Level:    lvl,
		Op:       op,
		Category: string(cat),
		Path:     path,
		Message:  "kept original bytes",
		Err:      cause,
	})
	if p.Logger != nil {
		p.Logger.Info("recompress.fallback", "path", path, "category", string(cat), "reason", o.FallbackReason)
	}
}

func (p *Pipeline) recorder() core.Recorder {
	if p.Recorder == nil {
		return core.NopRecorder{}
	}
	return p.Recorder
}

// tempSibling reserves an empty file next to path for tool output.
func tempSibling(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".recompress-*.png")
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(fa, fb)
}
