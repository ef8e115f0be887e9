package core

import (
	"context"
	"time"
)

// ProbeState is a node of the alpha-fit probing state machine.
type ProbeState string

const (
	StateOriginal   ProbeState = "original"
	StateProbing    ProbeState = "probing"
	StateCommitted  ProbeState = "committed"
	StateRolledBack ProbeState = "rolled_back"
)

// Transition is one audited move of the probing state machine.
type Transition struct {
	From   ProbeState
	To     ProbeState
	Format Format // candidate on Probing, target on Committed, original on RolledBack
	Frame  int    // -1 when the transition spans the whole texture
}

// FitDecision is the outcome of an alpha-fit procedure.
type FitDecision struct {
	Original        Format
	Target          Format
	Family          Family
	LosslessApplied bool

	// Block-family intermediates; not persisted anywhere.
	Translucent bool
	BiLevel     bool
	Crushed     bool

	Reason string
	Trail  []Transition

	// FailedFrames lists frames whose re-injection failed; the rest were
	// still converted.
	FailedFrames []int
}

// Changed reports whether the decision moved the texture to a new format.
func (d *FitDecision) Changed() bool { return d != nil && d.Target != d.Original }

// RecompressMode selects between bit-exact and quality-bounded recompression.
type RecompressMode string

const (
	ModeLossless RecompressMode = "lossless"
	ModeLossy    RecompressMode = "lossy"
)

// Reductions toggles the structural reductions a lossless recompressor may try.
type Reductions struct {
	OptimizeAlpha      bool // normalise the colour of fully transparent pixels
	BitDepthReduction  bool
	ColorTypeReduction bool
	PaletteReduction   bool
	StripChunks        bool
	Scale16            bool // 16-bit to 8-bit where every sample is exact
}

// Structural reports whether any reduction beyond chunk stripping is on.
func (r Reductions) Structural() bool {
	return r.OptimizeAlpha || r.BitDepthReduction || r.ColorTypeReduction || r.PaletteReduction || r.Scale16
}

// AllReductions enables every structural reduction.
func AllReductions() Reductions {
	return Reductions{
		OptimizeAlpha:      true,
		BitDepthReduction:  true,
		ColorTypeReduction: true,
		PaletteReduction:   true,
		StripChunks:        true,
		Scale16:            true,
	}
}

// RecompressionOutcome describes one raster recompression run.
// OutputSize never exceeds InputSize.
type RecompressionOutcome struct {
	Mode       RecompressMode
	Intensity  int
	InputSize  int64
	OutputSize int64

	Effort         int // lossless only
	Speed          int // lossy only
	QualityCeiling int // lossy only

	FellBack       bool
	FallbackReason string

	// Mean CIE Lab distance between input and output; lossy only, -1 if unknown.
	PerceptualDelta float64
}

// Saved returns the number of bytes the run removed.
func (o *RecompressionOutcome) Saved() int64 { return o.InputSize - o.OutputSize }

// Level is the severity of an Event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a side-channel record emitted by public operations.
type Event struct {
	Time     time.Time
	Level    Level
	Op       string
	Category string
	Path     string
	Message  string
	Err      error
	Fields   map[string]any
}

// Asset is the unit of work that flows through a pipeline.
type Asset struct {
	Name       string
	InputPath  string
	OutputPath string

	// Texture is nil for raster assets and before a decode step runs.
	Texture Texture

	Decision      *FitDecision
	Recompression *RecompressionOutcome
	NormalMap     bool
	Shrunk        bool
	Halved        bool
	Resized       bool
	Baked         bool

	// Applied lists the steps that completed on this asset, in order.
	Applied []string
}

// ProcessingResult is returned to the caller after the full pipeline completes.
type ProcessingResult struct {
	Asset *Asset

	// Observability.
	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source names the input and destination of one asset.
type Source struct {
	InputPath  string
	OutputPath string
	Name       string // optional logical name
	// Texture lets callers hand over an already decoded handle.
	Texture Texture
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Source Source
	Steps  []Step
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ProcessingResult
	Err    error
}

// Step is the fundamental pipeline building block.  Steps mutate the asset's
// texture in place and must not share state across assets.
type Step interface {
	Name() string
	Execute(ctx context.Context, a *Asset) (*Asset, error)
}

// OutputClaimer is implemented by steps that write files other than the
// source's output path.  The processor locks every claimed path for the
// whole run.
type OutputClaimer interface {
	Claims(outputPath string) []string
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, a *Asset)
	AfterStep(ctx context.Context, stepName string, a *Asset, d time.Duration, err error)
}
