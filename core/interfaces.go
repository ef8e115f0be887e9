package core

import "context"

// Texture is the adapter contract over a decoded texture handle.  The core
// borrows a Texture for one decision call and may mutate it in place; only
// Bake has externally visible side effects.
type Texture interface {
	Width() int
	Height() int
	FrameCount() int
	Format() Format

	// SetFormat converts every frame to f.
	SetFormat(f Format) error
	// RawPixels returns a copy of frame's bytes in the current format.
	RawPixels(frame int) ([]byte, error)
	// RGBA8888 returns frame normalized to tightly packed R,G,B,A bytes.
	RGBA8888(frame int) ([]byte, error)
	// SetPixels replaces frame with data laid out in format.
	SetPixels(frame int, data []byte, format Format, filter ResizeFilter) error
	// Resize resamples every frame to w x h.
	Resize(w, h int, filter ResizeFilter) error
	// Bake serialises the current state to path.
	Bake(path string) error
}

// Flagged is implemented by textures that persist marker bits.
type Flagged interface {
	HasFlag(f TextureFlag) bool
	SetFlag(f TextureFlag)
}

// TextureDecoder produces Texture handles from files.
// Implementations live in adapters/.
type TextureDecoder interface {
	Decode(ctx context.Context, path string) (Texture, error)
	// CanDecode reports whether this decoder handles the given file extension
	// (lower case, with the leading dot).
	CanDecode(ext string) bool
}

// LosslessRecompressor rewrites a raster file without changing decoded pixels.
type LosslessRecompressor interface {
	Optimize(ctx context.Context, inputPath, outputPath string, effort int, r Reductions) error
}

// Quantizer performs quality-bounded lossy recompression of a raster file.
type Quantizer interface {
	Quantize(ctx context.Context, inputPath, outputPath string, speed, qualityCeiling int, stripMetadata bool) error
}

// Recorder receives side-channel events from public operations.
type Recorder interface {
	Record(e Event)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps file extensions to TextureDecoder implementations.
type Registry interface {
	DecoderFor(ext string) (TextureDecoder, bool)
	RegisterDecoder(ext string, d TextureDecoder)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
