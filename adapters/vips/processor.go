// Package vips provides a libvips-backed core.LosslessRecompressor.
//
// libvips only re-deflates the image here.  Palette, grey, bit-depth and
// alpha reductions run through Backend.Reducer when one is set, and the
// smaller of the two encodings is written.
package vips

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// MaxEffort is the top of the effort scale Optimize accepts.
const MaxEffort = 6

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend rewrites PNG files through libvips.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig

	// Reducer applies the structural reductions libvips cannot prove exact.
	Reducer core.LosslessRecompressor
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// CompressionFor maps effort in [0, MaxEffort] onto the zlib level 0-9.
func CompressionFor(effort int) int {
	effort = min(max(effort, 0), MaxEffort)
	return int(math.Round(float64(effort) * 9 / MaxEffort))
}

// Optimize re-exports inputPath as a PNG at outputPath.  libvips never
// quantizes here, so decoded pixels are unchanged.
func (b *Backend) Optimize(ctx context.Context, inputPath, outputPath string, effort int, r core.Reductions) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "vips.optimize", err)
	}
	if outputPath == "" {
		return apperrors.New(apperrors.CategoryInput, "vips.optimize", apperrors.ErrNoOutput)
	}

	ref, err := govips.NewImageFromFile(inputPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()
	if ref.Format() != govips.ImageTypePNG {
		return apperrors.New(apperrors.CategoryDecode, "vips.decode",
			fmt.Errorf("%w: %s is not a PNG", apperrors.ErrUnsupportedFormat, inputPath))
	}

	ep := govips.NewPngExportParams()
	ep.Compression = CompressionFor(effort)
	ep.StripMetadata = r.StripChunks
	ep.Filter = govips.PngFilterAll
	ep.Palette = false
	ep.Interlace = false

	buf, _, err := ref.ExportPng(ep)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "vips.optimize", err)
	}
	if b.Reducer != nil && r.Structural() {
		if reduced, err := b.reduce(ctx, buf, outputPath, effort, r); err == nil && len(reduced) < len(buf) {
			buf = reduced
		}
	}
	if err := utils.WriteFileAtomic(outputPath, buf, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "vips.write", err)
	}
	return nil
}

// reduce runs Reducer over the libvips encoding in a temporary sibling of
// outputPath and returns the result.
func (b *Backend) reduce(ctx context.Context, encoded []byte, outputPath string, effort int, r core.Reductions) ([]byte, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".vips-*.png")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	defer os.Remove(name)
	_, err = tmp.Write(encoded)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := b.Reducer.Optimize(ctx, name, name, effort, r); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

// compile-time interface check
var _ core.LosslessRecompressor = (*Backend)(nil)
