// Package pngopt is a pure-Go lossless PNG recompressor.  It decodes the
// input once, builds every structural reduction the pixels allow (8-bit
// scaling, greyscale, palette) and encodes each at a range of deflate levels,
// keeping the smallest result.  Decoded pixels never change.
package pngopt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// MaxEffort is the top of the effort scale.
const MaxEffort = 6

// Optimizer implements core.LosslessRecompressor.
// Safe for concurrent use.
type Optimizer struct {
	buffers encoderBuffers
}

// New returns a ready Optimizer.
func New() *Optimizer { return &Optimizer{} }

// Optimize rewrites inputPath to outputPath.  effort in [0, MaxEffort] widens
// the search; r selects which reductions may be attempted.
func (o *Optimizer) Optimize(ctx context.Context, inputPath, outputPath string, effort int, r core.Reductions) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "pngopt", err)
	}
	if outputPath == "" {
		return apperrors.New(apperrors.CategoryInput, "pngopt", apperrors.ErrNoOutput)
	}
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "pngopt.read", err)
	}
	if !utils.IsPNG(raw) {
		return apperrors.New(apperrors.CategoryDecode, "pngopt.decode",
			fmt.Errorf("%w: %s is not a PNG", apperrors.ErrUnsupportedFormat, inputPath))
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDecode, "pngopt.decode", err)
	}

	src := canonical(img)
	if r.OptimizeAlpha {
		clearTransparent(src)
	}
	cands := candidates(src, analyse(src), sixteenBit(img), r)
	if effort <= 1 {
		cands = cands[:1]
	}

	var best []byte
	for _, c := range cands {
		for _, level := range levelsFor(effort) {
			if err := ctx.Err(); err != nil {
				return apperrors.Wrap(apperrors.CategoryPipeline, "pngopt", err)
			}
			out, err := o.encode(c, level)
			if err != nil {
				return apperrors.Wrap(apperrors.CategoryEncode, "pngopt.encode", err)
			}
			if best == nil || len(out) < len(best) {
				best = out
			}
		}
	}

	if !r.StripChunks {
		best = spliceAncillary(best, ancillaryChunks(raw))
	}
	if err := utils.WriteFileAtomic(outputPath, best, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "pngopt.write", err)
	}
	return nil
}

func (o *Optimizer) encode(img image.Image, level png.CompressionLevel) ([]byte, error) {
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	enc := png.Encoder{CompressionLevel: level, BufferPool: &o.buffers}
	if err := enc.Encode(buf, img); err != nil {
		return nil, err
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

// levelsFor maps effort to the deflate levels tried per candidate.
func levelsFor(effort int) []png.CompressionLevel {
	switch {
	case effort >= MaxEffort:
		return []png.CompressionLevel{png.BestSpeed, png.DefaultCompression, png.BestCompression}
	case effort >= 4:
		return []png.CompressionLevel{png.DefaultCompression, png.BestCompression}
	default:
		return []png.CompressionLevel{png.DefaultCompression}
	}
}

// encoderBuffers lets concurrent Optimize calls share png encoder state.
type encoderBuffers struct{ pool sync.Pool }

func (e *encoderBuffers) Get() *png.EncoderBuffer {
	b, _ := e.pool.Get().(*png.EncoderBuffer)
	return b
}

func (e *encoderBuffers) Put(b *png.EncoderBuffer) { e.pool.Put(b) }

var _ core.LosslessRecompressor = (*Optimizer)(nil)
