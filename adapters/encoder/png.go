// Package encoder exports texture frames as raster files.
package encoder

import (
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// PNG writes one texture frame as an 8-bit RGBA PNG.  The export is exact
// for every format whose RGBA8888 view is exact; the result can be fed to
// the raster recompression pipeline.
type PNG struct {
	CompressionLevel png.CompressionLevel
}

func NewPNG() *PNG { return &PNG{CompressionLevel: png.DefaultCompression} }

// Export writes frame of tex to path atomically.
func (p *PNG) Export(ctx context.Context, tex core.Texture, frame int, path string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "png.export", err)
	}
	if tex == nil {
		return apperrors.New(apperrors.CategoryInput, "png.export", apperrors.ErrNoTexture)
	}
	if path == "" {
		return apperrors.New(apperrors.CategoryInput, "png.export", apperrors.ErrNoOutput)
	}
	if frame < 0 || frame >= tex.FrameCount() {
		return apperrors.New(apperrors.CategoryInput, "png.export",
			fmt.Errorf("%w: %d of %d", apperrors.ErrFrameOutOfRange, frame, tex.FrameCount()))
	}

	px, err := tex.RGBA8888(frame)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDecode, "png.export", err)
	}
	img := &image.NRGBA{Pix: px, Stride: 4 * tex.Width(), Rect: image.Rect(0, 0, tex.Width(), tex.Height())}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	enc := &png.Encoder{CompressionLevel: p.CompressionLevel}
	if err := enc.Encode(buf, img); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "png.export", err)
	}
	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "png.export", err)
	}
	return nil
}
