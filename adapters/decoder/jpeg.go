// Package decoder imports source rasters as in-memory textures so they can
// flow through the same steps as baked MTEX assets.
package decoder

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"

	"github.com/Skryldev/asset-optimizer/adapters/memtex"
	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// JPEG imports JPEG sources using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(ext string) bool { return ext == ".jpg" || ext == ".jpeg" }

func (j *JPEG) Decode(ctx context.Context, path string) (core.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "jpeg.read", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return toTexture(img, "jpeg.import")
}

// toTexture copies img into a single-frame texture.  Images with any
// non-opaque pixel become BGRA8888, the rest BGR888.
func toTexture(img image.Image, op string) (*memtex.Texture, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, apperrors.New(apperrors.CategoryDecode, op,
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, b.Dx(), b.Dy()))
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*b.Dx() {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	f := core.FormatBGR888
	if hasAlpha(nrgba.Pix) {
		f = core.FormatBGRA8888
	}
	tex, err := memtex.FromRGBA(b.Dx(), b.Dy(), f, nrgba.Pix)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	return tex, nil
}

func hasAlpha(pix []byte) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0xff {
			return true
		}
	}
	return false
}

var _ core.TextureDecoder = (*JPEG)(nil)
