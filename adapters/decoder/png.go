package decoder

import (
	"bytes"
	"context"
	"image/png"
	"os"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// PNG imports PNG sources using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(ext string) bool { return ext == ".png" }

func (p *PNG) Decode(ctx context.Context, path string) (core.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "png.read", err)
	}
	if !utils.IsPNG(raw) {
		return nil, apperrors.New(apperrors.CategoryDecode, "png.decode", apperrors.ErrUnsupportedFormat)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}
	return toTexture(img, "png.import")
}

var _ core.TextureDecoder = (*PNG)(nil)
