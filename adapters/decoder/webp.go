package decoder

import (
	"bytes"
	"context"
	"os"

	"golang.org/x/image/webp"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// WebP imports WebP sources using golang.org/x/image/webp.
// NOTE: animated WebP is not supported; only the first frame is read.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(ext string) bool { return ext == ".webp" }

func (w *WebP) Decode(ctx context.Context, path string) (core.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "webp.read", err)
	}
	defer f.Close()

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "webp.read", err)
	}

	img, err := webp.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	return toTexture(img, "webp.import")
}

var _ core.TextureDecoder = (*WebP)(nil)
