// Package resize changes texture dimensions through a lossless float carrier
// so block-compressed and packed formats are never resampled in place.
package resize

import (
	"context"
	"fmt"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Resizer switches a texture to Carrier, resamples it with Filter and
// switches it back to the format it started in.
type Resizer struct {
	Carrier core.Format
	Filter  core.ResizeFilter
}

// New returns a Resizer.  An invalid carrier falls back to RGBA32323232F.
func New(carrier core.Format, filter core.ResizeFilter) *Resizer {
	if !carrier.Valid() || carrier.IsBlockCompressed() {
		carrier = core.FormatRGBA32323232F
	}
	return &Resizer{Carrier: carrier, Filter: filter}
}

// Resize resamples tex to w x h and reports whether anything changed.
// Matching dimensions are a no-op.
func (r *Resizer) Resize(ctx context.Context, tex core.Texture, w, h int) (bool, error) {
	if tex == nil {
		return false, apperrors.New(apperrors.CategoryInput, "resize", apperrors.ErrNoTexture)
	}
	if w <= 0 || h <= 0 {
		return false, apperrors.New(apperrors.CategoryInput, "resize",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, w, h))
	}
	if tex.Width() == w && tex.Height() == h {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryPipeline, "resize", err)
	}

	orig := tex.Format()
	if err := tex.SetFormat(r.Carrier); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryMutation, "resize.carrier", err)
	}
	if err := tex.Resize(w, h, r.Filter); err != nil {
		_ = tex.SetFormat(orig)
		return false, apperrors.Wrap(apperrors.CategoryMutation, "resize.resample", err)
	}
	if err := tex.SetFormat(orig); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryMutation, "resize.restore", err)
	}
	return true, nil
}
