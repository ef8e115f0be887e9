// Package heuristics detects degenerate texture content: frames of a single
// colour, and tangent-space normal maps.
package heuristics

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/resize"
	"github.com/Skryldev/asset-optimizer/utils"
)

// ── Solid colour ──────────────────────────────────────────────────────────────

// SolidShrinker collapses textures whose every frame is one colour.
type SolidShrinker struct {
	Width  int
	Height int
	Filter core.ResizeFilter
}

// NewSolidShrinker returns a shrinker targeting w x h.
func NewSolidShrinker(w, h int, filter core.ResizeFilter) *SolidShrinker {
	return &SolidShrinker{Width: w, Height: h, Filter: filter}
}

// Shrink resizes tex to the target size when every frame is uniform, and
// reports whether it did.
func (s *SolidShrinker) Shrink(ctx context.Context, tex core.Texture) (bool, error) {
	if tex == nil {
		return false, apperrors.New(apperrors.CategoryInput, "solid", apperrors.ErrNoTexture)
	}
	for i := 0; i < tex.FrameCount(); i++ {
		if err := ctx.Err(); err != nil {
			return false, apperrors.Wrap(apperrors.CategoryPipeline, "solid", err)
		}
		px, err := tex.RGBA8888(i)
		if err != nil {
			return false, apperrors.Wrap(apperrors.CategoryClassify, "solid", err)
		}
		if !IsSolid(px) {
			return false, nil
		}
	}
	if err := tex.Resize(s.Width, s.Height, s.Filter); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryMutation, "solid.resize", err)
	}
	return true, nil
}

// IsSolid reports whether every RGBA quadruple in px equals the first.
func IsSolid(px []byte) bool {
	if len(px) < 4 {
		return false
	}
	r, g, b, a := px[0], px[1], px[2], px[3]
	for i := 4; i+3 < len(px); i += 4 {
		if px[i] != r || px[i+1] != g || px[i+2] != b || px[i+3] != a {
			return false
		}
	}
	return true
}

// ── Normal maps ───────────────────────────────────────────────────────────────

// NormalMapDetector flags textures whose decoded RGB vectors have a mean
// length inside [Min, Max] after mapping each channel to [-1, 1].
type NormalMapDetector struct {
	Min float64
	Max float64
}

// DefaultNormalMapDetector uses the empirically chosen 0.85..1.10 window.
func DefaultNormalMapDetector() NormalMapDetector {
	return NormalMapDetector{Min: 0.85, Max: 1.10}
}

// MeanMagnitude returns the mean vector length of frame 0.
func (d NormalMapDetector) MeanMagnitude(tex core.Texture) (float64, error) {
	if tex == nil {
		return 0, apperrors.New(apperrors.CategoryInput, "normalmap", apperrors.ErrNoTexture)
	}
	px, err := tex.RGBA8888(0)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryClassify, "normalmap", err)
	}
	n := len(px) / 4
	if n == 0 {
		return 0, apperrors.New(apperrors.CategoryClassify, "normalmap", apperrors.ErrEmptyInput)
	}
	mags := make([]float64, n)
	v := make([]float64, 3)
	for i := 0; i < n; i++ {
		for ch := 0; ch < 3; ch++ {
			v[ch] = float64(px[i*4+ch])/127.5 - 1
		}
		mags[i] = floats.Norm(v, 2)
	}
	return stat.Mean(mags, nil), nil
}

// IsNormalMap reports whether tex looks like a tangent-space normal map.
func (d NormalMapDetector) IsNormalMap(tex core.Texture) (bool, error) {
	m, err := d.MeanMagnitude(tex)
	if err != nil {
		return false, err
	}
	return m >= d.Min && m <= d.Max, nil
}

// ── Halve normals ─────────────────────────────────────────────────────────────

// NormalHalver halves the resolution of normal maps once.  Textures that
// implement core.Flagged remember the halving through core.FlagHalved;
// others are halved on every call.
type NormalHalver struct {
	Detector NormalMapDetector
	Resizer  *resize.Resizer
}

// Halve reports whether tex was treated as a normal map and marked halved.
func (h *NormalHalver) Halve(ctx context.Context, tex core.Texture) (bool, error) {
	if tex == nil {
		return false, apperrors.New(apperrors.CategoryInput, "halve", apperrors.ErrNoTexture)
	}
	flagged, canFlag := tex.(core.Flagged)
	if canFlag && flagged.HasFlag(core.FlagHalved) {
		return false, nil
	}
	normal, err := h.Detector.IsNormalMap(tex)
	if err != nil || !normal {
		return false, err
	}
	w, ht := utils.HalfDimensions(tex.Width(), tex.Height())
	if _, err := h.Resizer.Resize(ctx, tex, w, ht); err != nil {
		return false, fmt.Errorf("halve normal map: %w", err)
	}
	if canFlag {
		flagged.SetFlag(core.FlagHalved)
	}
	return true, nil
}
