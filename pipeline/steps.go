package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Skryldev/asset-optimizer/adapters/encoder"
	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/fit"
	"github.com/Skryldev/asset-optimizer/heuristics"
	"github.com/Skryldev/asset-optimizer/recompress"
	"github.com/Skryldev/asset-optimizer/resize"
)

func textureOf(a *core.Asset, step string) (core.Texture, error) {
	if a == nil || a.Texture == nil {
		return nil, apperrors.New(apperrors.CategoryInput, step, apperrors.ErrNoTexture)
	}
	return a.Texture, nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep loads a.InputPath through the decoder registered for its
// extension.  Assets that already carry a texture pass through.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	if a.Texture != nil {
		return a, nil
	}
	if a.InputPath == "" {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	ext := filepath.Ext(a.InputPath)
	dec, ok := s.Registry.DecoderFor(ext)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %q", apperrors.ErrNoDecoder, ext))
	}
	tex, err := dec.Decode(ctx, a.InputPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}
	a.Texture = tex
	return a, nil
}

// ── Alpha fit ─────────────────────────────────────────────────────────────────

// FitAlphaStep moves the texture to the narrowest format that keeps its
// alpha channel.
type FitAlphaStep struct {
	Fitter   *fit.Fitter
	Lossless bool
}

func (s *FitAlphaStep) Name() string { return "fit_alpha" }

func (s *FitAlphaStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	d, err := s.Fitter.Fit(ctx, tex, s.Lossless)
	if err != nil {
		return nil, err
	}
	a.Decision = d
	return a, nil
}

// ── Solid colour ──────────────────────────────────────────────────────────────

// ShrinkSolidStep collapses single-colour textures.
type ShrinkSolidStep struct {
	Shrinker *heuristics.SolidShrinker
}

func (s *ShrinkSolidStep) Name() string { return "shrink_solid" }

func (s *ShrinkSolidStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	shrunk, err := s.Shrinker.Shrink(ctx, tex)
	if err != nil {
		return nil, err
	}
	a.Shrunk = a.Shrunk || shrunk
	return a, nil
}

// ── Normal maps ───────────────────────────────────────────────────────────────

// HalveNormalsStep halves normal maps that were not halved before.
type HalveNormalsStep struct {
	Halver *heuristics.NormalHalver
}

func (s *HalveNormalsStep) Name() string { return "halve_normals" }

func (s *HalveNormalsStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	normal, err := s.Halver.Detector.IsNormalMap(tex)
	if err != nil {
		return nil, err
	}
	a.NormalMap = normal
	if !normal {
		return a, nil
	}
	halved, err := s.Halver.Halve(ctx, tex)
	if err != nil {
		return nil, err
	}
	a.Halved = a.Halved || halved
	return a, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep changes texture dimensions without changing its format.
type ResizeStep struct {
	Resizer       *resize.Resizer
	Width, Height int
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	changed, err := s.Resizer.Resize(ctx, tex, s.Width, s.Height)
	if err != nil {
		return nil, err
	}
	a.Resized = a.Resized || changed
	return a, nil
}

// ── Bake ──────────────────────────────────────────────────────────────────────

// BakeStep writes the texture to a.OutputPath.
type BakeStep struct{}

func (s *BakeStep) Name() string { return "bake" }

func (s *BakeStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	if a.OutputPath == "" {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrNoOutput)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if err := tex.Bake(a.OutputPath); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, s.Name(), err)
	}
	a.Baked = true
	return a, nil
}

// ExportStep writes one frame of the texture to Path as a PNG.  An empty
// Path exports next to a.OutputPath with a .png extension.  On success the
// asset's InputPath points at the exported file so a following
// RecompressStep picks it up.
type ExportStep struct {
	Encoder *encoder.PNG
	Frame   int
	Path    string
}

func (s *ExportStep) Name() string { return "export_png" }

// Claims reports the PNG path written for an asset bound for outputPath.
func (s *ExportStep) Claims(outputPath string) []string {
	if p := s.target(outputPath); p != "" {
		return []string{p}
	}
	return nil
}

func (s *ExportStep) target(outputPath string) string {
	if s.Path != "" || outputPath == "" {
		return s.Path
	}
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
}

func (s *ExportStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	tex, err := textureOf(a, s.Name())
	if err != nil {
		return nil, err
	}
	path := s.target(a.OutputPath)
	if err := s.Encoder.Export(ctx, tex, s.Frame, path); err != nil {
		return nil, err
	}
	a.InputPath = path
	a.OutputPath = path
	return a, nil
}

// ── Raster recompression ──────────────────────────────────────────────────────

// RecompressStep rewrites the PNG at a.InputPath into a.OutputPath.  It
// works on files only and ignores any decoded texture.
type RecompressStep struct {
	Pipeline  *recompress.Pipeline
	Intensity int
	Lossless  bool
}

func (s *RecompressStep) Name() string { return "recompress" }

func (s *RecompressStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	if a.InputPath == "" {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrEmptyInput)
	}
	out := a.OutputPath
	if out == "" {
		out = a.InputPath
	}
	o, err := s.Pipeline.Run(ctx, a.InputPath, out, s.Intensity, s.Lossless)
	if err != nil {
		return nil, err
	}
	a.Recompression = o
	return a, nil
}

// compile-time interface checks
var (
	_ core.Step          = (*DecodeStep)(nil)
	_ core.Step          = (*FitAlphaStep)(nil)
	_ core.Step          = (*ShrinkSolidStep)(nil)
	_ core.Step          = (*HalveNormalsStep)(nil)
	_ core.Step          = (*ResizeStep)(nil)
	_ core.Step          = (*BakeStep)(nil)
	_ core.Step          = (*ExportStep)(nil)
	_ core.OutputClaimer = (*ExportStep)(nil)
	_ core.Step          = (*RecompressStep)(nil)
)
