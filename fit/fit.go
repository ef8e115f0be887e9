// Package fit chooses the narrowest storage format that still reproduces a
// texture's alpha channel, and applies it in place.
package fit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Fitter applies the alpha-fit procedure for each format family.
// It holds no per-texture state and is safe for concurrent use.
type Fitter struct {
	recorder core.Recorder
}

// New returns a Fitter that reports non-fatal per-frame failures to r.
func New(r core.Recorder) *Fitter {
	if r == nil {
		r = core.NopRecorder{}
	}
	return &Fitter{recorder: r}
}

// Fit classifies tex by format family and switches it to the narrowest
// format whose alpha handling reproduces the original.  The texture is not
// baked.
func (f *Fitter) Fit(ctx context.Context, tex core.Texture, lossless bool) (*core.FitDecision, error) {
	if tex == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "fit", apperrors.ErrNoTexture)
	}
	orig := tex.Format()
	fam, ok := core.FamilyOf(orig)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryClassify, "fit",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, orig))
	}

	d := &core.FitDecision{Original: orig, Target: orig, Family: fam, LosslessApplied: lossless}
	switch fam {
	case core.FamilyBlockAlpha:
		return d, f.fitBlock(ctx, tex, d, lossless)
	case core.FamilyDirectAlpha, core.FamilyShiftedAlpha, core.FamilyFreeAlpha:
		return d, f.fitChannels(ctx, tex, d)
	case core.FamilyOther:
		d.Reason = "format has no alpha-fit rule"
		return d, nil
	}
	return d, nil
}

// ── Block family ──────────────────────────────────────────────────────────────

type alphaScan struct {
	allZero   bool
	allOpaque bool
	partial   bool // some 0 < a < 255
}

func scanAlpha(rgba []byte) alphaScan {
	s := alphaScan{allZero: true, allOpaque: true}
	for i := 3; i < len(rgba); i += 4 {
		a := rgba[i]
		if a != 0 {
			s.allZero = false
		}
		if a != 255 {
			s.allOpaque = false
			if a != 0 {
				s.partial = true
				return s
			}
		}
	}
	return s
}

func (f *Fitter) fitBlock(ctx context.Context, tex core.Texture, d *core.FitDecision, lossless bool) (err error) {
	s, err := newSession(tex)
	if err != nil {
		return err
	}
	defer func() {
		d.Trail = s.trail
		if err != nil {
			s.abort()
		}
	}()

	// Opaque frames seen before the first bi-level frame; once one-bit alpha
	// becomes the candidate they must be proven exact as well.
	var opaque []int
frames:
	for i := 0; i < tex.FrameCount(); i++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CategoryPipeline, "fit.block", err)
		}
		if err := s.rollback(i); err != nil {
			return err
		}
		px, err := tex.RGBA8888(i)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryClassify, "fit.block", err)
		}

		scan := scanAlpha(px)
		if scan.allZero {
			d.Reason = fmt.Sprintf("frame %d is fully transparent", i)
			return s.commit(d.Original)
		}
		if scan.partial {
			d.Translucent = true
			break
		}
		if scan.allOpaque && !d.BiLevel {
			opaque = append(opaque, i)
			continue
		}
		pending := []int{i}
		if !d.BiLevel {
			d.BiLevel = true
			pending = append(opaque, i)
		}
		if !lossless {
			continue
		}

		for _, j := range pending {
			exact, err := exactUnder(s, tex, core.FormatDXT1OneBitAlpha, j)
			if err != nil {
				return err
			}
			if !exact {
				d.Crushed = true
				break frames
			}
		}
	}

	switch {
	case d.Translucent:
		d.Target, d.Reason = d.Original, "translucent alpha"
	case d.BiLevel && d.Crushed:
		d.Target, d.Reason = d.Original, "one-bit alpha changes pixels"
	case d.BiLevel:
		d.Target, d.Reason = core.FormatDXT1OneBitAlpha, "one-bit alpha"
	default:
		d.Target, d.Reason = core.FormatDXT1, "opaque"
	}
	return s.commit(d.Target)
}

// exactUnder reports whether frame i decodes to the same pixels after the
// whole texture is switched to candidate.  The probe is left in place.
func exactUnder(s *session, tex core.Texture, candidate core.Format, i int) (bool, error) {
	if err := s.rollback(i); err != nil {
		return false, err
	}
	before, err := tex.RGBA8888(i)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryClassify, "fit.block", err)
	}
	if err := s.probe(candidate, i); err != nil {
		return false, err
	}
	after, err := tex.RGBA8888(i)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryClassify, "fit.block", err)
	}
	return bytes.Equal(before, after), nil
}

// ── 8888 families ─────────────────────────────────────────────────────────────

func (f *Fitter) fitChannels(ctx context.Context, tex core.Texture, d *core.FitDecision) error {
	layout, ok := core.AlphaLayout(d.Original)
	if !ok {
		return apperrors.New(apperrors.CategoryClassify, "fit.channels",
			fmt.Errorf("%w: no channel layout for %s", apperrors.ErrUnsupportedFormat, d.Original))
	}

	if d.Family == core.FamilyFreeAlpha {
		if err := tex.SetFormat(layout.Target); err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "fit.channels", err)
		}
		d.Target, d.Reason = layout.Target, "alpha byte unused"
		return nil
	}

	frames := make([][]byte, tex.FrameCount())
	for i := range frames {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CategoryPipeline, "fit.channels", err)
		}
		raw, err := tex.RawPixels(i)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryClassify, "fit.channels", err)
		}
		if hasAlpha(raw, layout.AlphaIndex) {
			d.Reason = fmt.Sprintf("frame %d uses alpha", i)
			return nil
		}
		frames[i] = raw
	}

	if err := tex.SetFormat(layout.Target); err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "fit.channels", err)
	}
	d.Target, d.Reason = layout.Target, "opaque"
	if d.Family == core.FamilyDirectAlpha {
		return nil
	}

	// Shifted layouts are re-packed explicitly; a frame that fails keeps
	// whatever SetFormat produced for it.
	for i, raw := range frames {
		if err := tex.SetPixels(i, swizzle(raw, layout.Swizzle), layout.Target, core.FilterNice); err != nil {
			d.FailedFrames = append(d.FailedFrames, i)
			f.recorder.Record(core.Event{
				Time:     time.Now(),
				Level:    core.LevelWarn,
				Op:       "fit.reswizzle",
				Category: string(apperrors.CategoryMutation),
				Message:  "frame re-injection failed",
				Err:      err,
				Fields:   map[string]any{"frame": i, "format": layout.Target.String()},
			})
		}
	}
	return nil
}

func hasAlpha(raw []byte, idx int) bool {
	for i := idx; i < len(raw); i += 4 {
		if raw[i] < 255 {
			return true
		}
	}
	return false
}

// swizzle packs 4-byte pixels into 3-byte pixels, taking byte order[k] of
// each source pixel for output byte k.
func swizzle(raw []byte, order [3]int) []byte {
	n := len(raw) / 4
	out := make([]byte, n*3)
	for p := 0; p < n; p++ {
		s := raw[p*4 : p*4+4]
		out[p*3], out[p*3+1], out[p*3+2] = s[order[0]], s[order[1]], s[order[2]]
	}
	return out
}
