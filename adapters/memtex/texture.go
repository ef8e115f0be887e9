// Package memtex is an in-memory core.Texture implementation.  Frames are
// kept as raw bytes in the texture's current format; every conversion goes
// through a normalized RGBA view, and resampling runs at 16 bits per channel.
package memtex

import (
	"bytes"
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
	"github.com/Skryldev/asset-optimizer/utils"
)

// Texture is a multi-frame texture held in memory.  It is not safe for
// concurrent mutation.
type Texture struct {
	width  int
	height int
	format core.Format
	frames [][]byte
	flags  core.TextureFlag
}

var (
	_ core.Texture = (*Texture)(nil)
	_ core.Flagged = (*Texture)(nil)
)

// New creates a texture from raw frames already laid out in f.
func New(w, h int, f core.Format, frames ...[]byte) (*Texture, error) {
	if err := checkShape(w, h, f, len(frames)); err != nil {
		return nil, err
	}
	want := f.FrameSize(w, h)
	t := &Texture{width: w, height: h, format: f, frames: make([][]byte, len(frames))}
	for i, fr := range frames {
		if len(fr) != want {
			return nil, apperrors.New(apperrors.CategoryInput, "memtex.new",
				fmt.Errorf("%w: frame %d has %d bytes, want %d", apperrors.ErrPixelLength, i, len(fr), want))
		}
		t.frames[i] = utils.CloneBytes(fr)
	}
	return t, nil
}

// FromRGBA creates a texture in format f from tightly packed RGBA frames.
func FromRGBA(w, h int, f core.Format, rgba ...[]byte) (*Texture, error) {
	if err := checkShape(w, h, f, len(rgba)); err != nil {
		return nil, err
	}
	t := &Texture{width: w, height: h, format: f, frames: make([][]byte, len(rgba))}
	for i, px := range rgba {
		raw, err := fromRGBA(f, px, w, h)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryInput, "memtex.from_rgba", err)
		}
		t.frames[i] = raw
	}
	return t, nil
}

func checkShape(w, h int, f core.Format, frames int) error {
	switch {
	case w <= 0 || h <= 0:
		return apperrors.New(apperrors.CategoryInput, "memtex.new",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, w, h))
	case !f.Valid():
		return apperrors.New(apperrors.CategoryInput, "memtex.new",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f))
	case frames == 0:
		return apperrors.New(apperrors.CategoryInput, "memtex.new", apperrors.ErrEmptyInput)
	}
	return nil
}

func (t *Texture) Width() int          { return t.width }
func (t *Texture) Height() int         { return t.height }
func (t *Texture) FrameCount() int     { return len(t.frames) }
func (t *Texture) Format() core.Format { return t.format }

func (t *Texture) HasFlag(f core.TextureFlag) bool { return t.flags&f != 0 }
func (t *Texture) SetFlag(f core.TextureFlag)      { t.flags |= f }

// Flags returns the raw flag bits.
func (t *Texture) Flags() core.TextureFlag { return t.flags }

func (t *Texture) frame(i int) ([]byte, error) {
	if i < 0 || i >= len(t.frames) {
		return nil, apperrors.New(apperrors.CategoryInput, "memtex.frame",
			fmt.Errorf("%w: %d of %d", apperrors.ErrFrameOutOfRange, i, len(t.frames)))
	}
	return t.frames[i], nil
}

func (t *Texture) RawPixels(frame int) ([]byte, error) {
	fr, err := t.frame(frame)
	if err != nil {
		return nil, err
	}
	return utils.CloneBytes(fr), nil
}

func (t *Texture) RGBA8888(frame int) ([]byte, error) {
	fr, err := t.frame(frame)
	if err != nil {
		return nil, err
	}
	px, err := toRGBA(t.format, fr, t.width, t.height)
	return px, apperrors.Wrap(apperrors.CategoryDecode, "memtex.rgba", err)
}

// SetFormat converts every frame to f.  On error the texture is unchanged.
func (t *Texture) SetFormat(f core.Format) error {
	if f == t.format {
		return nil
	}
	if !f.Valid() {
		return apperrors.New(apperrors.CategoryMutation, "memtex.set_format",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f))
	}
	next := make([][]byte, len(t.frames))
	for i, fr := range t.frames {
		wide, err := toWideAny(t.format, fr, t.width, t.height)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "memtex.set_format", err)
		}
		if next[i], err = fromWideAny(f, wide); err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "memtex.set_format", err)
		}
	}
	t.frames, t.format = next, f
	return nil
}

// SetPixels replaces one frame.  data laid out in another format is
// converted to the texture's current format.  Frames always match the
// texture's dimensions, so the filter is never consulted.
func (t *Texture) SetPixels(frame int, data []byte, f core.Format, _ core.ResizeFilter) error {
	if _, err := t.frame(frame); err != nil {
		return err
	}
	if f == t.format {
		if want := f.FrameSize(t.width, t.height); len(data) != want {
			return apperrors.New(apperrors.CategoryMutation, "memtex.set_pixels",
				fmt.Errorf("%w: got %d, want %d", apperrors.ErrPixelLength, len(data), want))
		}
		t.frames[frame] = utils.CloneBytes(data)
		return nil
	}
	wide, err := toWideAny(f, data, t.width, t.height)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "memtex.set_pixels", err)
	}
	raw, err := fromWideAny(t.format, wide)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "memtex.set_pixels", err)
	}
	t.frames[frame] = raw
	return nil
}

// Resize resamples every frame to w x h.  On error the texture is unchanged.
func (t *Texture) Resize(w, h int, filter core.ResizeFilter) error {
	if w <= 0 || h <= 0 {
		return apperrors.New(apperrors.CategoryMutation, "memtex.resize",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, w, h))
	}
	next := make([][]byte, len(t.frames))
	for i, fr := range t.frames {
		src, err := toWideAny(t.format, fr, t.width, t.height)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "memtex.resize", err)
		}
		if next[i], err = fromWideAny(t.format, scale(src, w, h, filter)); err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "memtex.resize", err)
		}
	}
	t.frames, t.width, t.height = next, w, h
	return nil
}

// Bake writes the texture to path as an MTEX container.
func (t *Texture) Bake(path string) error {
	data, err := marshal(t)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "memtex.bake", err)
	}
	return apperrors.Wrap(apperrors.CategoryStorage, "memtex.bake", utils.WriteFileAtomic(path, data, 0o644))
}

// scale resamples src.  FilterNice uses Lanczos3; the other filters map to
// the x/image/draw kernels of the same name.  A uniform frame is filled
// directly so its value survives exactly.
func scale(src *image.NRGBA64, w, h int, filter core.ResizeFilter) *image.NRGBA64 {
	dst := image.NewNRGBA64(image.Rect(0, 0, w, h))
	if px, ok := uniform(src); ok {
		for i := 0; i < len(dst.Pix); i += 8 {
			copy(dst.Pix[i:i+8], px)
		}
		return dst
	}
	switch filter {
	case core.FilterNice:
		lanczos(dst, src)
	case core.FilterCatmullRom:
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	case core.FilterBilinear:
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	default:
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return dst
}

func uniform(img *image.NRGBA64) ([]byte, bool) {
	first := img.Pix[:8]
	for i := 8; i < len(img.Pix); i += 8 {
		if !bytes.Equal(img.Pix[i:i+8], first) {
			return nil, false
		}
	}
	return first, true
}

// lanczos filters colour and alpha as separate opaque planes.  nfnt
// premultiplies translucent input, which rounds low-alpha colours away.
func lanczos(dst, src *image.NRGBA64) {
	colour := image.NewRGBA64(src.Rect)
	alpha := image.NewGray16(src.Rect)
	for i, j := 0, 0; i < len(src.Pix); i, j = i+8, j+2 {
		copy(colour.Pix[i:i+6], src.Pix[i:i+6])
		colour.Pix[i+6], colour.Pix[i+7] = 0xff, 0xff
		alpha.Pix[j], alpha.Pix[j+1] = src.Pix[i+6], src.Pix[i+7]
	}

	w, h := uint(dst.Rect.Dx()), uint(dst.Rect.Dy())
	c := image.NewRGBA64(dst.Rect)
	scaled := resize.Resize(w, h, colour, resize.Lanczos3)
	draw.Draw(c, c.Rect, scaled, scaled.Bounds().Min, draw.Src)
	a := image.NewGray16(dst.Rect)
	scaled = resize.Resize(w, h, alpha, resize.Lanczos3)
	draw.Draw(a, a.Rect, scaled, scaled.Bounds().Min, draw.Src)

	for i, j := 0, 0; i < len(dst.Pix); i, j = i+8, j+2 {
		copy(dst.Pix[i:i+6], c.Pix[i:i+6])
		dst.Pix[i+6], dst.Pix[i+7] = a.Pix[j], a.Pix[j+1]
	}
}
