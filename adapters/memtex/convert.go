package memtex

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/x448/float16"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// toRGBA decodes a frame stored in f to tightly packed R,G,B,A bytes.
func toRGBA(f core.Format, data []byte, w, h int) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f)
	}
	if want := f.FrameSize(w, h); len(data) != want || want == 0 {
		return nil, fmt.Errorf("%w: %s %dx%d wants %d bytes, got %d",
			apperrors.ErrPixelLength, f, w, h, want, len(data))
	}
	switch f {
	case core.FormatDXT1:
		return decodeBC1(data, w, h, false), nil
	case core.FormatDXT1OneBitAlpha:
		return decodeBC1(data, w, h, true), nil
	case core.FormatDXT3:
		return decodeBC2(data, w, h), nil
	case core.FormatDXT5:
		return decodeBC3(data, w, h), nil
	case core.FormatRGBA16161616F, core.FormatRGBA32323232F:
		wide := toWide(f, data, w, h)
		out := make([]byte, w*h*4)
		for i := range out {
			out[i] = narrow(uint16(wide.Pix[i*2])<<8 | uint16(wide.Pix[i*2+1]))
		}
		return out, nil
	}

	n := w * h
	bpp := f.BytesPerPixel()
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := data[i*bpp : i*bpp+bpp]
		d := out[i*4 : i*4+4]
		switch f {
		case core.FormatRGBA8888, core.FormatUVWQ8888, core.FormatUVLX8888:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
		case core.FormatABGR8888:
			d[0], d[1], d[2], d[3] = s[3], s[2], s[1], s[0]
		case core.FormatARGB8888:
			// stored G, B, A, R
			d[0], d[1], d[2], d[3] = s[3], s[0], s[1], s[2]
		case core.FormatBGRA8888:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		case core.FormatBGRX8888:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 255
		case core.FormatRGB888:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 255
		case core.FormatBGR888:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 255
		case core.FormatRGB565:
			e := rgb565(binary.LittleEndian.Uint16(s)).expand()
			d[0], d[1], d[2], d[3] = uint8(e[0]), uint8(e[1]), uint8(e[2]), 255
		case core.FormatI8:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], 255
		case core.FormatIA88:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], s[1]
		case core.FormatA8:
			d[0], d[1], d[2], d[3] = 0, 0, 0, s[0]
		case core.FormatUV88:
			d[0], d[1], d[2], d[3] = s[0], s[1], 0, 255
		default:
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f)
		}
	}
	return out, nil
}

// fromRGBA encodes tightly packed R,G,B,A bytes into f.
func fromRGBA(f core.Format, rgba []byte, w, h int) ([]byte, error) {
	if len(rgba) != w*h*4 {
		return nil, fmt.Errorf("%w: rgba %dx%d wants %d bytes, got %d",
			apperrors.ErrPixelLength, w, h, w*h*4, len(rgba))
	}
	switch f {
	case core.FormatDXT1:
		return encodeBC1(rgba, w, h, false), nil
	case core.FormatDXT1OneBitAlpha:
		return encodeBC1(rgba, w, h, true), nil
	case core.FormatDXT3:
		return encodeBC2(rgba, w, h), nil
	case core.FormatDXT5:
		return encodeBC3(rgba, w, h), nil
	case core.FormatRGBA16161616F, core.FormatRGBA32323232F:
		return fromWide(f, widen(rgba, w, h)), nil
	}

	bpp := f.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f)
	}
	n := w * h
	out := make([]byte, n*bpp)
	for i := 0; i < n; i++ {
		s := rgba[i*4 : i*4+4]
		d := out[i*bpp : i*bpp+bpp]
		switch f {
		case core.FormatRGBA8888, core.FormatUVWQ8888, core.FormatUVLX8888:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
		case core.FormatABGR8888:
			d[0], d[1], d[2], d[3] = s[3], s[2], s[1], s[0]
		case core.FormatARGB8888:
			d[0], d[1], d[2], d[3] = s[1], s[2], s[3], s[0]
		case core.FormatBGRA8888:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		case core.FormatBGRX8888:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 255
		case core.FormatRGB888:
			d[0], d[1], d[2] = s[0], s[1], s[2]
		case core.FormatBGR888:
			d[0], d[1], d[2] = s[2], s[1], s[0]
		case core.FormatRGB565:
			binary.LittleEndian.PutUint16(d, uint16(pack565(s[0], s[1], s[2])))
		case core.FormatI8:
			d[0] = luma(s)
		case core.FormatIA88:
			d[0], d[1] = luma(s), s[3]
		case core.FormatA8:
			d[0] = s[3]
		case core.FormatUV88:
			d[0], d[1] = s[0], s[1]
		default:
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f)
		}
	}
	return out, nil
}

func luma(s []byte) uint8 {
	return uint8((299*int(s[0]) + 587*int(s[1]) + 114*int(s[2]) + 500) / 1000)
}

// narrow maps a 16-bit channel onto 8 bits with rounding; v*257 maps back to v.
func narrow(v uint16) uint8 {
	return uint8((uint32(v)*255 + 32767) / 65535)
}

// ── float carriers ────────────────────────────────────────────────────────────

// toWide decodes a frame into 16-bit non-premultiplied RGBA.  Float formats
// are read directly so resampling does not lose precision.
func toWide(f core.Format, data []byte, w, h int) *image.NRGBA64 {
	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	n := w * h * 4
	for i := 0; i < n; i++ {
		var v float32
		if f == core.FormatRGBA32323232F {
			v = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		} else {
			v = halfValue(binary.LittleEndian.Uint16(data[i*2:]))
		}
		q := unitToUint16(v)
		img.Pix[i*2], img.Pix[i*2+1] = uint8(q>>8), uint8(q)
	}
	return img
}

// fromWide encodes 16-bit RGBA into a float format.
func fromWide(f core.Format, img *image.NRGBA64) []byte {
	n := len(img.Pix) / 2
	stride := 2
	if f == core.FormatRGBA32323232F {
		stride = 4
	}
	out := make([]byte, n*stride)
	for i := 0; i < n; i++ {
		v := float32(uint16(img.Pix[i*2])<<8|uint16(img.Pix[i*2+1])) / 65535
		if stride == 4 {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		} else {
			binary.LittleEndian.PutUint16(out[i*2:], halfBits(v))
		}
	}
	return out
}

func unitToUint16(v float32) uint16 {
	switch {
	case math.IsNaN(float64(v)) || v <= 0:
		return 0
	case v >= 1:
		return 65535
	}
	return uint16(math.Round(float64(v) * 65535))
}

func halfValue(h uint16) float32 { return float16.Frombits(h).Float32() }

// halfBits rounds v to the nearest half, ties to even.
func halfBits(v float32) uint16 { return float16.Fromfloat32(v).Bits() }

// toWideAny decodes any format to 16-bit RGBA.
func toWideAny(f core.Format, data []byte, w, h int) (*image.NRGBA64, error) {
	if f == core.FormatRGBA16161616F || f == core.FormatRGBA32323232F {
		if len(data) != f.FrameSize(w, h) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrPixelLength, f)
		}
		return toWide(f, data, w, h), nil
	}
	rgba, err := toRGBA(f, data, w, h)
	if err != nil {
		return nil, err
	}
	return widen(rgba, w, h), nil
}

func widen(rgba []byte, w, h int) *image.NRGBA64 {
	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	for i, c := range rgba {
		v := uint16(c) * 257
		img.Pix[i*2], img.Pix[i*2+1] = uint8(v>>8), uint8(v)
	}
	return img
}

// fromWideAny encodes 16-bit RGBA into f.
func fromWideAny(f core.Format, img *image.NRGBA64) ([]byte, error) {
	b := img.Bounds()
	if f == core.FormatRGBA16161616F || f == core.FormatRGBA32323232F {
		return fromWide(f, img), nil
	}
	rgba := make([]byte, b.Dx()*b.Dy()*4)
	for i := range rgba {
		rgba[i] = narrow(uint16(img.Pix[i*2])<<8 | uint16(img.Pix[i*2+1]))
	}
	return fromRGBA(f, rgba, b.Dx(), b.Dy())
}
