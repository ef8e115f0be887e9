package pngopt

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/Skryldev/asset-optimizer/core"
)

// canonical copies img into a zero-origin NRGBA64 without losing precision
// for any image type image/png decodes to.
func canonical(img image.Image) *image.NRGBA64 {
	b := img.Bounds()
	dst := image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.NRGBA64:
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):][:b.Dx()*8])
		}
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):][:b.Dx()*4]
			out := dst.Pix[y*dst.Stride:]
			for i, v := range row {
				out[i*2], out[i*2+1] = v, v
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.SetNRGBA64(x, y, exact(img.At(b.Min.X+x, b.Min.Y+y)))
			}
		}
	}
	return dst
}

func exact(c color.Color) color.NRGBA64 {
	switch c := c.(type) {
	case color.NRGBA64:
		return c
	case color.NRGBA:
		return color.NRGBA64{R: uint16(c.R) * 0x101, G: uint16(c.G) * 0x101, B: uint16(c.B) * 0x101, A: uint16(c.A) * 0x101}
	}
	r, g, b, a := c.RGBA()
	switch a {
	case 0:
		return color.NRGBA64{}
	case 0xffff:
		return color.NRGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: 0xffff}
	}
	return color.NRGBA64{R: uint16(r * 0xffff / a), G: uint16(g * 0xffff / a), B: uint16(b * 0xffff / a), A: uint16(a)}
}

func sixteenBit(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA64, *image.RGBA64, *image.Gray16:
		return true
	}
	return false
}

// clearTransparent zeroes the colour of fully transparent pixels.
func clearTransparent(img *image.NRGBA64) {
	for i := 0; i+7 < len(img.Pix); i += 8 {
		if img.Pix[i+6] == 0 && img.Pix[i+7] == 0 {
			clear(img.Pix[i : i+6])
		}
	}
}

type analysis struct {
	opaque bool
	grey   bool
	fits8  bool // every sample has equal high and low bytes
	// palette holds the distinct colours when there are at most 256 of them
	// and fits8 holds; nil otherwise.
	palette []color.NRGBA
}

func analyse(img *image.NRGBA64) analysis {
	a := analysis{opaque: true, grey: true, fits8: true}
	seen := make(map[color.NRGBA]struct{}, 256)
	var order []color.NRGBA
	counting := true
	for i := 0; i+7 < len(img.Pix); i += 8 {
		p := img.Pix[i : i+8]
		if p[6] != 0xff || p[7] != 0xff {
			a.opaque = false
		}
		if p[0] != p[2] || p[1] != p[3] || p[0] != p[4] || p[1] != p[5] {
			a.grey = false
		}
		if a.fits8 && (p[0] != p[1] || p[2] != p[3] || p[4] != p[5] || p[6] != p[7]) {
			a.fits8 = false
			counting = false
		}
		if !counting {
			continue
		}
		c := color.NRGBA{R: p[0], G: p[2], B: p[4], A: p[6]}
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			order = append(order, c)
			counting = len(order) <= 256
		}
	}
	if counting {
		// Translucent entries first keeps the tRNS chunk short.
		pal := make([]color.NRGBA, 0, len(order))
		for _, c := range order {
			if c.A != 0xff {
				pal = append(pal, c)
			}
		}
		for _, c := range order {
			if c.A == 0xff {
				pal = append(pal, c)
			}
		}
		a.palette = pal
	}
	return a
}

// candidates lists the encodings to try, best guess first.
func candidates(src *image.NRGBA64, a analysis, sixteen bool, r core.Reductions) []image.Image {
	narrow := a.fits8 && (!sixteen || r.Scale16)
	var out []image.Image
	if r.PaletteReduction && narrow && a.palette != nil {
		out = append(out, paletted(src, a.palette, r.BitDepthReduction))
	}
	if r.ColorTypeReduction && a.opaque && a.grey {
		out = append(out, grey(src, narrow))
	}
	return append(out, full(src, narrow))
}

func paletted(src *image.NRGBA64, pal []color.NRGBA, subByte bool) *image.Paletted {
	index := make(map[color.NRGBA]uint8, len(pal))
	p := make(color.Palette, len(pal))
	for i, c := range pal {
		index[c] = uint8(i)
		p[i] = c
	}
	// A palette above 16 entries forces 8 bits per index.
	for !subByte && len(p) <= 16 {
		p = append(p, color.NRGBA{A: 0xff})
	}
	dst := image.NewPaletted(src.Rect, p)
	for i, j := 0, 0; i+7 < len(src.Pix); i, j = i+8, j+1 {
		dst.Pix[j] = index[color.NRGBA{R: src.Pix[i], G: src.Pix[i+2], B: src.Pix[i+4], A: src.Pix[i+6]}]
	}
	return dst
}

func grey(src *image.NRGBA64, narrow bool) image.Image {
	if narrow {
		dst := image.NewGray(src.Rect)
		for i, j := 0, 0; i+7 < len(src.Pix); i, j = i+8, j+1 {
			dst.Pix[j] = src.Pix[i]
		}
		return dst
	}
	dst := image.NewGray16(src.Rect)
	for i, j := 0, 0; i+7 < len(src.Pix); i, j = i+8, j+2 {
		dst.Pix[j], dst.Pix[j+1] = src.Pix[i], src.Pix[i+1]
	}
	return dst
}

func full(src *image.NRGBA64, narrow bool) image.Image {
	if !narrow {
		return src
	}
	dst := image.NewNRGBA(src.Rect)
	for i, j := 0, 0; i+7 < len(src.Pix); i, j = i+8, j+4 {
		dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2], dst.Pix[j+3] = src.Pix[i], src.Pix[i+2], src.Pix[i+4], src.Pix[i+6]
	}
	return dst
}

// ── Ancillary chunks ──────────────────────────────────────────────────────────

// portable lists the ancillary chunks that stay valid whatever colour type
// the output ends up with.
var portable = map[string]bool{
	"tEXt": true, "zTXt": true, "iTXt": true, "tIME": true, "pHYs": true,
	"iCCP": true, "sRGB": true, "gAMA": true, "cHRM": true,
}

// ancillaryChunks returns the raw bytes (length, type, data, CRC) of every
// portable chunk in a PNG stream.
func ancillaryChunks(data []byte) [][]byte {
	var out [][]byte
	for p := 8; p+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[p:]))
		end := p + 12 + n
		if n < 0 || end > len(data) {
			break
		}
		typ := string(data[p+4 : p+8])
		if typ == "IEND" {
			break
		}
		if portable[typ] {
			out = append(out, data[p:end])
		}
		p = end
	}
	return out
}

// ihdrEnd is the offset just past the signature and the 13-byte IHDR chunk.
const ihdrEnd = 8 + 12 + 13

func spliceAncillary(encoded []byte, chunks [][]byte) []byte {
	if len(chunks) == 0 || len(encoded) < ihdrEnd {
		return encoded
	}
	size := len(encoded)
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	out = append(out, encoded[:ihdrEnd]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return append(out, encoded[ihdrEnd:]...)
}
