package memtex

// 4x4 block codec for BC1 (DXT1 with and without punch-through alpha),
// BC2 (DXT3) and BC3 (DXT5).  Endpoints come from a min/max box fit of the
// block's colours; indices pick the nearest palette entry.

// alphaCutoff separates punch-through transparent from opaque pixels.
const alphaCutoff = 128

type rgb565 uint16

func pack565(r, g, b uint8) rgb565 {
	r5 := (int(r)*31 + 127) / 255
	g6 := (int(g)*63 + 127) / 255
	b5 := (int(b)*31 + 127) / 255
	return rgb565(r5<<11 | g6<<5 | b5)
}

func (c rgb565) expand() [3]int {
	r5 := int(c>>11) & 0x1f
	g6 := int(c>>5) & 0x3f
	b5 := int(c) & 0x1f
	return [3]int{r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2}
}

// colourPalette builds the four BC1 palette entries.  threeColour selects the
// c0 <= c1 mode whose fourth entry is black; opaqueBlack controls the alpha
// of that entry.
func colourPalette(c0, c1 rgb565, threeColour, opaqueBlack bool) [4][4]uint8 {
	e0, e1 := c0.expand(), c1.expand()
	var p [4][4]uint8
	for ch := 0; ch < 3; ch++ {
		p[0][ch] = uint8(e0[ch])
		p[1][ch] = uint8(e1[ch])
		if threeColour {
			p[2][ch] = uint8((e0[ch] + e1[ch]) / 2)
		} else {
			p[2][ch] = uint8((2*e0[ch] + e1[ch]) / 3)
			p[3][ch] = uint8((e0[ch] + 2*e1[ch]) / 3)
		}
	}
	p[0][3], p[1][3], p[2][3], p[3][3] = 255, 255, 255, 255
	if threeColour && !opaqueBlack {
		p[3][3] = 0
	}
	return p
}

func alphaPalette(a0, a1 uint8) [8]uint8 {
	var p [8]uint8
	p[0], p[1] = a0, a1
	if a0 > a1 {
		for i := 2; i < 8; i++ {
			p[i] = uint8((int(a0)*(8-i) + int(a1)*(i-1)) / 7)
		}
		return p
	}
	for i := 2; i < 6; i++ {
		p[i] = uint8((int(a0)*(6-i) + int(a1)*(i-1)) / 5)
	}
	p[6], p[7] = 0, 255
	return p
}

// block holds up to 16 RGBA pixels; valid masks pixels outside the image.
type block struct {
	px    [16][4]uint8
	valid [16]bool
}

func loadBlock(rgba []byte, w, h, bx, by int) block {
	var b block
	for py := 0; py < 4; py++ {
		for px := 0; px < 4; px++ {
			x, y := bx*4+px, by*4+py
			if x >= w || y >= h {
				continue
			}
			i := py*4 + px
			o := (y*w + x) * 4
			copy(b.px[i][:], rgba[o:o+4])
			b.valid[i] = true
		}
	}
	return b
}

func storeBlock(rgba []byte, w, h, bx, by int, px *[16][4]uint8) {
	for py := 0; py < 4; py++ {
		for x := 0; x < 4; x++ {
			gx, gy := bx*4+x, by*4+py
			if gx >= w || gy >= h {
				continue
			}
			o := (gy*w + gx) * 4
			copy(rgba[o:o+4], px[py*4+x][:])
		}
	}
}

func colourDist(a [4]uint8, b [4]uint8) int {
	dr := int(a[0]) - int(b[0])
	dg := int(a[1]) - int(b[1])
	db := int(a[2]) - int(b[2])
	return dr*dr + dg*dg + db*db
}

// encodeColour writes the 8-byte colour half of a block.  With punchThrough
// set, pixels below alphaCutoff are encoded as the transparent entry.
func encodeColour(dst []byte, b *block, punchThrough bool) {
	lo := [3]uint8{255, 255, 255}
	hi := [3]uint8{0, 0, 0}
	seen, transparent := false, false
	for i := range b.px {
		if !b.valid[i] {
			continue
		}
		if punchThrough && b.px[i][3] < alphaCutoff {
			transparent = true
			continue
		}
		seen = true
		for ch := 0; ch < 3; ch++ {
			lo[ch] = min(lo[ch], b.px[i][ch])
			hi[ch] = max(hi[ch], b.px[i][ch])
		}
	}
	if !seen {
		lo, hi = [3]uint8{}, [3]uint8{}
	}

	c0, c1 := pack565(hi[0], hi[1], hi[2]), pack565(lo[0], lo[1], lo[2])
	threeColour := transparent
	switch {
	case threeColour && c0 > c1:
		c0, c1 = c1, c0
	case !threeColour && c0 < c1:
		c0, c1 = c1, c0
	case !threeColour && c0 == c1:
		// Equal endpoints decode as three-colour; index 0 is still c0.
		threeColour = true
	}
	pal := colourPalette(c0, c1, threeColour, true)
	entries := 4
	if threeColour {
		entries = 3
	}

	var indices uint32
	for i := range b.px {
		if !b.valid[i] {
			continue
		}
		var idx int
		if punchThrough && b.px[i][3] < alphaCutoff {
			idx = 3
		} else if c0 != c1 {
			best := colourDist(b.px[i], pal[0])
			for k := 1; k < entries; k++ {
				if d := colourDist(b.px[i], pal[k]); d < best {
					best, idx = d, k
				}
			}
		}
		indices |= uint32(idx) << (2 * i)
	}

	dst[0], dst[1] = byte(c0), byte(c0>>8)
	dst[2], dst[3] = byte(c1), byte(c1>>8)
	dst[4], dst[5], dst[6], dst[7] = byte(indices), byte(indices>>8), byte(indices>>16), byte(indices>>24)
}

// decodeColour reads the colour half of a block.  forceFour selects the BC2/3
// behaviour where the endpoint order never switches modes.
func decodeColour(src []byte, px *[16][4]uint8, forceFour, opaqueBlack bool) {
	c0 := rgb565(uint16(src[0]) | uint16(src[1])<<8)
	c1 := rgb565(uint16(src[2]) | uint16(src[3])<<8)
	pal := colourPalette(c0, c1, !forceFour && c0 <= c1, opaqueBlack)
	indices := uint32(src[4]) | uint32(src[5])<<8 | uint32(src[6])<<16 | uint32(src[7])<<24
	for i := range px {
		px[i] = pal[(indices>>(2*i))&3]
	}
}

func encodeAlphaBC3(dst []byte, b *block) {
	lo, hi := uint8(255), uint8(0)
	for i := range b.px {
		if b.valid[i] {
			lo = min(lo, b.px[i][3])
			hi = max(hi, b.px[i][3])
		}
	}
	if lo > hi {
		lo, hi = 255, 255
	}
	pal := alphaPalette(hi, lo)

	var indices uint64
	if hi != lo {
		for i := range b.px {
			if !b.valid[i] {
				continue
			}
			a := int(b.px[i][3])
			idx, best := 0, 1<<30
			for k := 0; k < 8; k++ {
				d := a - int(pal[k])
				if d < 0 {
					d = -d
				}
				if d < best {
					best, idx = d, k
				}
			}
			indices |= uint64(idx) << (3 * i)
		}
	}
	dst[0], dst[1] = hi, lo
	for i := 0; i < 6; i++ {
		dst[2+i] = byte(indices >> (8 * i))
	}
}

func decodeAlphaBC3(src []byte, px *[16][4]uint8) {
	pal := alphaPalette(src[0], src[1])
	var indices uint64
	for i := 0; i < 6; i++ {
		indices |= uint64(src[2+i]) << (8 * i)
	}
	for i := range px {
		px[i][3] = pal[(indices>>(3*i))&7]
	}
}

func encodeAlphaBC2(dst []byte, b *block) {
	var bits uint64
	for i := range b.px {
		a4 := uint64(15)
		if b.valid[i] {
			a4 = uint64((int(b.px[i][3])*15 + 127) / 255)
		}
		bits |= a4 << (4 * i)
	}
	for i := 0; i < 8; i++ {
		dst[i] = byte(bits >> (8 * i))
	}
}

func decodeAlphaBC2(src []byte, px *[16][4]uint8) {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(src[i]) << (8 * i)
	}
	for i := range px {
		px[i][3] = uint8((bits>>(4*i))&0xf) * 17
	}
}

// compressBlocks encodes a tightly packed RGBA frame.  blockBytes is 8 for BC1
// and 16 for BC2/BC3; enc fills one block.
func compressBlocks(rgba []byte, w, h, blockBytes int, enc func(dst []byte, b *block)) []byte {
	bw, bh := (w+3)/4, (h+3)/4
	out := make([]byte, bw*bh*blockBytes)
	o := 0
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			b := loadBlock(rgba, w, h, bx, by)
			enc(out[o:o+blockBytes], &b)
			o += blockBytes
		}
	}
	return out
}

func decompressBlocks(data []byte, w, h, blockBytes int, dec func(src []byte, px *[16][4]uint8)) []byte {
	bw, bh := (w+3)/4, (h+3)/4
	out := make([]byte, w*h*4)
	o := 0
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			var px [16][4]uint8
			dec(data[o:o+blockBytes], &px)
			storeBlock(out, w, h, bx, by, &px)
			o += blockBytes
		}
	}
	return out
}

func encodeBC1(rgba []byte, w, h int, punchThrough bool) []byte {
	return compressBlocks(rgba, w, h, 8, func(dst []byte, b *block) {
		encodeColour(dst, b, punchThrough)
	})
}

func decodeBC1(data []byte, w, h int, punchThrough bool) []byte {
	return decompressBlocks(data, w, h, 8, func(src []byte, px *[16][4]uint8) {
		decodeColour(src, px, false, !punchThrough)
	})
}

func encodeBC2(rgba []byte, w, h int) []byte {
	return compressBlocks(rgba, w, h, 16, func(dst []byte, b *block) {
		encodeAlphaBC2(dst[:8], b)
		encodeColour(dst[8:], b, false)
	})
}

func decodeBC2(data []byte, w, h int) []byte {
	return decompressBlocks(data, w, h, 16, func(src []byte, px *[16][4]uint8) {
		decodeColour(src[8:], px, true, true)
		decodeAlphaBC2(src[:8], px)
	})
}

func encodeBC3(rgba []byte, w, h int) []byte {
	return compressBlocks(rgba, w, h, 16, func(dst []byte, b *block) {
		encodeAlphaBC3(dst[:8], b)
		encodeColour(dst[8:], b, false)
	})
}

func decodeBC3(data []byte, w, h int) []byte {
	return decompressBlocks(data, w, h, 16, func(src []byte, px *[16][4]uint8) {
		decodeColour(src[8:], px, true, true)
		decodeAlphaBC3(src[:8], px)
	})
}
