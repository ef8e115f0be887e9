package core

import (
	"fmt"
	"strings"
)

// Format identifies the storage layout of a texture's pixel data.
type Format int

const (
	FormatUnknown Format = iota
	FormatRGBA8888
	FormatABGR8888
	FormatRGB888
	FormatBGR888
	FormatRGB565
	FormatI8
	FormatIA88
	FormatA8
	FormatARGB8888
	FormatBGRA8888
	FormatDXT1
	FormatDXT3
	FormatDXT5
	FormatBGRX8888
	FormatDXT1OneBitAlpha
	FormatUV88
	FormatUVWQ8888
	FormatUVLX8888
	FormatRGBA16161616F
	FormatRGBA32323232F

	numFormats
)

// Adding a format moves numFormats and breaks this line until formatNames,
// FamilyOf and the layout helpers below are extended for it.
var _ = [1]struct{}{}[numFormats-21]

var formatNames = [numFormats]string{
	FormatUnknown:         "UNKNOWN",
	FormatRGBA8888:        "RGBA8888",
	FormatABGR8888:        "ABGR8888",
	FormatRGB888:          "RGB888",
	FormatBGR888:          "BGR888",
	FormatRGB565:          "RGB565",
	FormatI8:              "I8",
	FormatIA88:            "IA88",
	FormatA8:              "A8",
	FormatARGB8888:        "ARGB8888",
	FormatBGRA8888:        "BGRA8888",
	FormatDXT1:            "DXT1",
	FormatDXT3:            "DXT3",
	FormatDXT5:            "DXT5",
	FormatBGRX8888:        "BGRX8888",
	FormatDXT1OneBitAlpha: "DXT1_ONE_BIT_ALPHA",
	FormatUV88:            "UV88",
	FormatUVWQ8888:        "UVWQ8888",
	FormatUVLX8888:        "UVLX8888",
	FormatRGBA16161616F:   "RGBA16161616F",
	FormatRGBA32323232F:   "RGBA32323232F",
}

func (f Format) String() string {
	if f < 0 || f >= numFormats {
		return fmt.Sprintf("FORMAT(%d)", int(f))
	}
	return formatNames[f]
}

// Valid reports whether f is a declared format other than FormatUnknown.
func (f Format) Valid() bool { return f > FormatUnknown && f < numFormats }

// Formats returns every declared format except FormatUnknown.
func Formats() []Format {
	out := make([]Format, 0, numFormats-1)
	for f := FormatUnknown + 1; f < numFormats; f++ {
		out = append(out, f)
	}
	return out
}

// ParseFormat resolves a format by name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for f := FormatUnknown + 1; f < numFormats; f++ {
		if formatNames[f] == n {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown texture format %q", name)
}

// IsBlockCompressed reports whether f stores 4x4 compressed blocks.
func (f Format) IsBlockCompressed() bool {
	switch f {
	case FormatDXT1, FormatDXT1OneBitAlpha, FormatDXT3, FormatDXT5:
		return true
	}
	return false
}

// BlockBytes is the size of one 4x4 block, or 0 for uncompressed formats.
func (f Format) BlockBytes() int {
	switch f {
	case FormatDXT1, FormatDXT1OneBitAlpha:
		return 8
	case FormatDXT3, FormatDXT5:
		return 16
	}
	return 0
}

// BytesPerPixel is the stride of one pixel, or 0 for block formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatI8, FormatA8:
		return 1
	case FormatRGB565, FormatIA88, FormatUV88:
		return 2
	case FormatRGB888, FormatBGR888:
		return 3
	case FormatRGBA8888, FormatABGR8888, FormatARGB8888, FormatBGRA8888, FormatBGRX8888,
		FormatUVWQ8888, FormatUVLX8888:
		return 4
	case FormatRGBA16161616F:
		return 8
	case FormatRGBA32323232F:
		return 16
	}
	return 0
}

// FrameSize returns the byte length of one w x h frame stored in f.
func (f Format) FrameSize(w, h int) int {
	if bb := f.BlockBytes(); bb > 0 {
		return ((w + 3) / 4) * ((h + 3) / 4) * bb
	}
	return w * h * f.BytesPerPixel()
}

// HasAlpha reports whether f stores a transparency channel.
func (f Format) HasAlpha() bool {
	switch f {
	case FormatRGBA8888, FormatABGR8888, FormatARGB8888, FormatBGRA8888, FormatIA88, FormatA8,
		FormatDXT1OneBitAlpha, FormatDXT3, FormatDXT5, FormatRGBA16161616F, FormatRGBA32323232F:
		return true
	}
	return false
}

// ── Families ──────────────────────────────────────────────────────────────────

// Family groups formats by the alpha-fitting procedure that applies to them.
type Family int

const (
	FamilyOther Family = iota
	FamilyBlockAlpha
	FamilyDirectAlpha
	FamilyShiftedAlpha
	FamilyFreeAlpha
)

func (f Family) String() string {
	switch f {
	case FamilyBlockAlpha:
		return "block-alpha"
	case FamilyDirectAlpha:
		return "direct-alpha"
	case FamilyShiftedAlpha:
		return "shifted-alpha"
	case FamilyFreeAlpha:
		return "free-alpha"
	}
	return "other"
}

// FamilyOf classifies f.  ok is false only for values outside the declared
// enum; every declared format has exactly one family.
func FamilyOf(f Format) (fam Family, ok bool) {
	switch f {
	case FormatDXT5, FormatDXT3, FormatDXT1OneBitAlpha:
		return FamilyBlockAlpha, true
	case FormatBGRA8888, FormatRGBA8888:
		return FamilyDirectAlpha, true
	case FormatABGR8888, FormatARGB8888:
		return FamilyShiftedAlpha, true
	case FormatBGRX8888:
		return FamilyFreeAlpha, true
	case FormatUnknown, FormatRGB888, FormatBGR888, FormatRGB565, FormatI8, FormatIA88,
		FormatA8, FormatDXT1, FormatUV88, FormatUVWQ8888, FormatUVLX8888,
		FormatRGBA16161616F, FormatRGBA32323232F:
		return FamilyOther, true
	}
	return FamilyOther, false
}

// ChannelLayout describes where the alpha byte sits in a 4-byte pixel and the
// byte order that yields the alpha-free target format.
type ChannelLayout struct {
	Target     Format
	AlphaIndex int
	Swizzle    [3]int // source byte index for each target byte; unused for direct formats
}

// AlphaLayout returns the strip layout for the 8888 families.
func AlphaLayout(f Format) (ChannelLayout, bool) {
	switch f {
	case FormatBGRA8888:
		return ChannelLayout{Target: FormatBGR888, AlphaIndex: 3, Swizzle: [3]int{0, 1, 2}}, true
	case FormatRGBA8888:
		return ChannelLayout{Target: FormatRGB888, AlphaIndex: 3, Swizzle: [3]int{0, 1, 2}}, true
	case FormatABGR8888:
		// A B G R -> B G R
		return ChannelLayout{Target: FormatBGR888, AlphaIndex: 0, Swizzle: [3]int{1, 2, 3}}, true
	case FormatARGB8888:
		// stored as G B A R -> R G B
		return ChannelLayout{Target: FormatRGB888, AlphaIndex: 2, Swizzle: [3]int{3, 0, 1}}, true
	case FormatBGRX8888:
		return ChannelLayout{Target: FormatBGR888, AlphaIndex: 3, Swizzle: [3]int{0, 1, 2}}, true
	}
	return ChannelLayout{}, false
}

// ── Resampling filters ────────────────────────────────────────────────────────

// ResizeFilter selects the resampling kernel an adapter uses.
type ResizeFilter int

const (
	FilterNice ResizeFilter = iota // highest quality available
	FilterCatmullRom
	FilterBilinear
	FilterNearest
)

func (r ResizeFilter) String() string {
	switch r {
	case FilterCatmullRom:
		return "catmullrom"
	case FilterBilinear:
		return "bilinear"
	case FilterNearest:
		return "nearest"
	}
	return "nice"
}

// ParseFilter resolves a filter by name; empty selects FilterNice.
func ParseFilter(name string) (ResizeFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "nice", "lanczos", "lanczos3":
		return FilterNice, nil
	case "catmullrom", "cubic":
		return FilterCatmullRom, nil
	case "bilinear", "linear":
		return FilterBilinear, nil
	case "nearest", "point":
		return FilterNearest, nil
	}
	return FilterNice, fmt.Errorf("unknown resize filter %q", name)
}

// TextureFlag is a persisted per-texture marker bit.
type TextureFlag uint32

const (
	// FlagHalved marks a texture whose resolution was already halved once.
	FlagHalved TextureFlag = 1 << 0
)
