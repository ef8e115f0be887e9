package utils

import (
	"bytes"
	"net/http"
)

const (
	formatPNG     = "png"
	formatJPEG    = "jpeg"
	formatMTEX    = "mtex"
	formatUnknown = "unknown"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// DetectFormat sniffs the leading bytes of data and returns the file format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	if bytes.HasPrefix(data, pngMagic) {
		return formatPNG
	}
	if bytes.HasPrefix(data, []byte("MTEX")) {
		return formatMTEX
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/png":
		return formatPNG
	case "image/jpeg":
		return formatJPEG
	}
	return formatUnknown
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool { return DetectFormat(data) == formatPNG }

// HalfDimensions returns w/2 x h/2 with each axis floored at 1.
func HalfDimensions(w, h int) (int, int) {
	return max(1, w/2), max(1, h/2)
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
