package memtex_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Skryldev/asset-optimizer/adapters/memtex"
	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func solid(w, h int, px [4]byte) []byte {
	out := make([]byte, 0, w*h*4)
	for i := 0; i < w*h; i++ {
		out = append(out, px[:]...)
	}
	return out
}

func gradient(w, h int) []byte {
	out := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out = append(out, byte(x*255/max(1, w-1)), byte(y*255/max(1, h-1)), byte((x+y)*7), byte(255-x*3))
		}
	}
	return out
}

func mustRGBA(t *testing.T, tex *memtex.Texture, frame int) []byte {
	t.Helper()
	px, err := tex.RGBA8888(frame)
	if err != nil {
		t.Fatalf("RGBA8888(%d): %v", frame, err)
	}
	return px
}

// ── Conversions ───────────────────────────────────────────────────────────────

func TestFromRGBA_LosslessFourChannelFormats(t *testing.T) {
	formats := []core.Format{
		core.FormatRGBA8888, core.FormatABGR8888, core.FormatARGB8888, core.FormatBGRA8888,
		core.FormatUVWQ8888, core.FormatUVLX8888, core.FormatRGBA16161616F, core.FormatRGBA32323232F,
	}
	src := gradient(8, 8)
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			tex, err := memtex.FromRGBA(8, 8, f, src)
			if err != nil {
				t.Fatalf("FromRGBA: %v", err)
			}
			if got := mustRGBA(t, tex, 0); !bytes.Equal(got, src) {
				t.Errorf("round trip through %s changed pixels", f)
			}
			raw, _ := tex.RawPixels(0)
			if len(raw) != f.FrameSize(8, 8) {
				t.Errorf("raw size: got %d, want %d", len(raw), f.FrameSize(8, 8))
			}
		})
	}
}

func TestARGB8888_StoredLayout(t *testing.T) {
	tex, err := memtex.FromRGBA(1, 1, core.FormatARGB8888, []byte{10, 20, 30, 40})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := tex.RawPixels(0)
	// G, B, A, R
	if want := []byte{20, 30, 40, 10}; !bytes.Equal(raw, want) {
		t.Errorf("raw: got %v, want %v", raw, want)
	}
}

func TestFromRGBA_OpaqueFormatsDropAlpha(t *testing.T) {
	src := []byte{200, 100, 50, 7}
	for _, f := range []core.Format{core.FormatRGB888, core.FormatBGR888, core.FormatBGRX8888} {
		tex, err := memtex.FromRGBA(1, 1, f, src)
		if err != nil {
			t.Fatal(err)
		}
		if got := mustRGBA(t, tex, 0); !bytes.Equal(got, []byte{200, 100, 50, 255}) {
			t.Errorf("%s: got %v", f, got)
		}
	}
}

func TestRGB565_ExactColours(t *testing.T) {
	// Values whose top bits replicate into the low bits survive 565.
	src := []byte{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 255, 0, 0, 0, 255}
	tex, err := memtex.FromRGBA(2, 2, core.FormatRGB565, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustRGBA(t, tex, 0); !bytes.Equal(got, src) {
		t.Errorf("got %v, want %v", got, src)
	}
}

func TestLuminanceFormats(t *testing.T) {
	src := []byte{90, 90, 90, 255, 200, 200, 200, 64}
	tex, err := memtex.FromRGBA(2, 1, core.FormatIA88, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustRGBA(t, tex, 0); !bytes.Equal(got, src) {
		t.Errorf("IA88: got %v, want %v", got, src)
	}
}

// ── Block formats ─────────────────────────────────────────────────────────────

func TestDXT1OneBitAlpha_PunchThroughExact(t *testing.T) {
	green := [4]byte{0, 255, 0, 255}
	empty := [4]byte{0, 0, 0, 0}
	src := make([]byte, 0, 64)
	for i := 0; i < 16; i++ {
		if i%3 == 0 {
			src = append(src, empty[:]...)
		} else {
			src = append(src, green[:]...)
		}
	}
	tex, err := memtex.FromRGBA(4, 4, core.FormatDXT1OneBitAlpha, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustRGBA(t, tex, 0); !bytes.Equal(got, src) {
		t.Errorf("punch-through block not exact:\n got %v\nwant %v", got, src)
	}
}

func TestDXT1_DecodesOpaque(t *testing.T) {
	src := solid(4, 4, [4]byte{0, 0, 0, 0})
	tex, err := memtex.FromRGBA(4, 4, core.FormatDXT1, src)
	if err != nil {
		t.Fatal(err)
	}
	px := mustRGBA(t, tex, 0)
	for i := 3; i < len(px); i += 4 {
		if px[i] != 255 {
			t.Fatalf("pixel %d alpha %d, want 255", i/4, px[i])
		}
	}
}

func TestDXT5_AlphaExtremesExact(t *testing.T) {
	src := make([]byte, 0, 64)
	for i := 0; i < 16; i++ {
		if i < 8 {
			src = append(src, 0, 255, 0, 255)
		} else {
			src = append(src, 0, 0, 0, 0)
		}
	}
	tex, err := memtex.FromRGBA(4, 4, core.FormatDXT5, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustRGBA(t, tex, 0); !bytes.Equal(got, src) {
		t.Errorf("got %v, want %v", got, src)
	}
}

func TestDXT5_MidAlphaStaysTranslucent(t *testing.T) {
	src := make([]byte, 0, 64)
	for _, a := range []byte{0, 128, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255} {
		src = append(src, 255, 255, 255, a)
	}
	tex, err := memtex.FromRGBA(4, 4, core.FormatDXT5, src)
	if err != nil {
		t.Fatal(err)
	}
	got := mustRGBA(t, tex, 0)
	if got[3] != 0 || got[11] != 255 {
		t.Errorf("extremes not preserved: %d %d", got[3], got[11])
	}
	if a := got[7]; a == 0 || a == 255 {
		t.Errorf("mid alpha collapsed to %d", a)
	}
}

func TestDXT3_FourBitAlpha(t *testing.T) {
	src := []byte{
		255, 255, 255, 0, 255, 255, 255, 136, 255, 255, 255, 255, 255, 255, 255, 255,
	}
	src = append(src, solid(4, 3, [4]byte{255, 255, 255, 255})...)
	tex, err := memtex.FromRGBA(4, 4, core.FormatDXT3, src)
	if err != nil {
		t.Fatal(err)
	}
	got := mustRGBA(t, tex, 0)
	if got[3] != 0 || got[7] != 136 || got[11] != 255 {
		t.Errorf("alpha: got %d %d %d, want 0 136 255", got[3], got[7], got[11])
	}
}

func TestBlockFormats_PartialBlocks(t *testing.T) {
	for _, f := range []core.Format{core.FormatDXT1, core.FormatDXT1OneBitAlpha, core.FormatDXT3, core.FormatDXT5} {
		tex, err := memtex.FromRGBA(5, 3, f, solid(5, 3, [4]byte{255, 0, 0, 255}))
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		raw, _ := tex.RawPixels(0)
		if want := 2 * 1 * f.BlockBytes(); len(raw) != want {
			t.Errorf("%s: raw %d bytes, want %d", f, len(raw), want)
		}
		if got := mustRGBA(t, tex, 0); !bytes.Equal(got, solid(5, 3, [4]byte{255, 0, 0, 255})) {
			t.Errorf("%s: solid red not exact", f)
		}
	}
}

// ── Mutation ──────────────────────────────────────────────────────────────────

func TestSetFormat_ConvertsEveryFrame(t *testing.T) {
	a, b := solid(4, 4, [4]byte{255, 0, 0, 255}), solid(4, 4, [4]byte{0, 0, 255, 255})
	tex, err := memtex.FromRGBA(4, 4, core.FormatRGBA8888, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := tex.SetFormat(core.FormatBGR888); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if tex.Format() != core.FormatBGR888 {
		t.Fatalf("format: got %s", tex.Format())
	}
	for i, want := range [][]byte{a, b} {
		if got := mustRGBA(t, tex, i); !bytes.Equal(got, want) {
			t.Errorf("frame %d changed", i)
		}
	}
}

func TestSetFormat_UnknownLeavesTextureIntact(t *testing.T) {
	tex, _ := memtex.FromRGBA(2, 2, core.FormatRGBA8888, gradient(2, 2))
	if err := tex.SetFormat(core.FormatUnknown); err == nil {
		t.Fatal("expected error")
	}
	if tex.Format() != core.FormatRGBA8888 {
		t.Errorf("format changed to %s", tex.Format())
	}
}

func TestSetPixels(t *testing.T) {
	tex, _ := memtex.FromRGBA(2, 2, core.FormatRGBA8888, gradient(2, 2))

	err := tex.SetPixels(0, []byte{1, 2, 3}, core.FormatRGBA8888, core.FilterNice)
	if !errors.Is(err, apperrors.ErrPixelLength) {
		t.Errorf("short buffer: got %v, want ErrPixelLength", err)
	}
	if err := tex.SetPixels(3, make([]byte, 16), core.FormatRGBA8888, core.FilterNice); !errors.Is(err, apperrors.ErrFrameOutOfRange) {
		t.Errorf("bad frame: got %v, want ErrFrameOutOfRange", err)
	}

	bgr := []byte{3, 2, 1, 3, 2, 1, 3, 2, 1, 3, 2, 1}
	if err := tex.SetPixels(0, bgr, core.FormatBGR888, core.FilterNice); err != nil {
		t.Fatalf("cross-format SetPixels: %v", err)
	}
	if got := mustRGBA(t, tex, 0); !bytes.Equal(got, solid(2, 2, [4]byte{1, 2, 3, 255})) {
		t.Errorf("got %v", got)
	}
}

func TestResize_SolidStaysSolid(t *testing.T) {
	px := [4]byte{40, 120, 200, 255}
	filters := []core.ResizeFilter{core.FilterNice, core.FilterCatmullRom, core.FilterBilinear, core.FilterNearest}
	for _, f := range filters {
		t.Run(f.String(), func(t *testing.T) {
			tex, _ := memtex.FromRGBA(16, 8, core.FormatBGRA8888, solid(16, 8, px))
			if err := tex.Resize(4, 4, f); err != nil {
				t.Fatalf("Resize: %v", err)
			}
			if tex.Width() != 4 || tex.Height() != 4 {
				t.Fatalf("dims: got %dx%d", tex.Width(), tex.Height())
			}
			if tex.Format() != core.FormatBGRA8888 {
				t.Errorf("format changed to %s", tex.Format())
			}
			if got := mustRGBA(t, tex, 0); !bytes.Equal(got, solid(4, 4, px)) {
				t.Errorf("solid colour drifted: %v", got[:4])
			}
		})
	}
}

func TestResize_LowAlphaKeepsColour(t *testing.T) {
	src := solid(8, 8, [4]byte{200, 100, 50, 1})
	for i := 7; i < len(src); i += 8 {
		src[i] = 2
	}
	tex, _ := memtex.FromRGBA(8, 8, core.FormatRGBA8888, src)
	if err := tex.Resize(4, 4, core.FilterNice); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	got := mustRGBA(t, tex, 0)
	for i := 0; i < len(got); i += 4 {
		if got[i] != 200 || got[i+1] != 100 || got[i+2] != 50 {
			t.Fatalf("pixel %d colour drifted: %v", i/4, got[i:i+4])
		}
		if a := got[i+3]; a < 1 || a > 2 {
			t.Fatalf("pixel %d alpha out of range: %d", i/4, a)
		}
	}
}

func TestResize_InvalidDimensions(t *testing.T) {
	tex, _ := memtex.FromRGBA(2, 2, core.FormatRGBA8888, gradient(2, 2))
	if err := tex.Resize(0, 4, core.FilterNice); !errors.Is(err, apperrors.ErrInvalidDimensions) {
		t.Errorf("got %v, want ErrInvalidDimensions", err)
	}
	if tex.Width() != 2 {
		t.Errorf("width changed to %d", tex.Width())
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name   string
		w, h   int
		f      core.Format
		frames [][]byte
		want   error
	}{
		{"zero width", 0, 4, core.FormatRGBA8888, [][]byte{{}}, apperrors.ErrInvalidDimensions},
		{"unknown format", 1, 1, core.FormatUnknown, [][]byte{{0}}, apperrors.ErrUnsupportedFormat},
		{"no frames", 1, 1, core.FormatRGBA8888, nil, apperrors.ErrEmptyInput},
		{"short frame", 2, 2, core.FormatRGBA8888, [][]byte{make([]byte, 15)}, apperrors.ErrPixelLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := memtex.New(tc.w, tc.h, tc.f, tc.frames...)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

// ── Container ─────────────────────────────────────────────────────────────────

func TestBakeLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tex"+memtex.Ext)

	tex, err := memtex.FromRGBA(8, 4, core.FormatDXT5, gradient(8, 4), solid(8, 4, [4]byte{9, 9, 9, 9}))
	if err != nil {
		t.Fatal(err)
	}
	tex.SetFlag(core.FlagHalved)
	if err := tex.Bake(path); err != nil {
		t.Fatalf("Bake: %v", err)
	}

	got, err := memtex.NewDecoder().Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format() != core.FormatDXT5 || got.Width() != 8 || got.Height() != 4 || got.FrameCount() != 2 {
		t.Fatalf("shape: %s %dx%d x%d", got.Format(), got.Width(), got.Height(), got.FrameCount())
	}
	if fl, ok := got.(core.Flagged); !ok || !fl.HasFlag(core.FlagHalved) {
		t.Error("FlagHalved not persisted")
	}
	for i := 0; i < 2; i++ {
		want, _ := tex.RawPixels(i)
		have, _ := got.RawPixels(i)
		if !bytes.Equal(want, have) {
			t.Errorf("frame %d differs after load", i)
		}
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mtex")
	if err := os.WriteFile(path, []byte("MTEX\x01\x00garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := memtex.Load(path); !errors.Is(err, memtex.ErrBadContainer) {
		t.Errorf("got %v, want ErrBadContainer", err)
	}
	if _, err := memtex.Unmarshal([]byte("PNG not a texture at all....")); !errors.Is(err, memtex.ErrBadContainer) {
		t.Errorf("got %v, want ErrBadContainer", err)
	}
}

// containerHeader mirrors the on-disk MTEX header.
type containerHeader struct {
	Magic   [4]byte
	Version uint16
	Format  uint16
	Width   uint32
	Height  uint32
	Frames  uint32
	Flags   uint32
	RawSize uint32
}

func TestUnmarshal_UntrustedHeader(t *testing.T) {
	// Warm the decoder pool so its own buffers are not counted.
	warm, _ := memtex.FromRGBA(4, 4, core.FormatRGBA8888, gradient(4, 4))
	path := filepath.Join(t.TempDir(), "warm"+memtex.Ext)
	if err := warm.Bake(path); err != nil {
		t.Fatal(err)
	}
	if _, err := memtex.Load(path); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		size uint32
	}{
		{"over the payload limit", 16384},
		{"under the limit with junk payload", 4096},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := containerHeader{
				Magic: [4]byte{'M', 'T', 'E', 'X'}, Version: 1,
				Format: uint16(core.FormatRGBA8888),
				Width:  tc.size, Height: tc.size, Frames: 1,
				RawSize: tc.size * tc.size * 4,
			}
			if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
				t.Fatal(err)
			}
			buf.WriteString("junk")

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := memtex.Unmarshal(buf.Bytes())
			runtime.ReadMemStats(&after)

			if !errors.Is(err, memtex.ErrBadContainer) {
				t.Errorf("got %v, want ErrBadContainer", err)
			}
			if grew := after.TotalAlloc - before.TotalAlloc; grew > 8<<20 {
				t.Errorf("allocated %d MiB for a %d byte file", grew>>20, buf.Len())
			}
		})
	}
}

func TestDecoder_CanDecode(t *testing.T) {
	d := memtex.NewDecoder()
	if !d.CanDecode(".mtex") || d.CanDecode(".png") {
		t.Error("CanDecode mismatch")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Decode(ctx, "whatever.mtex"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled decode: got %v", err)
	}
}
