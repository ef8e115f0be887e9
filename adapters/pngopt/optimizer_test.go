package pngopt_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Skryldev/asset-optimizer/adapters/pngopt"
	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

// samePixels compares the premultiplied view, which is what a renderer sees.
func samePixels(t *testing.T, a, b image.Image) {
	t.Helper()
	if a.Bounds().Size() != b.Bounds().Size() {
		t.Fatalf("size %v vs %v", a.Bounds().Size(), b.Bounds().Size())
	}
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				t.Fatalf("pixel (%d,%d): %v vs %v", x, y, [4]uint32{r1, g1, b1, a1}, [4]uint32{r2, g2, b2, a2})
			}
		}
	}
}

func size(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi.Size()
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: uint8(128 + x%2*127)})
		}
	}
	return img
}

func fixtures() map[string]image.Image {
	opaque := image.NewRGBA(image.Rect(0, 0, 32, 32))
	greyImg := image.NewGray(image.Rect(0, 0, 32, 32))
	wide := image.NewNRGBA64(image.Rect(0, 0, 16, 16))
	fits := image.NewNRGBA64(image.Rect(0, 0, 16, 16))
	twoTone := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			opaque.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 7, A: 255})
			greyImg.SetGray(x, y, color.Gray{Y: uint8((x + y) * 4)})
			c := color.NRGBA{R: 20, G: 200, B: 20, A: 255}
			if (x/4+y/4)%2 == 0 {
				c = color.NRGBA{}
			}
			twoTone.SetNRGBA(x, y, c)
			if x < 16 && y < 16 {
				wide.SetNRGBA64(x, y, color.NRGBA64{R: uint16(x*4000 + 3), G: uint16(y * 4000), B: 1, A: 0xffff})
				v := uint16(x*16) * 0x101
				fits.SetNRGBA64(x, y, color.NRGBA64{R: v, G: v, B: v, A: 0xffff})
			}
		}
	}
	return map[string]image.Image{
		"translucent gradient": gradient(32, 32),
		"opaque rgb":           opaque,
		"grey":                 greyImg,
		"16-bit wide":          wide,
		"16-bit narrowable":    fits,
		"two tone":             twoTone,
	}
}

// ── Pixel identity ────────────────────────────────────────────────────────────

func TestOptimize_KeepsPixelsAndNeverGrowsAtFullEffort(t *testing.T) {
	for name, img := range fixtures() {
		t.Run(name, func(t *testing.T) {
			in := writePNG(t, img)
			out := filepath.Join(t.TempDir(), "out.png")
			if err := pngopt.New().Optimize(context.Background(), in, out, pngopt.MaxEffort, core.AllReductions()); err != nil {
				t.Fatalf("Optimize: %v", err)
			}
			samePixels(t, decode(t, in), decode(t, out))
			if size(t, out) > size(t, in) {
				t.Errorf("grew: %d > %d", size(t, out), size(t, in))
			}
		})
	}
}

func TestOptimize_EveryEffortKeepsPixels(t *testing.T) {
	in := writePNG(t, gradient(24, 24))
	for effort := 0; effort <= pngopt.MaxEffort; effort++ {
		out := filepath.Join(t.TempDir(), "out.png")
		if err := pngopt.New().Optimize(context.Background(), in, out, effort, core.AllReductions()); err != nil {
			t.Fatalf("effort %d: %v", effort, err)
		}
		samePixels(t, decode(t, in), decode(t, out))
	}
}

func TestOptimize_MoreEffortIsNeverLarger(t *testing.T) {
	in := writePNG(t, fixtures()["opaque rgb"])
	dir := t.TempDir()
	low, high := filepath.Join(dir, "low.png"), filepath.Join(dir, "high.png")
	opt := pngopt.New()
	if err := opt.Optimize(context.Background(), in, low, 1, core.AllReductions()); err != nil {
		t.Fatal(err)
	}
	if err := opt.Optimize(context.Background(), in, high, pngopt.MaxEffort, core.AllReductions()); err != nil {
		t.Fatal(err)
	}
	if size(t, high) > size(t, low) {
		t.Errorf("effort 6 (%d) larger than effort 1 (%d)", size(t, high), size(t, low))
	}
}

// ── Reductions ────────────────────────────────────────────────────────────────

func TestOptimize_TwoColoursBecomePaletted(t *testing.T) {
	in := writePNG(t, fixtures()["two tone"])
	out := filepath.Join(t.TempDir(), "out.png")
	if err := pngopt.New().Optimize(context.Background(), in, out, 2, core.AllReductions()); err != nil {
		t.Fatal(err)
	}
	if _, ok := decode(t, out).(*image.Paletted); !ok {
		t.Errorf("got %T, want *image.Paletted", decode(t, out))
	}
}

func TestOptimize_PaletteReductionDisabled(t *testing.T) {
	in := writePNG(t, fixtures()["two tone"])
	out := filepath.Join(t.TempDir(), "out.png")
	r := core.AllReductions()
	r.PaletteReduction = false
	if err := pngopt.New().Optimize(context.Background(), in, out, pngopt.MaxEffort, r); err != nil {
		t.Fatal(err)
	}
	if _, ok := decode(t, out).(*image.Paletted); ok {
		t.Error("palette used although disabled")
	}
}

func TestOptimize_Scale16(t *testing.T) {
	in := writePNG(t, fixtures()["16-bit narrowable"])
	cases := []struct {
		scale bool
		wide  bool
	}{{true, false}, {false, true}}
	for _, tc := range cases {
		out := filepath.Join(t.TempDir(), "out.png")
		r := core.AllReductions()
		r.Scale16 = tc.scale
		if err := pngopt.New().Optimize(context.Background(), in, out, 2, r); err != nil {
			t.Fatal(err)
		}
		switch decode(t, out).(type) {
		case *image.Gray16, *image.RGBA64, *image.NRGBA64:
			if !tc.wide {
				t.Errorf("Scale16=%v: output kept 16 bits", tc.scale)
			}
		default:
			if tc.wide {
				t.Errorf("Scale16=%v: output lost 16 bits", tc.scale)
			}
		}
	}
}

func TestOptimize_OptimizeAlphaClearsHiddenColour(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	in := writePNG(t, img)
	out := filepath.Join(t.TempDir(), "out.png")
	if err := pngopt.New().Optimize(context.Background(), in, out, 2, core.AllReductions()); err != nil {
		t.Fatal(err)
	}
	got := color.NRGBAModel.Convert(decode(t, out).At(0, 0)).(color.NRGBA)
	if got != (color.NRGBA{}) {
		t.Errorf("transparent pixel: got %v", got)
	}
	samePixels(t, decode(t, in), decode(t, out))
}

// ── Chunks ────────────────────────────────────────────────────────────────────

// withText inserts a tEXt chunk right after IHDR.
func withText(t *testing.T, path, text string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := append([]byte("tEXt"), text...)
	chunk := make([]byte, 4, 12+len(text))
	binary.BigEndian.PutUint32(chunk, uint32(len(text)))
	chunk = append(chunk, body...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(body))

	const ihdrEnd = 33
	out := append(append(append([]byte{}, data[:ihdrEnd]...), chunk...), data[ihdrEnd:]...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOptimize_StripChunks(t *testing.T) {
	in := writePNG(t, gradient(8, 8))
	withText(t, in, "Comment\x00keep me")

	for _, strip := range []bool{true, false} {
		out := filepath.Join(t.TempDir(), "out.png")
		r := core.AllReductions()
		r.StripChunks = strip
		if err := pngopt.New().Optimize(context.Background(), in, out, 2, r); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(out)
		if has := bytes.Contains(data, []byte("keep me")); has == strip {
			t.Errorf("StripChunks=%v: text present=%v", strip, has)
		}
		samePixels(t, decode(t, in), decode(t, out))
	}
}

// ── Errors ────────────────────────────────────────────────────────────────────

func TestOptimize_Errors(t *testing.T) {
	dir := t.TempDir()
	notPNG := filepath.Join(dir, "x.png")
	os.WriteFile(notPNG, []byte("GIF89a not a png"), 0o644)

	err := pngopt.New().Optimize(context.Background(), notPNG, filepath.Join(dir, "o.png"), 2, core.AllReductions())
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Errorf("non-PNG: got %v", err)
	}

	err = pngopt.New().Optimize(context.Background(), filepath.Join(dir, "missing.png"), filepath.Join(dir, "o.png"), 2, core.AllReductions())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing input: got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := writePNG(t, gradient(4, 4))
	if err := pngopt.New().Optimize(ctx, in, filepath.Join(dir, "o.png"), 2, core.AllReductions()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: got %v", err)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkOptimize_Effort6_256(b *testing.B) {
	var buf bytes.Buffer
	png.Encode(&buf, gradient(256, 256))
	dir := b.TempDir()
	in := filepath.Join(dir, "in.png")
	os.WriteFile(in, buf.Bytes(), 0o644)
	out := filepath.Join(dir, "out.png")
	opt := pngopt.New()

	b.ReportAllocs()
	b.SetBytes(int64(buf.Len()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := opt.Optimize(context.Background(), in, out, pngopt.MaxEffort, core.AllReductions()); err != nil {
			b.Fatal(err)
		}
	}
}
