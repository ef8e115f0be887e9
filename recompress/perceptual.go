package recompress

import (
	"image"
	"image/png"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// sampleGrid is the number of samples taken along the longer image axis.
const sampleGrid = 64

// PerceptualDelta returns the mean CIE Lab distance between two PNG files,
// sampled on a regular grid and skipping pixels transparent in either.  It
// returns -1 when either file cannot be decoded or their sizes differ.
func PerceptualDelta(a, b string) float64 {
	imgA, err := decodePNG(a)
	if err != nil {
		return -1
	}
	imgB, err := decodePNG(b)
	if err != nil {
		return -1
	}
	return Delta(imgA, imgB)
}

// Delta is PerceptualDelta over decoded images.
func Delta(a, b image.Image) float64 {
	ba, bb := a.Bounds(), b.Bounds()
	if ba.Dx() != bb.Dx() || ba.Dy() != bb.Dy() {
		return -1
	}
	step := max(1, max(ba.Dx(), ba.Dy())/sampleGrid)
	var sum float64
	var n int
	for y := 0; y < ba.Dy(); y += step {
		for x := 0; x < ba.Dx(); x += step {
			ca, okA := colorful.MakeColor(a.At(ba.Min.X+x, ba.Min.Y+y))
			cb, okB := colorful.MakeColor(b.At(bb.Min.X+x, bb.Min.Y+y))
			if !okA || !okB {
				continue
			}
			sum += ca.DistanceLab(cb)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
