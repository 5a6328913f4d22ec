// Package imaging provides grayscale pixel planes and the statistics the
// quality gate and the face matchers operate on.
package imaging

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrUnsupportedImage is returned when the payload cannot be decoded as an
// image in any registered format.
var ErrUnsupportedImage = errors.New("imaging: unsupported or corrupt image data")

// Plane is a row-major grayscale raster with float64 intensities in [0,255].
// All pixel math in the verification core runs on planes, never on the
// original decoded image.
type Plane struct {
	W, H int
	Pix  []float64
}

// Decode parses raw image bytes. JPEG, PNG and BMP are registered.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrUnsupportedImage
	}
	return img, nil
}

// FromImage scales img to size x size and converts it to a grayscale plane.
// Bilinear scaling keeps the plane deterministic for identical inputs.
func FromImage(img image.Image, size int) *Plane {
	gray := image.NewGray(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	p := &Plane{W: size, H: size, Pix: make([]float64, size*size)}
	for y := 0; y < size; y++ {
		row := y * gray.Stride
		for x := 0; x < size; x++ {
			p.Pix[y*size+x] = float64(gray.Pix[row+x])
		}
	}
	return p
}

// At returns the intensity at (x, y). Out-of-bounds reads return 0.
func (p *Plane) At(x, y int) float64 {
	if x < 0 || x >= p.W || y < 0 || y >= p.H {
		return 0
	}
	return p.Pix[y*p.W+x]
}

// Region bounds a rectangular sub-area of the plane, clipped to its edges.
type Region struct {
	X0, Y0, X1, Y1 int
}

// FullRegion covers the whole plane.
func (p *Plane) FullRegion() Region {
	return Region{0, 0, p.W, p.H}
}

// CenterRegion returns the central fraction of the plane, e.g. frac=0.5 is
// the middle half in both dimensions.
func (p *Plane) CenterRegion(frac float64) Region {
	if frac <= 0 || frac > 1 {
		frac = 1
	}
	mx := int(float64(p.W) * (1 - frac) / 2)
	my := int(float64(p.H) * (1 - frac) / 2)
	return Region{mx, my, p.W - mx, p.H - my}
}

func (r Region) clip(p *Plane) Region {
	if r.X0 < 0 {
		r.X0 = 0
	}
	if r.Y0 < 0 {
		r.Y0 = 0
	}
	if r.X1 > p.W {
		r.X1 = p.W
	}
	if r.Y1 > p.H {
		r.Y1 = p.H
	}
	return r
}

func (r Region) area() int {
	w := r.X1 - r.X0
	h := r.Y1 - r.Y0
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
