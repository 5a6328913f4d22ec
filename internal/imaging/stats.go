package imaging

import "math"

// Mean returns the average intensity over the region.
func (p *Plane) Mean(r Region) float64 {
	r = r.clip(p)
	n := r.area()
	if n == 0 {
		return 0
	}
	var sum float64
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			sum += p.Pix[y*p.W+x]
		}
	}
	return sum / float64(n)
}

// Variance returns the intensity variance over the region given its mean.
func (p *Plane) Variance(r Region, mean float64) float64 {
	r = r.clip(p)
	n := r.area()
	if n == 0 {
		return 0
	}
	var sum float64
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			d := p.Pix[y*p.W+x] - mean
			sum += d * d
		}
	}
	return sum / float64(n)
}

// Covariance returns the pixel-wise covariance of two planes of equal size.
func Covariance(a, b *Plane, meanA, meanB float64) float64 {
	n := len(a.Pix)
	if n == 0 || n != len(b.Pix) {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += (a.Pix[i] - meanA) * (b.Pix[i] - meanB)
	}
	return sum / float64(n)
}

// Histogram builds a 256-bin intensity histogram normalized to sum 1.
func (p *Plane) Histogram() [256]float64 {
	var h [256]float64
	if len(p.Pix) == 0 {
		return h
	}
	for _, v := range p.Pix {
		i := int(v)
		if i < 0 {
			i = 0
		}
		if i > 255 {
			i = 255
		}
		h[i]++
	}
	inv := 1 / float64(len(p.Pix))
	for i := range h {
		h[i] *= inv
	}
	return h
}

// LaplacianVariance measures sharpness as the variance of the 4-neighbour
// Laplacian response. Blurred captures produce a flat response.
func (p *Plane) LaplacianVariance(r Region) float64 {
	r = r.clip(p)
	var sum, sumSq float64
	var n int
	for y := r.Y0 + 1; y < r.Y1-1; y++ {
		for x := r.X0 + 1; x < r.X1-1; x++ {
			v := 4*p.At(x, y) - p.At(x-1, y) - p.At(x+1, y) - p.At(x, y-1) - p.At(x, y+1)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// GradientMagnitude returns the central-difference gradient magnitude at (x, y).
func (p *Plane) GradientMagnitude(x, y int) float64 {
	gx := p.At(x+1, y) - p.At(x-1, y)
	gy := p.At(x, y+1) - p.At(x, y-1)
	return math.Hypot(gx, gy)
}

// EdgeDensity is the fraction of pixels in the region whose gradient
// magnitude exceeds the threshold.
func (p *Plane) EdgeDensity(r Region, threshold float64) float64 {
	r = r.clip(p)
	n := r.area()
	if n == 0 {
		return 0
	}
	var edges int
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			if p.GradientMagnitude(x, y) > threshold {
				edges++
			}
		}
	}
	return float64(edges) / float64(n)
}

// GradientCentroid returns the gradient-weighted centroid of the region as
// fractions of the plane dimensions. A uniform region yields the geometric
// center.
func (p *Plane) GradientCentroid(r Region) (cx, cy float64) {
	r = r.clip(p)
	var sx, sy, sw float64
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			w := p.GradientMagnitude(x, y)
			sx += w * float64(x)
			sy += w * float64(y)
			sw += w
		}
	}
	if sw == 0 {
		return float64(r.X0+r.X1) / 2 / float64(p.W), float64(r.Y0+r.Y1) / 2 / float64(p.H)
	}
	return sx / sw / float64(p.W), sy / sw / float64(p.H)
}

// MirrorCorrelation measures horizontal symmetry of the region: the Pearson
// correlation between the left half and the mirrored right half. Frontal
// faces score high, profiles and off-axis gazes score low.
func (p *Plane) MirrorCorrelation(r Region) float64 {
	r = r.clip(p)
	w := r.X1 - r.X0
	h := r.Y1 - r.Y0
	if w < 2 || h < 1 {
		return 0
	}
	half := w / 2

	var left, right []float64
	for y := r.Y0; y < r.Y1; y++ {
		for i := 0; i < half; i++ {
			left = append(left, p.At(r.X0+i, y))
			right = append(right, p.At(r.X1-1-i, y))
		}
	}
	return Correlation(left, right)
}

// Correlation computes the Pearson correlation coefficient of two equally
// sized samples. Degenerate (zero variance) samples yield 0.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)

	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da := a[i] - ma
		db := b[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
