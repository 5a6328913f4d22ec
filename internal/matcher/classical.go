package matcher

import (
	"math"

	"github.com/example/face-verify/internal/imaging"
)

// ComparisonMetrics are the classical comparator outputs. They do not vote
// in the ensemble; they feed the weighted score and are retained for audit
// and debugging.
type ComparisonMetrics struct {
	Euclidean  float64 `json:"euclidean"`
	Cosine     float64 `json:"cosine"`
	Landmarks  float64 `json:"landmarks"`
	Structural float64 `json:"structural"`
	Texture    float64 `json:"texture"`
	Histogram  float64 `json:"histogram"`

	EuclideanDistance float64 `json:"euclideanDistance"`
	CosineDistance    float64 `json:"cosineDistance"`
}

// Average combines the similarity metrics with equal weight.
func (m ComparisonMetrics) Average() float64 {
	return (m.Euclidean + m.Cosine + m.Landmarks + m.Structural + m.Texture + m.Histogram) / 6
}

// Compare computes every classical metric once on a shared embedding and the
// raw planes. Pure function of pixel data.
func Compare(selfie, document *imaging.Plane) ComparisonMetrics {
	a := ExtractEmbedding(selfie)
	b := ExtractEmbedding(document)

	dist := EuclideanDistance(a, b)
	cos := CosineSimilarity(a, b)

	return ComparisonMetrics{
		Euclidean:         clampScore(1 - dist/2),
		Cosine:            clampScore((cos + 1) / 2),
		Landmarks:         landmarkAgreement(selfie, document),
		Structural:        structuralSimilarity(selfie, document),
		Texture:           textureSimilarity(selfie, document),
		Histogram:         histogramCorrelation(selfie, document),
		EuclideanDistance: dist,
		CosineDistance:    1 - cos,
	}
}

// landmarkAgreement compares coarse facial geometry: the gradient-weighted
// centroid of each cell in a 4x4 grid, scored by how far corresponding
// centroids drift apart.
func landmarkAgreement(p, q *imaging.Plane) float64 {
	const grid = 4
	bw := p.W / grid
	bh := p.H / grid
	if bw < 1 || bh < 1 {
		return 0
	}
	diag := math.Hypot(float64(bw), float64(bh))

	var total float64
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			r := imaging.Region{X0: gx * bw, Y0: gy * bh, X1: (gx + 1) * bw, Y1: (gy + 1) * bh}
			px, py := p.GradientCentroid(r)
			qx, qy := q.GradientCentroid(r)
			d := math.Hypot((px-qx)*float64(p.W), (py-qy)*float64(p.H))
			total += clampScore(1 - d/diag)
		}
	}
	return total / (grid * grid)
}

// structuralSimilarity is a single-window SSIM over global statistics with
// the standard stabilizing constants for 8-bit dynamic range.
func structuralSimilarity(p, q *imaging.Plane) float64 {
	c1 := math.Pow(0.01*255, 2)
	c2 := math.Pow(0.03*255, 2)

	fp := p.FullRegion()
	fq := q.FullRegion()
	m1 := p.Mean(fp)
	m2 := q.Mean(fq)
	v1 := p.Variance(fp, m1)
	v2 := q.Variance(fq, m2)
	cov := imaging.Covariance(p, q, m1, m2)

	den := (m1*m1 + m2*m2 + c1) * (v1 + v2 + c2)
	if den == 0 {
		return 0
	}
	return clampScore((2*m1*m2 + c1) * (2*cov + c2) / den)
}

// textureSimilarity compares variance-based texture scores of the two
// planes; both are normalized against a fixed variance scale first.
func textureSimilarity(p, q *imaging.Plane) float64 {
	const varianceScale = 5000
	tp := clampScore(p.Variance(p.FullRegion(), p.Mean(p.FullRegion())) / varianceScale)
	tq := clampScore(q.Variance(q.FullRegion(), q.Mean(q.FullRegion())) / varianceScale)
	return clampScore(1 - math.Abs(tp-tq))
}

// histogramCorrelation is the Pearson correlation of the two normalized
// 256-bin intensity histograms, floored at zero.
func histogramCorrelation(p, q *imaging.Plane) float64 {
	hp := p.Histogram()
	hq := q.Histogram()
	return clampScore(imaging.Correlation(hp[:], hq[:]))
}
