package matcher

import (
	"math"

	"github.com/example/face-verify/internal/imaging"
)

// Embeddings are extracted on a fixed-size plane so every scorer sees the
// same feature space.
const (
	embeddingPlaneSize = 64
	embeddingGrid      = 8
)

// Embedding is an L2-normalized feature vector for one face capture.
type Embedding []float64

// ExtractEmbedding builds a 128-dimensional embedding: per-block mean
// intensities followed by per-block gradient energies over an 8x8 grid.
// Deterministic for identical pixel data.
func ExtractEmbedding(p *imaging.Plane) Embedding {
	block := p.W / embeddingGrid
	if block < 1 {
		block = 1
	}
	e := make(Embedding, 0, 2*embeddingGrid*embeddingGrid)

	for gy := 0; gy < embeddingGrid; gy++ {
		for gx := 0; gx < embeddingGrid; gx++ {
			r := imaging.Region{X0: gx * block, Y0: gy * block, X1: (gx + 1) * block, Y1: (gy + 1) * block}
			e = append(e, p.Mean(r)/255)
		}
	}
	for gy := 0; gy < embeddingGrid; gy++ {
		for gx := 0; gx < embeddingGrid; gx++ {
			r := imaging.Region{X0: gx * block, Y0: gy * block, X1: (gx + 1) * block, Y1: (gy + 1) * block}
			var energy float64
			for y := r.Y0; y < r.Y1; y++ {
				for x := r.X0; x < r.X1; x++ {
					energy += p.GradientMagnitude(x, y)
				}
			}
			e = append(e, energy/float64(block*block)/255)
		}
	}
	return e.normalize()
}

func (e Embedding) normalize() Embedding {
	var norm float64
	for _, v := range e {
		norm += v * v
	}
	if norm == 0 {
		return e
	}
	norm = math.Sqrt(norm)
	for i := range e {
		e[i] /= norm
	}
	return e
}

// EuclideanDistance between two normalized embeddings, in [0, 2].
func EuclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineSimilarity between two normalized embeddings, clamped to [-1, 1].
func CosineSimilarity(a, b Embedding) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return dot
}
