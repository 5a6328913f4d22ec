package matcher

import (
	"math"
	"testing"
)

func TestCompareIdenticalPlanes(t *testing.T) {
	p := facePlane()
	m := Compare(p, p)

	for name, v := range map[string]float64{
		"euclidean":  m.Euclidean,
		"cosine":     m.Cosine,
		"landmarks":  m.Landmarks,
		"structural": m.Structural,
		"texture":    m.Texture,
		"histogram":  m.Histogram,
	} {
		if v < 0.99 {
			t.Errorf("%s: expected near 1 for identical planes, got %f", name, v)
		}
	}
	if m.EuclideanDistance > 1e-9 {
		t.Errorf("expected zero euclidean distance, got %f", m.EuclideanDistance)
	}
	if m.CosineDistance > 1e-9 {
		t.Errorf("expected zero cosine distance, got %f", m.CosineDistance)
	}
	if avg := m.Average(); avg < 0.99 {
		t.Errorf("expected average near 1, got %f", avg)
	}
}

func TestCompareMetricsBounded(t *testing.T) {
	m := Compare(facePlane(), ridgePlane())
	for name, v := range map[string]float64{
		"euclidean":  m.Euclidean,
		"cosine":     m.Cosine,
		"landmarks":  m.Landmarks,
		"structural": m.Structural,
		"texture":    m.Texture,
		"histogram":  m.Histogram,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s: out of [0,1]: %f", name, v)
		}
	}
}

func TestAverageEqualWeights(t *testing.T) {
	m := ComparisonMetrics{
		Euclidean:  0.9,
		Cosine:     0.8,
		Landmarks:  0.7,
		Structural: 0.6,
		Texture:    0.5,
		Histogram:  0.4,
	}
	want := (0.9 + 0.8 + 0.7 + 0.6 + 0.5 + 0.4) / 6
	if got := m.Average(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Average() = %f, want %f", got, want)
	}
}
