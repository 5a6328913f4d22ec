package matcher

import (
	"context"
	"math"

	"github.com/example/face-verify/internal/imaging"
)

// Per-scorer decision thresholds, calibrated offline. Each scorer decides
// `matched` locally against its own threshold before the ensemble sees the
// score, so the consensus engine can treat `matched` as an independent vote.
const (
	tripletThreshold    = 0.60
	arcfaceThreshold    = 0.62
	cosfaceThreshold    = 0.64
	spherefaceThreshold = 0.58

	arcfaceAngularMargin    = 0.10 // radians, additive
	cosfaceCosineMargin     = 0.08 // additive on the cosine
	spherefaceAngularFactor = 1.35 // multiplicative on the angle
)

// DefaultMatchers returns the fixed embedding ensemble.
func DefaultMatchers() []FaceMatcher {
	return []FaceMatcher{
		&TripletScorer{},
		&ArcFaceScorer{},
		&CosFaceScorer{},
		&SphereFaceScorer{},
	}
}

func pairEmbeddings(ctx context.Context, selfie, document *imaging.Plane) (Embedding, Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return ExtractEmbedding(selfie), ExtractEmbedding(document), nil
}

// TripletScorer scores on the euclidean distance between embeddings, the
// decision signal a triplet-loss trained model exposes.
type TripletScorer struct{}

func (s *TripletScorer) Name() string { return "triplet" }

func (s *TripletScorer) Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	a, b, err := pairEmbeddings(ctx, selfie, document)
	if err != nil {
		return AlgorithmResult{}, err
	}
	dist := EuclideanDistance(a, b)
	// Normalized embeddings bound the distance to [0, 2].
	score := clampScore(1 - dist/2)
	return AlgorithmResult{
		Score:      score,
		Matched:    score >= tripletThreshold,
		Confidence: confidenceFor(score, tripletThreshold),
		Distance:   ptr(dist),
	}, nil
}

// ArcFaceScorer applies an additive angular margin before mapping the angle
// back to a similarity score.
type ArcFaceScorer struct{}

func (s *ArcFaceScorer) Name() string { return "arcface" }

func (s *ArcFaceScorer) Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	a, b, err := pairEmbeddings(ctx, selfie, document)
	if err != nil {
		return AlgorithmResult{}, err
	}
	cos := CosineSimilarity(a, b)
	angle := math.Acos(cos)
	score := clampScore(1 - (angle+arcfaceAngularMargin)/math.Pi)
	return AlgorithmResult{
		Score:      score,
		Matched:    score >= arcfaceThreshold,
		Confidence: confidenceFor(score, arcfaceThreshold),
		Angle:      ptr(angle),
		Cosine:     ptr(cos),
	}, nil
}

// CosFaceScorer applies an additive margin on the cosine itself.
type CosFaceScorer struct{}

func (s *CosFaceScorer) Name() string { return "cosface" }

func (s *CosFaceScorer) Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	a, b, err := pairEmbeddings(ctx, selfie, document)
	if err != nil {
		return AlgorithmResult{}, err
	}
	cos := CosineSimilarity(a, b)
	score := clampScore((cos - cosfaceCosineMargin + 1) / 2)
	return AlgorithmResult{
		Score:      score,
		Matched:    score >= cosfaceThreshold,
		Confidence: confidenceFor(score, cosfaceThreshold),
		Cosine:     ptr(cos),
	}, nil
}

// SphereFaceScorer multiplies the angle before mapping it back, punishing
// off-axis pairs harder than the additive margins do.
type SphereFaceScorer struct{}

func (s *SphereFaceScorer) Name() string { return "sphereface" }

func (s *SphereFaceScorer) Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	a, b, err := pairEmbeddings(ctx, selfie, document)
	if err != nil {
		return AlgorithmResult{}, err
	}
	cos := CosineSimilarity(a, b)
	angle := math.Acos(cos)
	scaled := angle * spherefaceAngularFactor
	if scaled > math.Pi {
		scaled = math.Pi
	}
	score := clampScore(1 - scaled/math.Pi)
	return AlgorithmResult{
		Score:      score,
		Matched:    score >= spherefaceThreshold,
		Confidence: confidenceFor(score, spherefaceThreshold),
		Angle:      ptr(angle),
		Cosine:     ptr(cos),
	}, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
