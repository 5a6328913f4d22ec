// Package matcher holds the face matching algorithms: four embedding based
// scorers that vote independently, plus the classical signal comparators
// retained for audit.
package matcher

import (
	"context"
	"errors"

	"github.com/example/face-verify/internal/imaging"
)

// ErrScorerTimeout marks a scorer dropped from the ensemble because it did
// not finish within its deadline.
var ErrScorerTimeout = errors.New("matcher: scorer timed out")

// Confidence buckets summarize how far a score sits from its threshold.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AlgorithmResult is one scorer's verdict on a selfie/document pair.
// Distance, Angle and Cosine carry the raw signal the scorer used, when it
// has one.
type AlgorithmResult struct {
	Score      float64    `json:"score"`
	Matched    bool       `json:"matched"`
	Confidence Confidence `json:"confidence"`
	Distance   *float64   `json:"distance,omitempty"`
	Angle      *float64   `json:"angle,omitempty"`
	Cosine     *float64   `json:"cosine,omitempty"`
}

// FaceMatcher compares a selfie/document pair and produces a normalized
// score with a local match decision. Implementations must honor ctx so that
// slow or remote scorers can be cancelled.
type FaceMatcher interface {
	Name() string
	Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error)
}

// confidenceFor derives the bucket from the margin between score and the
// scorer's own threshold: high at >= 0.15, medium at >= 0.05.
func confidenceFor(score, threshold float64) Confidence {
	margin := score - threshold
	if margin < 0 {
		margin = -margin
	}
	switch {
	case margin >= 0.15:
		return ConfidenceHigh
	case margin >= 0.05:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func ptr(v float64) *float64 { return &v }
