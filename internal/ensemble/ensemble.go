// Package ensemble aggregates scorer verdicts into one auditable
// verification decision.
package ensemble

import (
	"errors"
	"math"
	"sort"

	"github.com/example/face-verify/internal/matcher"
)

// ErrScoringUnavailable means fewer than the minimum number of scorers
// produced results: no consensus can be established and no decision is made.
// Surfaced to the user as "please retry verification", never as a rejection.
var ErrScoringUnavailable = errors.New("ensemble: scoring unavailable, not enough scorer results")

// Stats describes how the ensemble reached its decision.
type Stats struct {
	WeightedScore float64 `json:"weightedScore"`
	Votes         int     `json:"votes"`
	Variance      float64 `json:"variance"`
	StdDev        float64 `json:"stdDev"`
	Threshold     float64 `json:"threshold"`
}

// VerificationResult is the final verdict for a session. Score,
// RequiredScore and the quality fields use the 0-100 scale.
type VerificationResult struct {
	Passed            bool                               `json:"passed"`
	Score             float64                            `json:"score"`
	Confidence        matcher.Confidence                 `json:"confidence"`
	RequiredScore     float64                            `json:"requiredScore"`
	Metrics           *matcher.ComparisonMetrics         `json:"metrics,omitempty"`
	SelfieQuality     float64                            `json:"selfieQuality"`
	DocumentQuality   float64                            `json:"documentQuality"`
	EnsembleAgreement *int                               `json:"ensembleAgreement,omitempty"`
	AdaptiveThreshold *float64                           `json:"adaptiveThreshold,omitempty"`
	Algorithms        map[string]matcher.AlgorithmResult `json:"algorithms,omitempty"`
	EnsembleStats     *Stats                             `json:"ensembleStats,omitempty"`
}

// Config holds the decision coefficients. All of them are tunable via the
// service configuration; the zero value is not usable, construct through
// DefaultConfig or the config package.
type Config struct {
	// Weights are per-algorithm reliability weights, renormalized over the
	// scorers present in a given run.
	Weights map[string]float64

	// ClassicalWeight blends the classical comparator average into the
	// embedding score (0.15 means 85% embeddings, 15% classical).
	ClassicalWeight float64

	// BaselineThreshold is the starting 0-100 bar before penalties.
	BaselineThreshold float64

	// QualityPenalty raises the bar for poor captures:
	// + (100 - min(selfieQ, docQ)) * QualityPenalty.
	QualityPenalty float64

	// DispersionPenalty raises the bar when scorers disagree:
	// + stdDev * 100 * DispersionPenalty.
	DispersionPenalty float64

	// MinThreshold and MaxThreshold clamp the adaptive threshold.
	MinThreshold float64
	MaxThreshold float64

	// MinScorers is the smallest ensemble that can establish consensus.
	MinScorers int

	// HighConfidenceMargin is the score-over-threshold distance required
	// for a high confidence label, on the 0-100 scale.
	HighConfidenceMargin float64
}

// DefaultConfig returns the calibration placeholders from the design.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			"arcface":    0.30,
			"cosface":    0.25,
			"sphereface": 0.20,
			"triplet":    0.25,
		},
		ClassicalWeight:      0.15,
		BaselineThreshold:    70,
		QualityPenalty:       0.15,
		DispersionPenalty:    0.20,
		MinThreshold:         55,
		MaxThreshold:         90,
		MinScorers:           2,
		HighConfidenceMargin: 10,
	}
}

// Engine is the consensus join point. Decide is a pure function of its
// inputs: fixed scorer outputs always yield the same result.
type Engine struct {
	cfg Config
}

// NewEngine validates and wraps the configuration.
func NewEngine(cfg Config) *Engine {
	if cfg.MinScorers < 2 {
		cfg.MinScorers = 2
	}
	return &Engine{cfg: cfg}
}

// Decide aggregates a (possibly partial) set of embedding scorer results and
// the classical metrics into a VerificationResult.
func (e *Engine) Decide(algorithms map[string]matcher.AlgorithmResult, classical *matcher.ComparisonMetrics, selfieQuality, documentQuality float64) (*VerificationResult, error) {
	present := len(algorithms)
	if present < e.cfg.MinScorers {
		// A 1-vote ensemble cannot establish consensus; force manual review
		// instead of an automated decision.
		return nil, ErrScoringUnavailable
	}

	embeddingScore := e.weightedEmbeddingScore(algorithms)

	classicalWeight := e.cfg.ClassicalWeight
	var classicalScore float64
	if classical != nil {
		classicalScore = classical.Average()
	} else {
		classicalWeight = 0
	}
	weighted := embeddingScore*(1-classicalWeight) + classicalScore*classicalWeight
	score := round2(weighted * 100)

	votes := 0
	for _, r := range algorithms {
		if r.Matched {
			votes++
		}
	}

	variance, stdDev := dispersion(algorithms)

	threshold := e.cfg.BaselineThreshold
	threshold += (100 - math.Min(selfieQuality, documentQuality)) * e.cfg.QualityPenalty
	threshold += stdDev * 100 * e.cfg.DispersionPenalty
	threshold = round2(math.Min(math.Max(threshold, e.cfg.MinThreshold), e.cfg.MaxThreshold))

	required := votesRequired(present)
	passed := score >= threshold && votes >= required

	confidence := matcher.ConfidenceLow
	switch {
	case passed && votes == present && score-threshold >= e.cfg.HighConfidenceMargin:
		confidence = matcher.ConfidenceHigh
	case passed:
		confidence = matcher.ConfidenceMedium
	}

	stats := &Stats{
		WeightedScore: score,
		Votes:         votes,
		Variance:      variance,
		StdDev:        stdDev,
		Threshold:     threshold,
	}
	agreement := votes
	adaptive := threshold
	return &VerificationResult{
		Passed:            passed,
		Score:             score,
		Confidence:        confidence,
		RequiredScore:     threshold,
		Metrics:           classical,
		SelfieQuality:     selfieQuality,
		DocumentQuality:   documentQuality,
		EnsembleAgreement: &agreement,
		AdaptiveThreshold: &adaptive,
		Algorithms:        algorithms,
		EnsembleStats:     stats,
	}, nil
}

// weightedEmbeddingScore combines the present scorers with their reliability
// weights, renormalized so missing scorers do not drag the score down.
func (e *Engine) weightedEmbeddingScore(algorithms map[string]matcher.AlgorithmResult) float64 {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)

	var totalWeight, sum float64
	for _, name := range names {
		w, ok := e.cfg.Weights[name]
		if !ok {
			// Scorer outside the configured weight table gets the mean weight.
			w = 1 / float64(len(algorithms))
		}
		totalWeight += w
		sum += algorithms[name].Score * w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// votesRequired is majority-plus-one of the scorers that actually ran.
func votesRequired(present int) int {
	return int(math.Ceil(float64(present)/2)) + 1
}

func dispersion(algorithms map[string]matcher.AlgorithmResult) (variance, stdDev float64) {
	n := len(algorithms)
	if n == 0 {
		return 0, 0
	}
	var mean float64
	for _, r := range algorithms {
		mean += r.Score
	}
	mean /= float64(n)
	for _, r := range algorithms {
		d := r.Score - mean
		variance += d * d
	}
	variance /= float64(n)
	return variance, math.Sqrt(variance)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
