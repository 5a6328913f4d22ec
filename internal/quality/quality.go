// Package quality implements the capture quality gate. It scores a single
// decoded image for fitness-for-matching and rejects unusable captures
// before any matching work happens.
package quality

import (
	"errors"
	"image"
	"math"
	"strings"

	"github.com/example/face-verify/internal/imaging"
)

// ErrCaptureRejected marks an image below the acceptance floor. Recoverable:
// the user re-captures and the image never reaches the scorers.
var ErrCaptureRejected = errors.New("quality: capture rejected")

// Modality selects the sub-checks applied to a capture.
type Modality string

const (
	ModalitySelfie   Modality = "selfie"
	ModalityDocument Modality = "document"
)

// Assessment is the per-image verdict. Quality is 0-100; Message explains
// the first failing sub-check. Sub-checks not applicable to the modality
// stay false and are omitted from JSON.
type Assessment struct {
	Modality Modality `json:"modality"`
	Detected bool     `json:"detected"`

	// Selfie sub-checks.
	Centered        bool `json:"centered,omitempty"`
	GoodLighting    bool `json:"goodLighting,omitempty"`
	LookingAtCamera bool `json:"lookingAtCamera,omitempty"`

	// Document sub-checks.
	FullyVisible bool `json:"fullyVisible,omitempty"`
	WellFramed   bool `json:"wellFramed,omitempty"`
	InFocus      bool `json:"inFocus,omitempty"`
	NoGlare      bool `json:"noGlare,omitempty"`

	Quality float64 `json:"quality"`
	Message string  `json:"message,omitempty"`
}

// Gate scores captures against an acceptance floor.
type Gate struct {
	floor float64
}

// NewGate builds a gate with the given 0-100 acceptance floor.
func NewGate(floor float64) *Gate {
	return &Gate{floor: floor}
}

// Floor returns the configured acceptance floor.
func (g *Gate) Floor() float64 { return g.floor }

// Accepted reports whether an assessment clears the floor.
func (g *Gate) Accepted(a Assessment) bool { return a.Quality >= g.floor }

// Plane size for quality analysis. Large enough to keep the Laplacian and
// gradient statistics meaningful after downscaling.
const analysisSize = 128

// Tuning constants for the pixel heuristics.
const (
	minContrastStdDev  = 14.0  // below this the frame is effectively uniform
	minEdgeDensity     = 0.015 // subject presence needs some structure
	edgeThreshold      = 25.0
	glareIntensity     = 242.0
	maxGlareFraction   = 0.02
	sharpnessFloor     = 0.15
	symmetryFloor      = 0.35
	centerDrift        = 0.18 // max centroid offset from center, as a fraction
	criticalFailureCap = 45.0 // keeps hard failures under the 50 floor
)

// Assess scores a decoded image. Pure function of pixel data.
func (g *Gate) Assess(img image.Image, modality Modality) Assessment {
	p := imaging.FromImage(img, analysisSize)
	switch modality {
	case ModalityDocument:
		return assessDocument(p)
	default:
		return assessSelfie(p)
	}
}

func assessSelfie(p *imaging.Plane) Assessment {
	a := Assessment{Modality: ModalitySelfie}

	center := p.CenterRegion(0.6)
	contrast := stdDev(p, center)
	edges := p.EdgeDensity(center, edgeThreshold)
	a.Detected = contrast >= minContrastStdDev && edges >= minEdgeDensity
	if !a.Detected {
		a.Quality = 0
		a.Message = "no face detected in frame"
		return a
	}

	full := p.FullRegion()
	mean := p.Mean(full)
	lighting := lightingScore(mean, p.Variance(full, mean))
	a.GoodLighting = lighting >= 0.5

	cx, cy := p.GradientCentroid(full)
	drift := maxAbs(cx-0.5, cy-0.5)
	a.Centered = drift <= centerDrift
	centering := clamp01(1 - drift/(2*centerDrift))

	sym := p.MirrorCorrelation(center)
	a.LookingAtCamera = sym >= symmetryFloor
	gaze := clamp01(sym)

	sharp := sharpnessScore(p, center)

	// Equal weighting across the sub-check scores present for this modality.
	a.Quality = 100 * (lighting + centering + gaze + sharp) / 4
	if !a.GoodLighting {
		capQuality(&a, "lighting is too dark or too bright")
	}
	annotateFailures(&a)
	return a
}

func assessDocument(p *imaging.Plane) Assessment {
	a := Assessment{Modality: ModalityDocument}

	center := p.CenterRegion(0.8)
	contrast := stdDev(p, center)
	edges := p.EdgeDensity(center, edgeThreshold)
	a.Detected = contrast >= minContrastStdDev && edges >= minEdgeDensity
	a.FullyVisible = a.Detected
	if !a.Detected {
		a.Quality = 0
		a.Message = "no document detected in frame"
		return a
	}

	full := p.FullRegion()
	cx, cy := p.GradientCentroid(full)
	drift := maxAbs(cx-0.5, cy-0.5)
	a.WellFramed = drift <= centerDrift
	framing := clamp01(1 - drift/(2*centerDrift))

	sharp := sharpnessScore(p, center)
	a.InFocus = sharp >= sharpnessFloor

	glare := glareFraction(p, full)
	a.NoGlare = glare <= maxGlareFraction
	glareScore := clamp01(1 - glare/(4*maxGlareFraction))

	mean := p.Mean(full)
	lighting := lightingScore(mean, p.Variance(full, mean))

	a.Quality = 100 * (framing + sharp + glareScore + lighting) / 4
	if !a.NoGlare {
		capQuality(&a, "glare obscures the document")
	}
	if !a.InFocus {
		capQuality(&a, "document is out of focus")
	}
	annotateFailures(&a)
	return a
}

// lightingScore favors mid brightness with reasonable contrast. Ideal
// brightness sits around 50%; very dark or blown-out frames score near zero.
func lightingScore(mean, variance float64) float64 {
	brightness := mean / 255
	var bScore float64
	switch {
	case brightness >= 0.3 && brightness <= 0.7:
		bScore = 1
	case brightness < 0.3:
		bScore = brightness / 0.3
	default:
		bScore = (1 - brightness) / 0.3
	}
	contrast := clamp01(variance / 3000)
	return clamp01(bScore*0.6 + contrast*0.4)
}

func sharpnessScore(p *imaging.Plane, r imaging.Region) float64 {
	return clamp01(p.LaplacianVariance(r) / 1000)
}

func glareFraction(p *imaging.Plane, r imaging.Region) float64 {
	var hot, n int
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			if p.At(x, y) >= glareIntensity {
				hot++
			}
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(hot) / float64(n)
}

// capQuality keeps hard failures below the acceptance floor regardless of
// how the remaining sub-checks scored.
func capQuality(a *Assessment, message string) {
	if a.Quality > criticalFailureCap {
		a.Quality = criticalFailureCap
	}
	if a.Message == "" {
		a.Message = message
	}
}

// annotateFailures fills Message for soft sub-check failures so rejected
// assessments always carry a reason.
func annotateFailures(a *Assessment) {
	if a.Message != "" {
		return
	}
	var reasons []string
	switch a.Modality {
	case ModalitySelfie:
		if !a.Centered {
			reasons = append(reasons, "face is not centered")
		}
		if !a.LookingAtCamera {
			reasons = append(reasons, "look directly at the camera")
		}
	case ModalityDocument:
		if !a.WellFramed {
			reasons = append(reasons, "document is not centered in frame")
		}
	}
	if len(reasons) > 0 {
		a.Message = strings.Join(reasons, "; ")
	}
}

func stdDev(p *imaging.Plane, r imaging.Region) float64 {
	mean := p.Mean(r)
	v := p.Variance(r, mean)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxAbs(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
