package capture

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"docshot/quad"
)

// Regime identifies how the true aspect ratio was recovered.
type Regime int

const (
	// RegimeAngular corrects each dimension independently using the
	// half-angle subtended by the opposite side pair. Orientation
	// invariant, accurate for nearly fronto-parallel views.
	RegimeAngular Regime = iota
	// RegimeProjective decomposes the square-to-quad homography against
	// the camera intrinsics. Needed for strongly slanted views.
	RegimeProjective
	// RegimeBlended linearly mixes the two by perspective severity.
	RegimeBlended
	// RegimeFallback is the angular estimate used out of its comfort zone
	// because no intrinsics were available.
	RegimeFallback
)

func (r Regime) String() string {
	switch r {
	case RegimeAngular:
		return "angular"
	case RegimeProjective:
		return "projective"
	case RegimeBlended:
		return "blended"
	case RegimeFallback:
		return "fallback"
	}
	return "unknown"
}

// AspectEstimate is the recovered true width:height ratio of the document.
type AspectEstimate struct {
	Ratio      float64
	Confidence float64
	Regime     Regime
	Format     *FormatMatch
}

// Severity bands selecting the estimation regime, in degrees of maximum
// corner deviation from a right angle.
const (
	angularSeverityMax    = 5.0
	projectiveSeverityMin = 10.0
)

const (
	angularConfidence     = 0.85
	projectiveConfidence  = 0.75
	fallbackConfidence    = 0.40
	maxOrthogonalityError = 0.3
	minNormRatio          = 0.2
	maxNormRatio          = 5.0
)

// AspectRatioEstimator recovers the undistorted document proportions from
// a single frame's corners plus optional camera intrinsics.
type AspectRatioEstimator struct {
	log *logrus.Entry
}

func NewAspectRatioEstimator(log *logrus.Entry) *AspectRatioEstimator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AspectRatioEstimator{log: log}
}

// Estimate computes the aspect estimate for capture-frame corners.
// intrinsics may be nil. Numerical instability in the projective
// decomposition is never an error; the estimator degrades to the angular
// regime at reduced confidence.
func (e *AspectRatioEstimator) Estimate(corners quad.Quad, intrinsics *Intrinsics) AspectEstimate {
	severity := quad.MaxAngleDeviation(corners)
	angularRatio := angularEstimate(corners)

	estimate := AspectEstimate{
		Ratio:      angularRatio,
		Confidence: angularConfidence,
		Regime:     RegimeAngular,
	}
	homographyErr := -1.0

	switch {
	case severity < angularSeverityMax:
		// Angular regime as initialized.

	case intrinsics == nil:
		if severity > projectiveSeverityMin {
			estimate.Regime = RegimeFallback
			estimate.Confidence = fallbackConfidence
		} else {
			blendFrac := (severity - angularSeverityMax) /
				(projectiveSeverityMin - angularSeverityMax)
			estimate.Regime = RegimeBlended
			estimate.Confidence = angularConfidence -
				blendFrac*(angularConfidence-fallbackConfidence)
		}

	default:
		projRatio, orthErr, ok := projectiveEstimate(corners, *intrinsics)
		if !ok {
			// Decomposition rejected as unreliable; angular estimate
			// stands at the fallback confidence.
			estimate.Regime = RegimeFallback
			estimate.Confidence = fallbackConfidence
			break
		}
		homographyErr = orthErr

		if severity > projectiveSeverityMin {
			estimate.Ratio = projRatio
			estimate.Regime = RegimeProjective
			estimate.Confidence = projectiveConfidence
		} else {
			blendFrac := (severity - angularSeverityMax) /
				(projectiveSeverityMin - angularSeverityMax)
			estimate.Ratio = (1-blendFrac)*angularRatio + blendFrac*projRatio
			estimate.Regime = RegimeBlended
			estimate.Confidence = angularConfidence -
				blendFrac*(angularConfidence-projectiveConfidence)
		}
	}

	estimate.Format = SnapFormat(estimate.Ratio, homographyErr)

	e.log.WithFields(logrus.Fields{
		"ratio":      estimate.Ratio,
		"severity":   severity,
		"regime":     estimate.Regime.String(),
		"confidence": estimate.Confidence,
	}).Debug("aspect ratio estimated")
	return estimate
}

// angularEstimate corrects each observed dimension by the half-angle of
// the opposite side pair's convergence. For a quad whose top and bottom
// sides converge by angle a, the observed vertical extent is compressed by
// roughly cos(a/2).
func angularEstimate(corners quad.Quad) float64 {
	sides := quad.SideLengths(corners)
	observedWidth := (sides[0] + sides[2]) / 2  // top, bottom
	observedHeight := (sides[1] + sides[3]) / 2 // right, left
	if observedWidth == 0 || observedHeight == 0 {
		return 1
	}

	horizontalAngle := convergenceAngle(
		corners[quad.TopLeft], corners[quad.TopRight],
		corners[quad.BottomLeft], corners[quad.BottomRight])
	verticalAngle := convergenceAngle(
		corners[quad.TopLeft], corners[quad.BottomLeft],
		corners[quad.TopRight], corners[quad.BottomRight])

	trueHeight := observedHeight / math.Cos(horizontalAngle/2)
	trueWidth := observedWidth / math.Cos(verticalAngle/2)
	return trueWidth / trueHeight
}

// convergenceAngle returns the angle in radians between the directions of
// two sides given by their endpoints.
func convergenceAngle(a1, a2, b1, b2 quad.Point) float64 {
	u1x, u1y := a2.X-a1.X, a2.Y-a1.Y
	u2x, u2y := b2.X-b1.X, b2.Y-b1.Y

	n1 := math.Hypot(u1x, u1y)
	n2 := math.Hypot(u2x, u2y)
	if n1 == 0 || n2 == 0 {
		return 0
	}

	cos := (u1x*u2x + u1y*u2y) / (n1 * n2)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// projectiveEstimate maps a unit square onto the corners, removes the
// intrinsics and reads the aspect ratio off the rotation column norms of
// [r1 r2 t]. Returns ok=false when the decomposition is numerically
// unreliable: norm ratio outside sane bounds or rotation columns far from
// orthogonal.
func projectiveEstimate(corners quad.Quad, k Intrinsics) (ratio, orthErr float64, ok bool) {
	h, solved := homographyFromUnitSquare(corners)
	if !solved {
		return 0, 0, false
	}

	if k.Fx == 0 || k.Fy == 0 {
		return 0, 0, false
	}
	kInv := mat.NewDense(3, 3, []float64{
		1 / k.Fx, 0, -k.Cx / k.Fx,
		0, 1 / k.Fy, -k.Cy / k.Fy,
		0, 0, 1,
	})

	var a mat.Dense
	a.Mul(kInv, h)

	r1 := mat.NewVecDense(3, []float64{a.At(0, 0), a.At(1, 0), a.At(2, 0)})
	r2 := mat.NewVecDense(3, []float64{a.At(0, 1), a.At(1, 1), a.At(2, 1)})

	n1 := mat.Norm(r1, 2)
	n2 := mat.Norm(r2, 2)
	if n1 == 0 || n2 == 0 {
		return 0, 0, false
	}

	ratio = n1 / n2
	if ratio < minNormRatio || ratio > maxNormRatio {
		return 0, 0, false
	}

	orthErr = math.Abs(mat.Dot(r1, r2)) / (n1 * n2)
	if orthErr > maxOrthogonalityError {
		return 0, 0, false
	}
	return ratio, orthErr, true
}

// homographyFromUnitSquare solves the 8x8 linear system mapping
// (0,0),(1,0),(1,1),(0,1) to the TL,TR,BR,BL corners, with h33 fixed at 1.
func homographyFromUnitSquare(corners quad.Quad) (*mat.Dense, bool) {
	src := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		u, v := src[i][0], src[i][1]
		x, y := corners[i].X, corners[i].Y

		a.SetRow(2*i, []float64{u, v, 1, 0, 0, 0, -u * x, -v * x})
		b.SetVec(2*i, x)
		a.SetRow(2*i+1, []float64{0, 0, 0, u, v, 1, -u * y, -v * y})
		b.SetVec(2*i+1, y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, false
	}

	return mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	}), true
}
