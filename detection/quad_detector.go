package detection

import (
	"math"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"docshot/quad"
)

// QuadDetector extracts the best-scoring convex document quadrilateral
// from a binary edge/contour-ready image.
type QuadDetector struct {
	log *logrus.Entry
}

func NewQuadDetector(log *logrus.Entry) *QuadDetector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &QuadDetector{log: log}
}

const (
	// minAreaFraction rejects contours smaller than this fraction of the
	// frame area before polygon approximation.
	minAreaFraction = 0.10
	// maxAreaFraction rejects contours that latch onto the frame itself.
	maxAreaFraction = 0.98
)

// Detect returns the best convex quadrilateral in the binary image, or
// (nil, 0) when no candidate survives filtering. A nil result is a valid
// outcome, not an error.
func (d *QuadDetector) Detect(binary gocv.Mat, width, height int) (*quad.Quad, float64) {
	imgArea := float64(width * height)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	edgeData := binary.ToBytes()

	var best *quad.Quad
	bestScore := 0.0

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)

		area := gocv.ContourArea(contour)
		if area < imgArea*minAreaFraction || area > imgArea*maxAreaFraction {
			continue
		}

		arcLen := gocv.ArcLength(contour, true)

		// Sweep the approximation tolerance; noisy boundaries often need
		// a coarser epsilon before collapsing to 4 vertices.
		for _, epsFrac := range []float64{0.02, 0.03, 0.04, 0.05} {
			approx := gocv.ApproxPolyDP(contour, epsFrac*arcLen, true)
			if approx.Size() != 4 {
				approx.Close()
				continue
			}

			pts := make([]quad.Point, 4)
			for j := 0; j < 4; j++ {
				p := approx.At(j)
				pts[j] = quad.Point{X: float64(p.X), Y: float64(p.Y)}
			}
			approx.Close()

			q, ok := quad.Order(pts)
			if !ok || !quad.IsConvex(q) {
				continue
			}

			score := d.scoreQuad(q, edgeData, width, height)
			if score > bestScore {
				bestScore = score
				candidate := q
				best = &candidate
			}
			break
		}
	}

	if best != nil {
		d.log.WithFields(logrus.Fields{
			"confidence": bestScore,
			"area":       quad.Area(*best),
		}).Debug("quad candidate selected")
	}
	return best, bestScore
}

// scoreQuad combines shape quality and edge support, then applies a margin
// penalty for quads touching the frame border so the detector does not
// latch onto the frame itself.
func (d *QuadDetector) scoreQuad(q quad.Quad, edgeData []byte, width, height int) float64 {
	imgArea := float64(width * height)

	score := 0.6*quadShapeScore(q, imgArea) + 0.4*edgeDensity(q, edgeData, width, height)
	score *= marginFactor(q, width, height)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// quadShapeScore rewards area coverage, corner angles near 90 degrees and
// regular opposite-side length ratios.
func quadShapeScore(q quad.Quad, imgArea float64) float64 {
	areaScore := quad.Area(q) / (imgArea * 0.6)
	if areaScore > 1 {
		areaScore = 1
	}

	angleScore := 1 - quad.MaxAngleDeviation(q)/45
	if angleScore < 0 {
		angleScore = 0
	}

	sides := quad.SideLengths(q)
	horizRatio := sideRatio(sides[0], sides[2])
	vertRatio := sideRatio(sides[1], sides[3])
	sideScore := (horizRatio + vertRatio) / 2

	return 0.40*areaScore + 0.35*angleScore + 0.25*sideScore
}

func sideRatio(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return a / b
}

// edgeDensity measures the fraction of perimeter sample points that are
// supported by an actual edge pixel within a small perpendicular window.
func edgeDensity(q quad.Quad, edgeData []byte, width, height int) float64 {
	const samplesPerSide = 16
	const window = 2

	supported := 0
	total := 0
	for side := 0; side < 4; side++ {
		a := q[side]
		b := q[(side+1)%4]

		// Unit normal to the side.
		dx := b.X - a.X
		dy := b.Y - a.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx := -dy / length
		ny := dx / length

		for s := 0; s < samplesPerSide; s++ {
			t := (float64(s) + 0.5) / samplesPerSide
			px := a.X + dx*t
			py := a.Y + dy*t

			total++
			for off := -window; off <= window; off++ {
				x := int(math.Round(px + nx*float64(off)))
				y := int(math.Round(py + ny*float64(off)))
				if x < 0 || x >= width || y < 0 || y >= height {
					continue
				}
				if edgeData[y*width+x] > 0 {
					supported++
					break
				}
			}
		}
	}

	if total == 0 {
		return 0
	}
	return float64(supported) / float64(total)
}

// marginFactor penalizes corners sitting on the frame border. A document
// fully inside the frame keeps factor 1.0; each border-touching corner
// costs 20%, floored so borderline detections are demoted, not erased.
func marginFactor(q quad.Quad, width, height int) float64 {
	margin := 0.02 * math.Min(float64(width), float64(height))
	if margin < 4 {
		margin = 4
	}

	touching := 0
	for _, p := range q {
		if p.X < margin || p.X > float64(width)-margin ||
			p.Y < margin || p.Y > float64(height)-margin {
			touching++
		}
	}

	factor := 1 - 0.2*float64(touching)
	if factor < 0.4 {
		factor = 0.4
	}
	return factor
}
