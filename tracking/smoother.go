package tracking

import (
	"docshot/quad"
)

const (
	// smoothHistorySize is how many raw detections feed the blend target.
	smoothHistorySize = 5

	// maxStability is the stability counter ceiling; the fraction of it
	// drives UI gating.
	maxStability = 20

	// Drift tiers, as a fraction of the smoothed quad's diagonal.
	normalDriftFraction = 0.025
	resetDriftFraction  = 0.10

	// blendWeight is the standard adoption rate toward the history mean;
	// halved in the moderate drift band to resist jitter.
	blendWeight = 0.3
)

// Stability fractions at which UI behaviors unlock.
const (
	FocusLockFraction   = 0.5
	AutoCaptureFraction = 1.0
)

// SmoothedQuad is the temporally stabilized output for one frame.
type SmoothedQuad struct {
	Quad              quad.Quad
	Stability         int
	StabilityFraction float64
}

// QuadSmoother stabilizes the displayed quadrilateral across frames with a
// tiered exponential blend: small drift blends normally, moderate drift
// blends at half weight, and a large jump replaces the quad outright as a
// scene change. Not thread-safe; driven by the frame-processing worker.
type QuadSmoother struct {
	history   []quad.Quad
	smoothed  *quad.Quad
	stability int
}

func NewQuadSmoother() *QuadSmoother {
	return &QuadSmoother{
		history: make([]quad.Quad, 0, smoothHistorySize),
	}
}

// Update folds one raw detection into the smoothed estimate.
func (s *QuadSmoother) Update(raw quad.Quad) SmoothedQuad {
	if s.smoothed == nil {
		s.history = append(s.history[:0], raw)
		first := raw
		s.smoothed = &first
		s.stability = 1
		return s.snapshot()
	}

	// Jump check before any blending: a large jump means the scene
	// changed and smoothing toward it would just lag.
	driftFrac := quad.AverageCornerDistance(raw, *s.smoothed) / quad.Diagonal(*s.smoothed)
	if driftFrac > resetDriftFraction {
		s.history = append(s.history[:0], raw)
		replaced := raw
		s.smoothed = &replaced
		s.stability = 0
		return s.snapshot()
	}

	s.push(raw)

	weight := blendWeight
	if driftFrac >= normalDriftFraction {
		weight /= 2
	}

	target := meanQuad(s.history)
	blended := blend(*s.smoothed, target, weight)
	s.smoothed = &blended

	if s.stability < maxStability {
		s.stability++
	}
	return s.snapshot()
}

// Reset clears all smoothing state.
func (s *QuadSmoother) Reset() {
	s.history = s.history[:0]
	s.smoothed = nil
	s.stability = 0
}

// StabilityFraction returns the current stability in [0,1].
func (s *QuadSmoother) StabilityFraction() float64 {
	return float64(s.stability) / maxStability
}

func (s *QuadSmoother) snapshot() SmoothedQuad {
	return SmoothedQuad{
		Quad:              *s.smoothed,
		Stability:         s.stability,
		StabilityFraction: s.StabilityFraction(),
	}
}

func (s *QuadSmoother) push(q quad.Quad) {
	if len(s.history) == smoothHistorySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:smoothHistorySize-1]
	}
	s.history = append(s.history, q)
}

func meanQuad(quads []quad.Quad) quad.Quad {
	var out quad.Quad
	n := float64(len(quads))
	for _, q := range quads {
		for i := 0; i < 4; i++ {
			out[i].X += q[i].X / n
			out[i].Y += q[i].Y / n
		}
	}
	return out
}

func blend(from, to quad.Quad, weight float64) quad.Quad {
	var out quad.Quad
	for i := 0; i < 4; i++ {
		out[i].X = from[i].X*(1-weight) + to[i].X*weight
		out[i].Y = from[i].Y*(1-weight) + to[i].Y*weight
	}
	return out
}
