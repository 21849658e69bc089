package detection

import (
	"time"

	"docshot/quad"
)

// Result is the outcome of one detection pass. A nil Quad means "no
// detection", which is a valid outcome distinct from a low-confidence
// detection; downstream routing treats the two differently.
type Result struct {
	Quad       *quad.Quad
	Confidence float64
	Strategy   Strategy
	Elapsed    time.Duration
}

// Confidence routing thresholds consumed by the UI layer.
const (
	// SuppressConfidence is the floor below which a detection is treated
	// as no detection.
	SuppressConfidence = 0.35
	// AcceptConfidence is the auto-capture band; the strategy loop
	// short-circuits at the first detection at or above it.
	AcceptConfidence = 0.65
)
