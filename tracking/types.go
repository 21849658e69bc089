package tracking

import (
	"docshot/quad"
)

// State is the corner tracker's operating mode.
type State int

const (
	// StateDetectOnly runs full detection every frame until a confident
	// detection seeds a tracking session.
	StateDetectOnly State = iota
	// StateTracking propagates corners with sparse optical flow, with a
	// periodic full re-detection to correct accumulated drift.
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateDetectOnly:
		return "detect_only"
	case StateTracking:
		return "tracking"
	}
	return "unknown"
}

// TrackerResult is the per-frame output of the corner tracker. Quad is nil
// when no corners are available this frame. IsTracked is true iff the
// corners came from optical-flow propagation rather than a fresh detection.
type TrackerResult struct {
	State     State
	Quad      *quad.Quad
	IsTracked bool
}
