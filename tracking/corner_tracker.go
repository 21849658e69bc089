package tracking

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"docshot/quad"
)

const (
	// EntryConfidence is the minimum detection confidence that starts a
	// tracking session; it matches the auto-capture band upstream.
	EntryConfidence = 0.65

	// correctionInterval makes every Nth tracked frame a correction frame
	// on which a fresh full detection is solicited.
	correctionInterval = 3

	// maxCorrectionDrift is the average per-corner distance (pixels)
	// between the tracked estimate and a correction-frame detection above
	// which the scene is assumed to have changed discontinuously.
	maxCorrectionDrift = 8.0

	// flow viability: all four corner points must track, and at least
	// this many of the support points overall.
	minValidPoints = 6
)

// CornerTracker alternates cheap optical-flow propagation of previously
// detected corners with periodic full re-detection. It is not thread-safe;
// exactly one caller drives ProcessFrame sequentially.
type CornerTracker struct {
	state State
	flow  FlowEngine
	log   *logrus.Entry

	prevGray   gocv.Mat
	hasFrame   bool
	corners    quad.Quad
	seedWidth  int
	seedHeight int
	frameCount int
}

func NewCornerTracker(log *logrus.Entry) *CornerTracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CornerTracker{
		state: StateDetectOnly,
		flow:  newPyrLKFlow(),
		log:   log,
	}
}

// State returns the current tracking state.
func (t *CornerTracker) State() State {
	return t.state
}

// NeedsCorrectionDetection reports whether the next ProcessFrame call will
// be a correction frame, so the caller knows to supply a fresh detection.
func (t *CornerTracker) NeedsCorrectionDetection() bool {
	return t.state == StateTracking && (t.frameCount+1)%correctionInterval == 0
}

// ProcessFrame advances the state machine by one frame. gray is borrowed
// for the duration of the call; the tracker clones what it keeps. detected
// may be nil. The result is always well-formed: flow failure, frame-size
// mismatch and excessive correction drift are recoverable resets, never
// errors.
func (t *CornerTracker) ProcessFrame(gray gocv.Mat, detected *quad.Quad, confidence float64) TrackerResult {
	if t.state == StateTracking &&
		(gray.Cols() != t.seedWidth || gray.Rows() != t.seedHeight) {
		t.log.WithFields(logrus.Fields{
			"seed":  fmt.Sprintf("%dx%d", t.seedWidth, t.seedHeight),
			"frame": fmt.Sprintf("%dx%d", gray.Cols(), gray.Rows()),
		}).Debug("frame size changed, resetting tracker")
		t.Reset()
	}

	if t.state == StateTracking {
		return t.trackFrame(gray, detected, confidence)
	}
	return t.detectOnlyFrame(gray, detected, confidence)
}

func (t *CornerTracker) trackFrame(gray gocv.Mat, detected *quad.Quad, confidence float64) TrackerResult {
	t.frameCount++
	correction := t.frameCount%correctionInterval == 0

	tracked, ok := t.propagate(gray)
	if !ok {
		t.log.Debug("optical flow unusable, resetting tracker")
		t.Reset()
		// A confident detection supplied on this frame may immediately
		// re-seed a fresh session.
		return t.detectOnlyFrame(gray, detected, confidence)
	}

	if correction && detected != nil {
		drift := quad.AverageCornerDistance(*tracked, *detected)
		if drift > maxCorrectionDrift {
			t.log.WithField("drift", drift).Debug("correction drift too large, resetting tracker")
			t.Reset()
			return TrackerResult{State: StateDetectOnly}
		}
		// Fresh detection becomes ground truth; accumulated drift is gone.
		t.adopt(gray, *detected)
		return TrackerResult{State: StateTracking, Quad: detected, IsTracked: false}
	}

	t.adopt(gray, *tracked)
	result := *tracked
	return TrackerResult{State: StateTracking, Quad: &result, IsTracked: true}
}

func (t *CornerTracker) detectOnlyFrame(gray gocv.Mat, detected *quad.Quad, confidence float64) TrackerResult {
	if detected == nil || confidence < EntryConfidence {
		// Pass through whatever was given, unchanged.
		return TrackerResult{State: StateDetectOnly, Quad: detected}
	}

	t.seed(gray, *detected)
	return TrackerResult{State: StateTracking, Quad: detected, IsTracked: false}
}

// propagate runs sparse optical flow on the four corners plus the four
// side midpoints as support points. Returns false when too few points
// track, a corner point is lost, or the resulting quad is degenerate.
func (t *CornerTracker) propagate(gray gocv.Mat) (*quad.Quad, bool) {
	pts := make([]quad.Point, 0, 8)
	for i := 0; i < 4; i++ {
		pts = append(pts, t.corners[i])
	}
	for i := 0; i < 4; i++ {
		a := t.corners[i]
		b := t.corners[(i+1)%4]
		pts = append(pts, quad.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2})
	}

	out, valid, err := t.flow.Track(t.prevGray, gray, pts)
	if err != nil {
		return nil, false
	}

	validCount := 0
	for i, v := range valid {
		if !v {
			if i < 4 {
				return nil, false // a corner point was lost
			}
			continue
		}
		validCount++
	}
	if validCount < minValidPoints {
		return nil, false
	}

	q := quad.Quad{out[0], out[1], out[2], out[3]}
	if !quad.IsConvex(q) {
		return nil, false
	}
	return &q, true
}

// seed starts a tracking session from a fresh confident detection.
func (t *CornerTracker) seed(gray gocv.Mat, corners quad.Quad) {
	t.releaseFrame()
	t.prevGray = gray.Clone()
	t.hasFrame = true
	t.corners = corners
	t.seedWidth = gray.Cols()
	t.seedHeight = gray.Rows()
	t.frameCount = 0
	t.state = StateTracking
	t.log.Debug("tracking session started")
}

// adopt stores the accepted corners and the current frame for the next
// flow step.
func (t *CornerTracker) adopt(gray gocv.Mat, corners quad.Quad) {
	t.releaseFrame()
	t.prevGray = gray.Clone()
	t.hasFrame = true
	t.corners = corners
}

// Reset unconditionally clears all tracking state and returns the tracker
// to detect-only mode.
func (t *CornerTracker) Reset() {
	t.releaseFrame()
	t.state = StateDetectOnly
	t.frameCount = 0
	t.corners = quad.Quad{}
	t.seedWidth = 0
	t.seedHeight = 0
}

func (t *CornerTracker) releaseFrame() {
	if t.hasFrame {
		t.prevGray.Close()
		t.hasFrame = false
	}
}
