package tracking

import (
	"errors"

	"gocv.io/x/gocv"

	"docshot/quad"
)

// FlowEngine propagates sparse points from one grayscale frame to the
// next. It is pluggable so the tracker's state machine can be exercised
// without an optical-flow backend.
type FlowEngine interface {
	// Track returns the propagated points and a per-point validity flag.
	// An error means the flow computation itself was unusable.
	Track(prev, next gocv.Mat, pts []quad.Point) ([]quad.Point, []bool, error)
}

// pyrLKFlow implements FlowEngine with pyramidal Lucas-Kanade flow.
// Points whose tracking residual exceeds maxError are flagged invalid;
// a featureless frame produces large residuals on every point.
type pyrLKFlow struct {
	maxError float32
}

func newPyrLKFlow() *pyrLKFlow {
	return &pyrLKFlow{maxError: 30.0}
}

var errNoPoints = errors.New("optical flow: no input points")

func (f *pyrLKFlow) Track(prev, next gocv.Mat, pts []quad.Point) ([]quad.Point, []bool, error) {
	if len(pts) == 0 {
		return nil, nil, errNoPoints
	}

	prevPts := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	defer prevPts.Close()
	for i, p := range pts {
		prevPts.SetFloatAt(i, 0, float32(p.X))
		prevPts.SetFloatAt(i, 1, float32(p.Y))
	}

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	flowErr := gocv.NewMat()
	defer flowErr.Close()

	gocv.CalcOpticalFlowPyrLK(prev, next, prevPts, &nextPts, &status, &flowErr)

	if nextPts.Rows() < len(pts) {
		return nil, nil, errors.New("optical flow: truncated output")
	}

	out := make([]quad.Point, len(pts))
	valid := make([]bool, len(pts))
	for i := range pts {
		out[i] = quad.Point{
			X: float64(nextPts.GetFloatAt(i, 0)),
			Y: float64(nextPts.GetFloatAt(i, 1)),
		}
		valid[i] = status.GetUCharAt(i, 0) == 1 &&
			flowErr.GetFloatAt(i, 0) <= f.maxError
	}
	return out, valid, nil
}
