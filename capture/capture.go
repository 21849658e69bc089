package capture

import (
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"docshot/detection"
	"docshot/quad"
)

// CaptureProcessor is the capture-time path: a full-resolution
// re-detection followed by aspect-ratio estimation. It holds no reference
// to the continuous per-frame pipeline's state, so it may overlap with the
// next preview frame's detection.
type CaptureProcessor struct {
	selector  *detection.Selector
	estimator *AspectRatioEstimator
	log       *logrus.Entry
}

func NewCaptureProcessor(log *logrus.Entry) *CaptureProcessor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CaptureProcessor{
		selector:  detection.NewSelector(log),
		estimator: NewAspectRatioEstimator(log),
		log:       log,
	}
}

// Process re-detects the document on the full-resolution capture frame and
// estimates its true aspect ratio. color may be empty; intrinsics may be
// nil. preview, when non-nil, is the tracked quad already mapped into
// capture-frame coordinates; it backs up a failed re-detection. The aspect
// estimate is nil when neither source yields corners.
func (p *CaptureProcessor) Process(gray, color gocv.Mat, intrinsics *Intrinsics, preview *quad.Quad) (*detection.Result, *AspectEstimate) {
	result := p.selector.Detect(gray, color)

	corners, source := captureCorners(result, preview)
	if corners == nil {
		p.log.Debug("capture found no usable document")
		return result, nil
	}

	estimate := p.estimator.Estimate(*corners, intrinsics)
	p.log.WithFields(logrus.Fields{
		"source": source,
		"ratio":  estimate.Ratio,
	}).Info("capture processed")
	return result, &estimate
}

// captureCorners prefers the full-resolution re-detection and falls back
// to the preview corners the continuous pipeline was tracking.
func captureCorners(result *detection.Result, preview *quad.Quad) (*quad.Quad, string) {
	if result != nil && result.Quad != nil && result.Confidence >= detection.SuppressConfidence {
		return result.Quad, result.Strategy.String()
	}
	return preview, "preview"
}
