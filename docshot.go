package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"docshot/capture"
	"docshot/detection"
	"docshot/pkg/framesource"
	"docshot/quad"
	"docshot/tracking"
)

const (
	// defaultInsetFraction places the manual-adjustment corners when no
	// detection is available.
	defaultInsetFraction = 0.10

	// maxPreviewWidth caps the analysis resolution. Detection cost grows
	// quadratically with width; the capture path re-detects at full
	// resolution so no accuracy is lost.
	maxPreviewWidth = 1280

	// captureCooldown prevents a stable scene from auto-capturing in a burst.
	captureCooldown = 2 * time.Second

	perfReportInterval = 15 * time.Second
)

var (
	inputSource = flag.String("input", "", "Camera device ID or video file path (required)\n\t\tExample: -input=0 or -input=/path/to/clip.mp4")
	debugMode   = flag.Bool("debug", false, "Enable debug logging with per-frame detection details")
	captureDir  = flag.String("capture-dir", "", "Directory for auto-captured stills; empty disables saving")

	// Camera intrinsics (0 = unavailable; aspect estimation falls back to
	// the angular regime at reduced confidence).
	focalX         = flag.Float64("fx", 0, "Focal length X in capture-frame pixels")
	focalY         = flag.Float64("fy", 0, "Focal length Y in capture-frame pixels")
	principalX     = flag.Float64("cx", 0, "Principal point X in capture-frame pixels")
	principalY     = flag.Float64("cy", 0, "Principal point Y in capture-frame pixels")
	sensorRotation = flag.Int("sensor-rotation", 0, "Sensor-to-frame rotation in degrees (0/90/180/270)")
)

// routing is the confidence-to-UI contract applied to each frame's result.
type routing string

const (
	routeManualPlacement routing = "manual_placement" // no corners; 10%-inset defaults
	routeSuppressed      routing = "suppressed"       // below 0.35; treat as no detection
	routeManualAdjust    routing = "manual_adjust"    // 0.35-0.65; corners pre-filled
	routeAutoCapture     routing = "auto_capture"     // 0.65 and up
)

func routeFor(q *quad.Quad, confidence float64) routing {
	switch {
	case q == nil:
		return routeManualPlacement
	case confidence < detection.SuppressConfidence:
		return routeSuppressed
	case confidence < detection.AcceptConfidence:
		return routeManualAdjust
	default:
		return routeAutoCapture
	}
}

// pipeline owns the per-frame worker state. All detection and tracking for
// preview frames runs on one goroutine; the capture path runs off it on
// independent state.
type pipeline struct {
	selector *detection.Selector
	tracker  *tracking.CornerTracker
	smoother *tracking.QuadSmoother
	capturer *capture.CaptureProcessor
	log      *logrus.Entry

	intrinsics *capture.Intrinsics

	lastCapture    time.Time
	lastConfidence float64
	framesSeen     int64
	framesDetected int64
	lastReport     time.Time
}

func newPipeline(log *logrus.Entry, intrinsics *capture.Intrinsics) *pipeline {
	return &pipeline{
		selector:   detection.NewSelector(log),
		tracker:    tracking.NewCornerTracker(log),
		smoother:   tracking.NewQuadSmoother(),
		capturer:   capture.NewCaptureProcessor(log),
		log:        log,
		intrinsics: intrinsics,
		lastReport: time.Now(),
	}
}

// processFrame runs one full detect/track/smooth cycle. The frame is
// borrowed; the pipeline clones anything it keeps. Analysis runs at
// preview resolution; the capture path gets the full frame.
func (p *pipeline) processFrame(frame *framesource.Frame) {
	p.framesSeen++

	scale := previewScale(frame.Width)
	gray := frame.Gray
	color := frame.Color
	if scale < 1 {
		previewGray := gocv.NewMat()
		defer previewGray.Close()
		gocv.Resize(frame.Gray, &previewGray, image.Point{}, scale, scale, gocv.InterpolationArea)
		gray = previewGray

		if frame.HasColor() {
			previewColor := gocv.NewMat()
			defer previewColor.Close()
			gocv.Resize(frame.Color, &previewColor, image.Point{}, scale, scale, gocv.InterpolationArea)
			color = previewColor
		}
	}

	// Full detection only when the tracker cannot propagate cheaply or is
	// soliciting a correction-frame detection.
	var detected *quad.Quad
	confidence := 0.0
	if p.tracker.State() == tracking.StateDetectOnly || p.tracker.NeedsCorrectionDetection() {
		if result := p.selector.Detect(gray, color); result != nil {
			detected = result.Quad
			confidence = result.Confidence
			p.framesDetected++
		}
	}

	result := p.tracker.ProcessFrame(gray, detected, confidence)
	if !result.IsTracked && result.Quad != nil {
		p.lastConfidence = confidence
	}

	if result.Quad == nil {
		p.smoother.Reset()
		defaults := quad.Inset(float64(gray.Cols()), float64(gray.Rows()), defaultInsetFraction)
		p.log.WithFields(logrus.Fields{
			"route":    string(routeFor(nil, 0)),
			"state":    result.State.String(),
			"defaults": quad.Center(defaults),
		}).Debug("frame processed without corners")
		p.maybeReport()
		return
	}

	smoothed := p.smoother.Update(*result.Quad)
	route := routeFor(result.Quad, p.lastConfidence)

	p.log.WithFields(logrus.Fields{
		"route":      string(route),
		"state":      result.State.String(),
		"tracked":    result.IsTracked,
		"confidence": p.lastConfidence,
		"stability":  smoothed.StabilityFraction,
	}).Debug("frame processed")

	if route == routeAutoCapture &&
		smoothed.StabilityFraction >= tracking.AutoCaptureFraction &&
		time.Since(p.lastCapture) > captureCooldown {
		p.lastCapture = time.Now()
		p.runCapture(frame, quad.Scale(smoothed.Quad, 1/scale, 1/scale))
	}
	p.maybeReport()
}

// previewScale returns the analysis downscale factor for a frame width,
// 1.0 when the frame is already small enough.
func previewScale(width int) float64 {
	if width <= maxPreviewWidth {
		return 1
	}
	return float64(maxPreviewWidth) / float64(width)
}

// runCapture clones the frame and hands it to the capture path. The clone
// makes the overlap with the next preview frame safe; the capture path
// never touches tracker or smoother state. preview is the tracked quad in
// full-resolution coordinates, backing up a failed re-detection.
func (p *pipeline) runCapture(frame *framesource.Frame, preview quad.Quad) {
	gray := frame.Gray.Clone()
	color := frame.Color.Clone()
	seq := frame.Sequence

	go func() {
		defer gray.Close()
		defer color.Close()

		_, estimate := p.capturer.Process(gray, color, p.intrinsics, &preview)
		if estimate == nil {
			p.log.WithField("sequence", seq).Warn("capture produced no usable detection")
			return
		}

		fields := logrus.Fields{
			"sequence":   seq,
			"ratio":      estimate.Ratio,
			"regime":     estimate.Regime.String(),
			"confidence": estimate.Confidence,
		}
		if estimate.Format != nil {
			fields["format"] = estimate.Format.Format.Name
			fields["format_confidence"] = estimate.Format.Confidence
		}
		p.log.WithFields(fields).Info("document captured")

		if *captureDir != "" {
			path := filepath.Join(*captureDir, fmt.Sprintf("capture-%06d.jpg", seq))
			if ok := gocv.IMWrite(path, color); !ok {
				p.log.WithField("path", path).Warn("failed to write capture")
			}
		}
	}()
}

func (p *pipeline) maybeReport() {
	if time.Since(p.lastReport) < perfReportInterval {
		return
	}
	p.log.WithFields(logrus.Fields{
		"frames":     p.framesSeen,
		"detections": p.framesDetected,
		"state":      p.tracker.State().String(),
	}).Info("pipeline report")
	p.lastReport = time.Now()
}

func intrinsicsFromFlags() *capture.Intrinsics {
	if *focalX == 0 || *focalY == 0 {
		return nil
	}
	k := capture.Intrinsics{Fx: *focalX, Fy: *focalY, Cx: *principalX, Cy: *principalY}
	k = k.Rotated(*sensorRotation)
	return &k
}

func main() {
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "docshot")

	if *inputSource == "" {
		fmt.Fprintln(os.Stderr, "error: -input is required")
		flag.Usage()
		os.Exit(1)
	}
	if *captureDir != "" {
		if err := os.MkdirAll(*captureDir, 0o755); err != nil {
			log.WithError(err).Fatal("cannot create capture directory")
		}
	}

	mailbox := framesource.NewMailbox()
	source, err := framesource.OpenCapture(*inputSource, mailbox, log)
	if err != nil {
		log.WithError(err).Fatal("cannot open input")
	}
	defer source.Close()

	go source.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		source.Stop()
	}()

	p := newPipeline(log, intrinsicsFromFlags())
	for {
		frame, ok := mailbox.TakeLatest()
		if !ok {
			break
		}
		p.processFrame(frame)
		frame.Close()
	}

	log.WithFields(logrus.Fields{
		"frames":  p.framesSeen,
		"dropped": mailbox.Dropped(),
	}).Info("pipeline stopped")
}
