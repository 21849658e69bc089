package detection

import (
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Scene classification gates. Bright, low-variance frames are treated as
// "white-on-white": a white page on a light surface with almost no
// boundary gradient, needing the specialized strategy list.
const (
	whiteOnWhiteMeanMin   = 180.0
	whiteOnWhiteStddevMax = 35.0
)

// StrategyBudget bounds the whole strategy loop for one frame. The
// fallback cascade runs outside it because it only fires on an already
// failed fast path.
const StrategyBudget = 25 * time.Millisecond

// standardStrategies is the default ordered list for normal-contrast scenes.
var standardStrategies = []Strategy{
	StrategyStandard,
	StrategyCLAHE,
	StrategySaturation,
	StrategyBilateral,
	StrategyHeavyMorph,
}

// whiteOnWhiteStrategies is the ordered list for bright, low-contrast scenes.
var whiteOnWhiteStrategies = []Strategy{
	StrategyDoG,
	StrategyGradientMagnitude,
	StrategyLabCLAHE,
	StrategyCLAHE,
	StrategyMultichannelFusion,
	StrategyAdaptiveThreshold,
}

// Selector classifies the scene, orders the candidate preprocessing
// strategies and runs the detection loop, short-circuiting on the first
// strategy that yields an acceptable detection.
type Selector struct {
	detector *QuadDetector
	fallback *LsdRadonDetector
	log      *logrus.Entry

	budget time.Duration
	accept float64
}

func NewSelector(log *logrus.Entry) *Selector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Selector{
		detector: NewQuadDetector(log),
		fallback: NewLsdRadonDetector(log),
		log:      log,
		budget:   StrategyBudget,
		accept:   AcceptConfidence,
	}
}

// SceneStats holds the brightness statistics driving strategy selection.
type SceneStats struct {
	Mean   float64
	Stddev float64
}

// WhiteOnWhite reports whether the scene is bright with low contrast.
func (s SceneStats) WhiteOnWhite() bool {
	return s.Mean > whiteOnWhiteMeanMin && s.Stddev < whiteOnWhiteStddevMax
}

// MeasureScene computes mean/stddev intensity of a grayscale frame.
func MeasureScene(gray gocv.Mat) SceneStats {
	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()

	gocv.MeanStdDev(gray, &mean, &stddev)
	return SceneStats{
		Mean:   mean.GetDoubleAt(0, 0),
		Stddev: stddev.GetDoubleAt(0, 0),
	}
}

// StrategiesFor returns the ordered candidate list for the scene.
func StrategiesFor(stats SceneStats) []Strategy {
	if stats.WhiteOnWhite() {
		return whiteOnWhiteStrategies
	}
	return standardStrategies
}

// Detect runs the full detection pass on one frame: scene classification,
// the budgeted strategy loop and, for white-on-white scenes that exhaust
// every strategy, the LSD/Radon fallback cascade. color may be an empty
// Mat; strategies that need it are skipped. Returns nil when nothing in
// the frame resembles a document.
func (s *Selector) Detect(gray, color gocv.Mat) *Result {
	start := time.Now()
	deadline := start.Add(s.budget)

	width := gray.Cols()
	height := gray.Rows()

	stats := MeasureScene(gray)
	strategies := StrategiesFor(stats)

	var best *Result
	for _, strategy := range strategies {
		if time.Now().After(deadline) {
			s.log.WithField("strategy", strategy.String()).Debug("strategy budget exhausted")
			break
		}

		result := s.runStrategy(strategy, gray, color, width, height)
		if result == nil {
			continue
		}
		result.Elapsed = time.Since(start)

		if best == nil || result.Confidence > best.Confidence {
			best = result
		}
		if result.Confidence >= s.accept {
			s.log.WithFields(logrus.Fields{
				"strategy":   strategy.String(),
				"confidence": result.Confidence,
				"elapsed":    result.Elapsed,
			}).Debug("detection accepted")
			return result
		}
	}

	if stats.WhiteOnWhite() && (best == nil || best.Confidence < s.accept) {
		if fb := s.fallback.Detect(gray); fb != nil {
			fb.Elapsed = time.Since(start)
			if best == nil || fb.Confidence > best.Confidence {
				best = fb
			}
		}
	}

	return best
}

// runStrategy applies one preprocessing strategy and detects on its output.
// Any stage failure is local: the caller just advances to the next strategy.
func (s *Selector) runStrategy(strategy Strategy, gray, color gocv.Mat, width, height int) *Result {
	processed, err := strategy.Apply(gray, color)
	if err != nil {
		if err != errNeedsColor {
			s.log.WithField("strategy", strategy.String()).WithError(err).Debug("strategy failed")
		}
		return nil
	}
	defer processed.Close()

	binary := processed
	if !strategy.BinaryOutput() {
		edges := detectEdges(processed)
		defer edges.Close()
		binary = edges
	}

	q, confidence := s.detector.Detect(binary, width, height)
	if q == nil {
		return nil
	}
	return &Result{
		Quad:       q,
		Confidence: confidence,
		Strategy:   strategy,
	}
}

// detectEdges runs Canny with thresholds adapted to the image intensity
// median (0.67x and 1.33x, clamped), then dilates to connect broken edge
// segments before contour extraction.
func detectEdges(gray gocv.Mat) gocv.Mat {
	median := intensityMedian(gray)

	low := 0.67 * median
	high := 1.33 * median
	if low < 10 {
		low = 10
	}
	if high < 50 {
		high = 50
	}
	if high > 250 {
		high = 250
	}
	if low >= high {
		low = high / 2
	}

	edges := gocv.NewMat()
	gocv.Canny(gray, &edges, float32(low), float32(high))

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)

	return edges
}

func intensityMedian(gray gocv.Mat) float64 {
	data := gray.ToBytes()

	var histogram [256]int
	for _, v := range data {
		histogram[v]++
	}
	return float64(histogramPercentile(histogram[:], len(data), 0.5))
}
