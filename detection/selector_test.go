package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"docshot/quad"
)

var darkGray = color.RGBA{R: 60, G: 60, B: 60}

// documentScene returns a grayscale frame with a dark document on a light
// background, the easy case every strategy should handle.
func documentScene() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(230, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&img, image.Rect(80, 60, 320, 240), darkGray, -1)
	return img
}

func TestSceneStatsWhiteOnWhite(t *testing.T) {
	tests := []struct {
		name  string
		stats SceneStats
		want  bool
	}{
		{"bright flat", SceneStats{Mean: 210, Stddev: 20}, true},
		{"bright but contrasty", SceneStats{Mean: 210, Stddev: 60}, false},
		{"flat but dark", SceneStats{Mean: 120, Stddev: 10}, false},
		{"mean at gate", SceneStats{Mean: 180, Stddev: 20}, false},
		{"stddev at gate", SceneStats{Mean: 210, Stddev: 35}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stats.WhiteOnWhite())
		})
	}
}

func TestStrategiesFor(t *testing.T) {
	normal := StrategiesFor(SceneStats{Mean: 120, Stddev: 50})
	require.NotEmpty(t, normal)
	assert.Equal(t, StrategyStandard, normal[0], "normal scenes try the cheap path first")

	wow := StrategiesFor(SceneStats{Mean: 220, Stddev: 15})
	require.NotEmpty(t, wow)
	assert.Equal(t, StrategyDoG, wow[0], "low-contrast scenes lead with gradient amplification")
	assert.NotContains(t, wow, StrategyStandard)
}

func TestMeasureScene(t *testing.T) {
	uniform := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(128, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC1)
	defer uniform.Close()

	stats := MeasureScene(uniform)
	assert.InDelta(t, 128, stats.Mean, 0.5)
	assert.InDelta(t, 0, stats.Stddev, 0.5)
}

func TestSelectorDetectsDocument(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	s := NewSelector(nil)
	result := s.Detect(gray, empty)

	require.NotNil(t, result)
	require.NotNil(t, result.Quad)
	assert.Greater(t, result.Confidence, SuppressConfidence)

	expected := quad.Quad{
		{X: 80, Y: 60},
		{X: 320, Y: 60},
		{X: 320, Y: 240},
		{X: 80, Y: 240},
	}
	assert.LessOrEqual(t, quad.AverageCornerDistance(expected, *result.Quad), 10.0)
}

func TestSelectorUniformFrameYieldsNothing(t *testing.T) {
	uniform := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(230, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC1)
	defer uniform.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	s := NewSelector(nil)
	assert.Nil(t, s.Detect(uniform, empty), "featureless frames produce no detection")
}

func TestSelectorBudgetShortCircuits(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	s := NewSelector(nil)
	s.budget = 0

	// An expired budget skips the strategy loop entirely; the scene is not
	// white-on-white so the fallback does not run either.
	assert.Nil(t, s.Detect(gray, empty))
}

func TestDetectEdgesProducesBinary(t *testing.T) {
	gray := documentScene()
	defer gray.Close()

	edges := detectEdges(gray)
	defer edges.Close()

	require.False(t, edges.Empty())
	assert.Equal(t, gray.Rows(), edges.Rows())
	assert.Equal(t, gray.Cols(), edges.Cols())

	foreground := 0
	for _, v := range edges.ToBytes() {
		switch v {
		case 0:
		case 255:
			foreground++
		default:
			t.Fatalf("non-binary pixel value %d", v)
		}
	}
	assert.Greater(t, foreground, 0, "the document boundary must survive")
}
