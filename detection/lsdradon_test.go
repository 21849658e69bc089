package detection

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"docshot/quad"
)

// whiteOnWhiteScene returns a bright frame with a faintly darker page on
// it, the kind of boundary the standard strategies cannot lift.
func whiteOnWhiteScene() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(235, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&img, image.Rect(80, 60, 320, 240), color.RGBA{R: 210, G: 210, B: 210}, -1)
	return img
}

func TestLsdRadonDetectsFaintPage(t *testing.T) {
	gray := whiteOnWhiteScene()
	defer gray.Close()

	d := NewLsdRadonDetector(nil)
	result := d.Detect(gray)

	require.NotNil(t, result)
	require.NotNil(t, result.Quad)
	assert.Equal(t, StrategyLSDRadon, result.Strategy)
	assert.GreaterOrEqual(t, result.Confidence, 0.40)
	assert.LessOrEqual(t, result.Confidence, 0.85)

	expected := quad.Quad{
		{X: 80, Y: 60},
		{X: 320, Y: 60},
		{X: 320, Y: 240},
		{X: 80, Y: 240},
	}
	assert.LessOrEqual(t, quad.AverageCornerDistance(expected, *result.Quad), 10.0)
}

func TestLsdRadonUniformFrame(t *testing.T) {
	uniform := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(235, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC1)
	defer uniform.Close()

	d := NewLsdRadonDetector(nil)
	assert.Nil(t, d.Detect(uniform))
}

func TestLsdRadonTinyFrame(t *testing.T) {
	tiny := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC1)
	defer tiny.Close()

	d := NewLsdRadonDetector(nil)
	assert.Nil(t, d.Detect(tiny))
}

func TestNormalizeTilt(t *testing.T) {
	assert.InDelta(t, -5, normalizeTilt(175), 1e-9)
	assert.InDelta(t, 85, normalizeTilt(-95), 1e-9)
	assert.InDelta(t, 30, normalizeTilt(30), 1e-9)
	assert.InDelta(t, 0, normalizeTilt(180), 1e-9)
}

func TestClusterSegments(t *testing.T) {
	segs := []segment{
		{offset: 60, tiltDeg: 1, length: 100},
		{offset: 66, tiltDeg: 3, length: 50},
		{offset: 240, tiltDeg: 0, length: 80},
	}

	lines := clusterSegments(segs)
	require.Len(t, lines, 2)

	// First cluster: length-weighted means of the two nearby segments.
	assert.InDelta(t, 62, lines[0].offset, 1e-9)
	assert.InDelta(t, 100.0/150*1+50.0/150*3, lines[0].tiltDeg, 1e-9)
	assert.InDelta(t, 150, lines[0].strength, 1e-9)

	assert.InDelta(t, 240, lines[1].offset, 1e-9)
	assert.InDelta(t, 80, lines[1].strength, 1e-9)
}

func TestSelectSidePair(t *testing.T) {
	t.Run("well separated pair", func(t *testing.T) {
		pair := selectSidePair([]sideLine{
			{offset: 60, strength: 120},
			{offset: 240, strength: 100},
		}, 300)
		require.Equal(t, 2, pair.found)
		assert.InDelta(t, 60, pair.near.offset, 1e-9)
		assert.InDelta(t, 240, pair.far.offset, 1e-9)
	})

	t.Run("too close keeps strongest single", func(t *testing.T) {
		pair := selectSidePair([]sideLine{
			{offset: 100, strength: 80},
			{offset: 130, strength: 120},
		}, 300)
		require.Equal(t, 1, pair.found)
		assert.InDelta(t, 130, pair.near.offset, 1e-9)
	})

	t.Run("under supported lines are dropped", func(t *testing.T) {
		pair := selectSidePair([]sideLine{
			{offset: 60, strength: 10},
			{offset: 240, strength: 10},
		}, 300)
		assert.Zero(t, pair.found)
	})
}

func TestRectangleFromPairs(t *testing.T) {
	hPair := sidePair{
		near:  sideLine{offset: 60},
		far:   sideLine{offset: 240},
		found: 2,
	}
	vPair := sidePair{
		near:  sideLine{offset: 80},
		far:   sideLine{offset: 320},
		found: 2,
	}

	q, ok := rectangleFromPairs(hPair, vPair, 400, 300)
	require.True(t, ok)
	assert.Equal(t, quad.Point{X: 80, Y: 60}, (*q)[quad.TopLeft])
	assert.Equal(t, quad.Point{X: 320, Y: 240}, (*q)[quad.BottomRight])

	t.Run("incomplete pair", func(t *testing.T) {
		_, ok := rectangleFromPairs(sidePair{found: 1}, vPair, 400, 300)
		assert.False(t, ok)
	})

	t.Run("corner far outside frame", func(t *testing.T) {
		wild := sidePair{
			near:  sideLine{offset: -200},
			far:   sideLine{offset: 240},
			found: 2,
		}
		_, ok := rectangleFromPairs(wild, vPair, 400, 300)
		assert.False(t, ok)
	})
}

func TestRectangleFromPairsTilted(t *testing.T) {
	// A small shared tilt must still intersect into a convex quad close to
	// the axis-aligned rectangle.
	hPair := sidePair{
		near:  sideLine{offset: 60, tiltDeg: 3},
		far:   sideLine{offset: 240, tiltDeg: 3},
		found: 2,
	}
	vPair := sidePair{
		near:  sideLine{offset: 80, tiltDeg: 3},
		far:   sideLine{offset: 320, tiltDeg: 3},
		found: 2,
	}

	q, ok := rectangleFromPairs(hPair, vPair, 400, 300)
	require.True(t, ok)
	assert.True(t, quad.IsConvex(*q))

	reference := quad.Quad{
		{X: 80, Y: 60}, {X: 320, Y: 60}, {X: 320, Y: 240}, {X: 80, Y: 240},
	}
	assert.Less(t, quad.AverageCornerDistance(reference, *q), 25.0)
}

func TestPairFromPeaks(t *testing.T) {
	peaks := []sideLine{
		{offset: 240, strength: 90},
		{offset: 60, strength: 120},
	}
	pair := pairFromPeaks(peaks, 2, 300)
	require.Equal(t, 2, pair.found)
	assert.InDelta(t, 60, pair.near.offset, 1e-9)
	assert.InDelta(t, 2, pair.near.tiltDeg, 1e-9)

	crowded := []sideLine{{offset: 100}, {offset: 140}}
	assert.Zero(t, pairFromPeaks(crowded, 0, 300).found)
}

func TestAspectPrior(t *testing.T) {
	portrait := quad.Quad{
		{X: 0, Y: 0}, {X: 100 / math.Sqrt2, Y: 0},
		{X: 100 / math.Sqrt2, Y: 100}, {X: 0, Y: 100},
	}
	assert.InDelta(t, 1.0, aspectPrior(&portrait), 1e-6, "peak at paper proportions")

	extreme := quad.Quad{
		{X: 0, Y: 0}, {X: 500, Y: 0}, {X: 500, Y: 50}, {X: 0, Y: 50},
	}
	assert.Less(t, aspectPrior(&extreme), 0.01)
}

func TestClampConfidence(t *testing.T) {
	assert.InDelta(t, 0.5, clampConfidence(0.3, 0.5, 0.85), 1e-9)
	assert.InDelta(t, 0.85, clampConfidence(0.9, 0.5, 0.85), 1e-9)
	assert.InDelta(t, 0.7, clampConfidence(0.7, 0.5, 0.85), 1e-9)
}

func TestGradientFieldDensityCheck(t *testing.T) {
	gray := whiteOnWhiteScene()
	defer gray.Close()

	grad := newGradientField(gray)

	onBoundary := quad.Quad{
		{X: 80, Y: 60}, {X: 320, Y: 60}, {X: 320, Y: 240}, {X: 80, Y: 240},
	}
	assert.True(t, grad.densityCheck(&onBoundary))

	interior := quad.Quad{
		{X: 120, Y: 100}, {X: 280, Y: 100}, {X: 280, Y: 200}, {X: 120, Y: 200},
	}
	assert.False(t, grad.densityCheck(&interior), "flat interior has no perpendicular gradient")
}

func TestGradientFieldLineIntegral(t *testing.T) {
	gray := whiteOnWhiteScene()
	defer gray.Close()

	grad := newGradientField(gray)

	onEdge := grad.lineIntegral(true, 0, 60)
	offEdge := grad.lineIntegral(true, 0, 150)
	assert.Greater(t, onEdge, offEdge)
	assert.GreaterOrEqual(t, onEdge, minSideGradient)
}
