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

var white = color.RGBA{R: 255, G: 255, B: 255}

// filledRect returns a binary frame with one filled white rectangle.
func filledRect(width, height int, r image.Rectangle) gocv.Mat {
	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&img, r, white, -1)
	return img
}

func TestQuadDetectorFindsRectangle(t *testing.T) {
	binary := filledRect(400, 300, image.Rect(80, 60, 320, 240))
	defer binary.Close()

	d := NewQuadDetector(nil)
	q, confidence := d.Detect(binary, 400, 300)

	require.NotNil(t, q)
	assert.Greater(t, confidence, 0.5)

	expected := quad.Quad{
		{X: 80, Y: 60},
		{X: 320, Y: 60},
		{X: 320, Y: 240},
		{X: 80, Y: 240},
	}
	assert.LessOrEqual(t, quad.AverageCornerDistance(expected, *q), 4.0)
}

func TestQuadDetectorEmptyFrame(t *testing.T) {
	binary := gocv.NewMatWithSize(300, 400, gocv.MatTypeCV8UC1)
	defer binary.Close()

	d := NewQuadDetector(nil)
	q, confidence := d.Detect(binary, 400, 300)

	assert.Nil(t, q)
	assert.Zero(t, confidence)
}

func TestQuadDetectorRejectsSmallContour(t *testing.T) {
	// 40x30 is 1% of the frame, an order of magnitude below the floor.
	binary := filledRect(400, 300, image.Rect(180, 135, 220, 165))
	defer binary.Close()

	d := NewQuadDetector(nil)
	q, _ := d.Detect(binary, 400, 300)
	assert.Nil(t, q)
}

func TestQuadDetectorPenalizesBorderContact(t *testing.T) {
	inside := filledRect(400, 300, image.Rect(60, 45, 340, 255))
	defer inside.Close()
	touching := filledRect(400, 300, image.Rect(0, 0, 280, 210))
	defer touching.Close()

	d := NewQuadDetector(nil)
	_, insideConf := d.Detect(inside, 400, 300)
	_, touchingConf := d.Detect(touching, 400, 300)

	require.Greater(t, insideConf, 0.0)
	assert.Less(t, touchingConf, insideConf,
		"frame-hugging quads score below fully interior ones")
}

func TestMarginFactor(t *testing.T) {
	interior := quad.Quad{
		{X: 50, Y: 50}, {X: 350, Y: 50}, {X: 350, Y: 250}, {X: 50, Y: 250},
	}
	assert.InDelta(t, 1.0, marginFactor(interior, 400, 300), 1e-9)

	twoCorners := quad.Quad{
		{X: 0, Y: 0}, {X: 350, Y: 0}, {X: 350, Y: 250}, {X: 50, Y: 250},
	}
	assert.InDelta(t, 0.6, marginFactor(twoCorners, 400, 300), 1e-9)

	allCorners := quad.Quad{
		{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 300}, {X: 0, Y: 300},
	}
	assert.InDelta(t, 0.4, marginFactor(allCorners, 400, 300), 1e-9,
		"floor keeps full-frame quads demoted rather than erased")
}

func TestSideRatio(t *testing.T) {
	assert.InDelta(t, 1.0, sideRatio(100, 100), 1e-9)
	assert.InDelta(t, 0.5, sideRatio(50, 100), 1e-9)
	assert.InDelta(t, 0.5, sideRatio(100, 50), 1e-9, "order independent")
	assert.Zero(t, sideRatio(0, 100))
}
