package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "standard", StrategyStandard.String())
	assert.Equal(t, "clahe_enhanced", StrategyCLAHE.String())
	assert.Equal(t, "directional_gradient", StrategyDirectionalGradient.String())
	assert.Equal(t, "lsd_radon", StrategyLSDRadon.String())
	assert.Equal(t, "strategy(99)", Strategy(99).String())
}

func TestStrategyBinaryOutput(t *testing.T) {
	binary := []Strategy{
		StrategyAdaptiveThreshold,
		StrategyGradientMagnitude,
		StrategyDoG,
		StrategyMultichannelFusion,
		StrategyDirectionalGradient,
	}
	for _, s := range binary {
		assert.True(t, s.BinaryOutput(), s.String())
	}

	grayscale := []Strategy{
		StrategyStandard, StrategyCLAHE, StrategySaturation,
		StrategyBilateral, StrategyHeavyMorph, StrategyLabCLAHE,
	}
	for _, s := range grayscale {
		assert.False(t, s.BinaryOutput(), s.String())
	}
}

func TestColorStrategiesRequireColor(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	for _, s := range []Strategy{StrategySaturation, StrategyLabCLAHE, StrategyMultichannelFusion} {
		_, err := s.Apply(gray, empty)
		assert.ErrorIs(t, err, errNeedsColor, s.String())
	}
}

func TestGrayscaleStrategiesPreserveGeometry(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	for _, s := range []Strategy{
		StrategyStandard, StrategyCLAHE, StrategyBilateral, StrategyHeavyMorph,
	} {
		t.Run(s.String(), func(t *testing.T) {
			out, err := s.Apply(gray, empty)
			require.NoError(t, err)
			defer out.Close()

			assert.Equal(t, gray.Rows(), out.Rows())
			assert.Equal(t, gray.Cols(), out.Cols())
			assert.Equal(t, gocv.MatTypeCV8UC1, out.Type())
		})
	}
}

func TestBinaryStrategiesEmitTwoLevels(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	for _, s := range []Strategy{
		StrategyAdaptiveThreshold, StrategyGradientMagnitude,
		StrategyDoG, StrategyDirectionalGradient,
	} {
		t.Run(s.String(), func(t *testing.T) {
			out, err := s.Apply(gray, empty)
			require.NoError(t, err)
			defer out.Close()

			require.Equal(t, gray.Rows(), out.Rows())
			require.Equal(t, gray.Cols(), out.Cols())

			foreground := 0
			for _, v := range out.ToBytes() {
				switch v {
				case 0:
				case 255:
					foreground++
				default:
					t.Fatalf("non-binary pixel value %d", v)
				}
			}
			assert.Greater(t, foreground, 0)
		})
	}
}

func TestDirectionalGradientHighlightsBoundary(t *testing.T) {
	gray := documentScene()
	defer gray.Close()

	out, err := applyDirectionalGradient(gray)
	require.NoError(t, err)
	defer out.Close()

	data := out.ToBytes()
	cols := out.Cols()

	// The document's left edge at x=80 must respond on a mid row; the flat
	// interior must not.
	onEdge := false
	for x := 77; x <= 83; x++ {
		if data[150*cols+x] == 255 {
			onEdge = true
		}
	}
	assert.True(t, onEdge, "boundary pixels survive thresholding")
	assert.Zero(t, data[150*cols+200], "flat interior stays background")
}

func TestDirectionalGradientRejectsTinyFrame(t *testing.T) {
	tiny := gocv.NewMatWithSize(30, 30, gocv.MatTypeCV8UC1)
	defer tiny.Close()

	_, err := applyDirectionalGradient(tiny)
	assert.Error(t, err)
}

func TestHistogramPercentile(t *testing.T) {
	var histogram [256]int
	for i := 0; i < 100; i++ {
		histogram[i] = 1
	}

	assert.Equal(t, 49, histogramPercentile(histogram[:], 100, 0.5))
	assert.Equal(t, 89, histogramPercentile(histogram[:], 100, 0.9))
}

func TestColorStrategiesOnSyntheticScene(t *testing.T) {
	gray := documentScene()
	defer gray.Close()
	color := gocv.NewMat()
	defer color.Close()
	gocv.CvtColor(gray, &color, gocv.ColorGrayToBGR)

	for _, s := range []Strategy{StrategySaturation, StrategyLabCLAHE, StrategyMultichannelFusion} {
		t.Run(s.String(), func(t *testing.T) {
			out, err := s.Apply(gray, color)
			require.NoError(t, err)
			defer out.Close()

			assert.Equal(t, gray.Rows(), out.Rows())
			assert.Equal(t, gray.Cols(), out.Cols())
		})
	}
}

func TestDirectionalOffsetsBounded(t *testing.T) {
	hOffsets, vOffsets := directionalOffsets(400)
	require.Len(t, hOffsets, dirGradAngles)
	require.Len(t, vOffsets, dirGradAngles)

	half := dirGradKernelLen / 2
	maxOff := (half + 2) * 400 // tap reach: half columns sideways, slight row tilt
	for a := 0; a < dirGradAngles; a++ {
		require.Len(t, hOffsets[a], dirGradKernelLen)
		for k := 0; k < dirGradKernelLen; k++ {
			assert.LessOrEqual(t, abs(hOffsets[a][k]), maxOff)
			assert.LessOrEqual(t, abs(vOffsets[a][k]), maxOff)
		}
		// The center tap never moves.
		assert.Zero(t, hOffsets[a][half])
		assert.Zero(t, vOffsets[a][half])
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestPercentileBinaryKeepsTail(t *testing.T) {
	// A gradient ramp: exactly the brightest tail should survive.
	ramp := gocv.NewMatWithSize(16, 256, gocv.MatTypeCV8UC1)
	defer ramp.Close()
	for y := 0; y < 16; y++ {
		for x := 0; x < 256; x++ {
			ramp.SetUCharAt(y, x, uint8(x))
		}
	}

	out, err := percentileBinary(ramp, 0.90)
	require.NoError(t, err)
	defer out.Close()

	foreground := 0
	for _, v := range out.ToBytes() {
		if v == 255 {
			foreground++
		}
	}
	total := 16 * 256
	frac := float64(foreground) / float64(total)
	assert.InDelta(t, 0.10, frac, 0.02)
}
