package detection

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Strategy identifies one preprocessing transform. Strategies either
// produce a grayscale image that still needs edge detection, or a
// ready-made binary edge map that feeds contour extraction directly.
type Strategy int

const (
	StrategyStandard Strategy = iota
	StrategyCLAHE
	StrategySaturation
	StrategyBilateral
	StrategyHeavyMorph
	StrategyAdaptiveThreshold
	StrategyLabCLAHE
	StrategyGradientMagnitude
	StrategyDoG
	StrategyMultichannelFusion
	StrategyDirectionalGradient

	// StrategyLSDRadon tags results produced by the fallback cascade;
	// it is not part of the preprocessing loop.
	StrategyLSDRadon
)

func (s Strategy) String() string {
	switch s {
	case StrategyStandard:
		return "standard"
	case StrategyCLAHE:
		return "clahe_enhanced"
	case StrategySaturation:
		return "saturation_channel"
	case StrategyBilateral:
		return "bilateral"
	case StrategyHeavyMorph:
		return "heavy_morph"
	case StrategyAdaptiveThreshold:
		return "adaptive_threshold"
	case StrategyLabCLAHE:
		return "lab_clahe"
	case StrategyGradientMagnitude:
		return "gradient_magnitude"
	case StrategyDoG:
		return "dog"
	case StrategyMultichannelFusion:
		return "multichannel_fusion"
	case StrategyDirectionalGradient:
		return "directional_gradient"
	case StrategyLSDRadon:
		return "lsd_radon"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// BinaryOutput reports whether the strategy emits a binary edge map that
// bypasses edge detection.
func (s Strategy) BinaryOutput() bool {
	switch s {
	case StrategyAdaptiveThreshold, StrategyGradientMagnitude, StrategyDoG,
		StrategyMultichannelFusion, StrategyDirectionalGradient:
		return true
	}
	return false
}

// errNeedsColor marks strategies that require a color plane when only a
// grayscale frame is available. The strategy loop skips over it.
var errNeedsColor = errors.New("strategy requires a color frame")

// Apply runs the strategy on the frame. gray must be a non-empty CV_8UC1
// Mat; color is an optional CV_8UC3 Mat (may be empty). The returned Mat
// is owned by the caller and must be closed.
func (s Strategy) Apply(gray, color gocv.Mat) (gocv.Mat, error) {
	switch s {
	case StrategyStandard:
		return applyStandard(gray)
	case StrategyCLAHE:
		return applyCLAHE(gray)
	case StrategySaturation:
		return applySaturation(color)
	case StrategyBilateral:
		return applyBilateral(gray)
	case StrategyHeavyMorph:
		return applyHeavyMorph(gray)
	case StrategyAdaptiveThreshold:
		return applyAdaptiveThreshold(gray)
	case StrategyLabCLAHE:
		return applyLabCLAHE(color)
	case StrategyGradientMagnitude:
		return applyGradientMagnitude(gray)
	case StrategyDoG:
		return applyDoG(gray)
	case StrategyMultichannelFusion:
		return applyMultichannelFusion(color)
	case StrategyDirectionalGradient:
		return applyDirectionalGradient(gray)
	}
	return gocv.Mat{}, fmt.Errorf("unknown strategy %v", s)
}

func applyStandard(gray gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	gocv.GaussianBlur(gray, &out, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)
	return out, nil
}

func applyCLAHE(gray gocv.Mat) (gocv.Mat, error) {
	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	out := gocv.NewMat()
	clahe.Apply(gray, &out)
	return out, nil
}

func applySaturation(color gocv.Mat) (gocv.Mat, error) {
	if color.Empty() {
		return gocv.Mat{}, errNeedsColor
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(color, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	out := channels[1].Clone()
	for i := range channels {
		channels[i].Close()
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(out, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)
	out.Close()
	return blurred, nil
}

func applyBilateral(gray gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	gocv.BilateralFilter(gray, &out, 9, 75, 75)
	return out, nil
}

// applyHeavyMorph suppresses in-document texture (text, figures) with a
// large closing kernel so only the outer boundary survives edge detection.
func applyHeavyMorph(gray gocv.Mat) (gocv.Mat, error) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 11, Y: 11})
	defer kernel.Close()

	closed := gocv.NewMat()
	gocv.MorphologyEx(gray, &closed, gocv.MorphClose, kernel)

	out := gocv.NewMat()
	gocv.GaussianBlur(closed, &out, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)
	closed.Close()
	return out, nil
}

func applyAdaptiveThreshold(gray gocv.Mat) (gocv.Mat, error) {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

	out := gocv.NewMat()
	gocv.AdaptiveThreshold(blurred, &out, 255, gocv.AdaptiveThresholdGaussian,
		gocv.ThresholdBinaryInv, 25, 8)
	return out, nil
}

func applyLabCLAHE(color gocv.Mat) (gocv.Mat, error) {
	if color.Empty() {
		return gocv.Mat{}, errNeedsColor
	}

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(color, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	lightness := channels[0].Clone()
	for i := range channels {
		channels[i].Close()
	}
	defer lightness.Close()

	clahe := gocv.NewCLAHEWithParams(3.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	out := gocv.NewMat()
	clahe.Apply(lightness, &out)
	return out, nil
}

func applyGradientMagnitude(gray gocv.Mat) (gocv.Mat, error) {
	magnitude, err := sobelMagnitude(gray)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer magnitude.Close()

	return percentileBinary(magnitude, 0.90)
}

// applyDoG computes a difference of Gaussians, which responds to the soft
// luminance step of a white page on a white surface where a plain gradient
// drowns in noise.
func applyDoG(gray gocv.Mat) (gocv.Mat, error) {
	narrow := gocv.NewMat()
	defer narrow.Close()
	gocv.GaussianBlur(gray, &narrow, image.Point{}, 1.0, 1.0, gocv.BorderDefault)

	wide := gocv.NewMat()
	defer wide.Close()
	gocv.GaussianBlur(gray, &wide, image.Point{}, 2.5, 2.5, gocv.BorderDefault)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(narrow, wide, &diff)

	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Normalize(diff, &normalized, 0, 255, gocv.NormMinMax)

	return percentileBinary(normalized, 0.92)
}

func applyMultichannelFusion(color gocv.Mat) (gocv.Mat, error) {
	if color.Empty() {
		return gocv.Mat{}, errNeedsColor
	}

	channels := gocv.Split(color)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	fused := gocv.NewMat()
	defer fused.Close()
	for i := range channels {
		magnitude, err := sobelMagnitude(channels[i])
		if err != nil {
			return gocv.Mat{}, err
		}
		if fused.Empty() {
			magnitude.CopyTo(&fused)
		} else {
			gocv.Max(fused, magnitude, &fused)
		}
		magnitude.Close()
	}

	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Normalize(fused, &normalized, 0, 255, gocv.NormMinMax)

	return percentileBinary(normalized, 0.90)
}

// Directional gradient accumulation parameters. A 21-tap 1-D kernel is
// swept over 5 tilt angles; per-pixel maxima of oriented |Gy| and |Gx|
// sums are combined and thresholded at the 90th percentile.
const (
	dirGradAngles     = 5
	dirGradKernelLen  = 21
	dirGradMaxTiltDeg = 10.0
	dirGradPercentile = 0.90
)

func applyDirectionalGradient(gray gocv.Mat) (gocv.Mat, error) {
	rows := gray.Rows()
	cols := gray.Cols()

	gradY := gocv.NewMat()
	defer gradY.Close()
	sobelAbs(gray, &gradY, 0, 1)

	gradX := gocv.NewMat()
	defer gradX.Close()
	sobelAbs(gray, &gradX, 1, 0)

	gyData := gradY.ToBytes()
	gxData := gradX.ToBytes()

	half := dirGradKernelLen / 2
	maxShift := int(math.Ceil(float64(half) * math.Tan(dirGradMaxTiltDeg*math.Pi/180)))
	marginX := half + maxShift
	marginY := half + maxShift
	if rows <= 2*marginY || cols <= 2*marginX {
		return gocv.Mat{}, fmt.Errorf("frame %dx%d too small for directional gradient", cols, rows)
	}

	hOffsets, vOffsets := directionalOffsets(cols)

	total := rows * cols
	hResponse := make([]int32, total)
	vResponse := make([]int32, total)

	// Per-pixel max across tilt angles.
	for a := 0; a < dirGradAngles; a++ {
		hOff := hOffsets[a]
		vOff := vOffsets[a]
		for y := marginY; y < rows-marginY; y++ {
			rowBase := y * cols
			for x := marginX; x < cols-marginX; x++ {
				idx := rowBase + x
				var sumH, sumV int32
				for k := 0; k < dirGradKernelLen; k++ {
					sumH += int32(gyData[idx+hOff[k]])
					sumV += int32(gxData[idx+vOff[k]])
				}
				if sumH > hResponse[idx] {
					hResponse[idx] = sumH
				}
				if sumV > vResponse[idx] {
					vResponse[idx] = sumV
				}
			}
		}
	}

	// Combine H and V, normalize to 0-255, histogram in the same pass.
	var globalMax int32 = 1
	for i := 0; i < total; i++ {
		combined := hResponse[i]
		if vResponse[i] > combined {
			combined = vResponse[i]
		}
		hResponse[i] = combined
		if combined > globalMax {
			globalMax = combined
		}
	}

	result := make([]byte, total)
	var histogram [256]int
	for i := 0; i < total; i++ {
		normalized := int(int64(hResponse[i]) * 255 / int64(globalMax))
		if normalized > 255 {
			normalized = 255
		}
		result[i] = byte(normalized)
		histogram[normalized]++
	}

	threshold := histogramPercentile(histogram[:], total, dirGradPercentile)
	for i := 0; i < total; i++ {
		if result[i] > byte(threshold) {
			result[i] = 255
		} else {
			result[i] = 0
		}
	}

	out, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, result)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("directional gradient output: %w", err)
	}
	return out, nil
}

// directionalOffsets builds the per-angle linear pixel offsets for the
// oriented 1-D accumulation. Horizontal-edge kernels run left-right with a
// vertical tilt; vertical-edge kernels run top-bottom with a horizontal tilt.
func directionalOffsets(cols int) (hOffsets, vOffsets [][]int) {
	half := dirGradKernelLen / 2
	step := 2 * dirGradMaxTiltDeg / float64(dirGradAngles-1)

	hOffsets = make([][]int, dirGradAngles)
	vOffsets = make([][]int, dirGradAngles)
	for a := 0; a < dirGradAngles; a++ {
		angle := (-dirGradMaxTiltDeg + float64(a)*step) * math.Pi / 180
		tan := math.Tan(angle)

		h := make([]int, dirGradKernelLen)
		v := make([]int, dirGradKernelLen)
		for k := 0; k < dirGradKernelLen; k++ {
			d := k - half
			h[k] = int(math.Round(float64(d)*tan))*cols + d
			v[k] = d*cols + int(math.Round(float64(d)*tan))
		}
		hOffsets[a] = h
		vOffsets[a] = v
	}
	return hOffsets, vOffsets
}

// sobelAbs writes |Sobel(dx, dy)| of src into dst as CV_8UC1.
func sobelAbs(src gocv.Mat, dst *gocv.Mat, dx, dy int) {
	grad := gocv.NewMat()
	defer grad.Close()
	gocv.Sobel(src, &grad, gocv.MatTypeCV16S, dx, dy, 3, 1, 0, gocv.BorderDefault)
	gocv.ConvertScaleAbs(grad, dst, 1, 0)
}

// sobelMagnitude returns the blended |Gx|+|Gy| magnitude of a single
// channel as CV_8UC1. Caller closes the result.
func sobelMagnitude(src gocv.Mat) (gocv.Mat, error) {
	gradX := gocv.NewMat()
	defer gradX.Close()
	sobelAbs(src, &gradX, 1, 0)

	gradY := gocv.NewMat()
	defer gradY.Close()
	sobelAbs(src, &gradY, 0, 1)

	out := gocv.NewMat()
	gocv.AddWeighted(gradX, 0.5, gradY, 0.5, 0, &out)
	return out, nil
}

// percentileBinary thresholds a CV_8UC1 Mat so that roughly (1-pct) of the
// pixels survive as foreground. Caller closes the result.
func percentileBinary(src gocv.Mat, pct float64) (gocv.Mat, error) {
	data := src.ToBytes()

	var histogram [256]int
	for _, v := range data {
		histogram[v]++
	}
	threshold := histogramPercentile(histogram[:], len(data), pct)

	out := gocv.NewMat()
	gocv.Threshold(src, &out, float32(threshold), 255, gocv.ThresholdBinary)
	return out, nil
}

func histogramPercentile(histogram []int, total int, pct float64) int {
	target := int(float64(total) * pct)
	cum := 0
	for i, count := range histogram {
		cum += count
		if cum >= target {
			return i
		}
	}
	return 255
}
