package capture

import (
	"math"
)

// Format is a known physical document format and its width:height ratio.
type Format struct {
	Name  string
	Ratio float64
}

// Known formats, both orientations where they differ.
var knownFormats = []Format{
	{Name: "a-series-portrait", Ratio: 1 / math.Sqrt2},
	{Name: "a-series-landscape", Ratio: math.Sqrt2},
	{Name: "letter-portrait", Ratio: 8.5 / 11},
	{Name: "letter-landscape", Ratio: 11 / 8.5},
	{Name: "id-card-landscape", Ratio: 85.6 / 53.98},
	{Name: "id-card-portrait", Ratio: 53.98 / 85.6},
	{Name: "square", Ratio: 1},
}

const (
	snapThreshold = 0.035
	snapSigma     = 0.025

	// snapErrPenalty scales how hard a noisy homography decomposition
	// narrows the acceptance window and discounts the match confidence.
	snapErrPenalty = 4.0
)

// FormatMatch is a snapped format with its own confidence, reported
// separately from the estimation confidence.
type FormatMatch struct {
	Format     Format
	Confidence float64
}

// SnapFormat matches a raw ratio against the known formats with a
// Gaussian-weighted relative-difference score. homographyErr, when
// non-negative, is the orthogonality residual of the decomposition the
// ratio came from: the measured ratio is only as trustworthy as that
// decomposition, so a noisier residual demands a closer match and yields a
// lower snap confidence. Returns nil when no format is close enough.
func SnapFormat(ratio float64, homographyErr float64) *FormatMatch {
	if ratio <= 0 {
		return nil
	}

	threshold := snapThreshold
	reliability := 1.0
	if homographyErr >= 0 {
		reliability = 1 / (1 + snapErrPenalty*homographyErr)
		threshold *= reliability
	}

	var best *FormatMatch
	for _, f := range knownFormats {
		diff := math.Abs(ratio-f.Ratio) / f.Ratio
		if diff > threshold {
			continue
		}
		weight := math.Exp(-diff*diff/(2*snapSigma*snapSigma)) * reliability
		if best == nil || weight > best.Confidence {
			best = &FormatMatch{Format: f, Confidence: weight}
		}
	}
	return best
}
