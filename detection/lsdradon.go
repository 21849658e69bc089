package detection

import (
	"math"
	"sort"

	lsd "github.com/raff/lsd-go"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"docshot/quad"
)

// LsdRadonDetector is the three-tier fallback cascade for white-on-white
// scenes where every preprocessing strategy failed. Tiers trade cost for
// sensitivity: line-segment clustering, then a corner-constrained Radon
// search around missing sides, then a joint restricted Radon rectangle fit.
type LsdRadonDetector struct {
	log *logrus.Entry
}

func NewLsdRadonDetector(log *logrus.Entry) *LsdRadonDetector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LsdRadonDetector{log: log}
}

const (
	// lsdQuant keeps the detector sensitive to ~2.6-unit gradients, far
	// below the default; white-on-white boundaries are that faint.
	lsdQuant = 2.6

	// Segment clustering tolerances.
	clusterAngleTolDeg = 8.0
	clusterOffsetTol   = 15.0

	// Tier 2 searches within this many degrees of the known sides.
	tier2AngleRangeDeg = 12.0

	// Tier 3 sweeps 9 discrete angles spanning this range.
	tier3AngleRangeDeg = 8.0
	tier3AngleSteps    = 9

	// Gradient-density acceptance: at least 3 of 4 sides must average at
	// least this perpendicular gradient magnitude.
	minSideGradient  = 20.0
	minSupportedSide = 3
)

// sideLine is a rectangle side in tilt/offset form. Horizontal lines are
// y = offset + tan(tilt)·(x - w/2); vertical lines are
// x = offset + tan(tilt)·(y - h/2). Offset is measured at the frame center
// so tilt changes do not shift the line.
type sideLine struct {
	tiltDeg  float64
	offset   float64
	strength float64
}

type sidePair struct {
	near, far sideLine // top/bottom or left/right
	found     int      // how many of the two sides were recovered
}

// Detect runs the cascade. Returns nil when no tier produces a rectangle
// passing the gradient-density check.
func (d *LsdRadonDetector) Detect(gray gocv.Mat) *Result {
	width := gray.Cols()
	height := gray.Rows()
	if width < 64 || height < 64 {
		return nil
	}

	grad := newGradientField(gray)

	hPair, vPair := d.collectSegmentPairs(gray, width, height)
	sidesFound := hPair.found + vPair.found

	// Tier 1: all four sides recovered directly from line segments.
	if sidesFound == 4 {
		if q, conf := d.tier1Rectangle(hPair, vPair, grad, width, height); q != nil {
			d.log.WithFields(logrus.Fields{"tier": 1, "confidence": conf}).Debug("fallback rectangle")
			return &Result{Quad: q, Confidence: conf, Strategy: StrategyLSDRadon}
		}
	}

	// Tier 2: complete 2-3 recovered sides with a constrained Radon search.
	if sidesFound >= 2 && sidesFound < 4 {
		if q, conf := d.tier2Complete(hPair, vPair, grad, width, height); q != nil {
			d.log.WithFields(logrus.Fields{"tier": 2, "confidence": conf}).Debug("fallback rectangle")
			return &Result{Quad: q, Confidence: conf, Strategy: StrategyLSDRadon}
		}
	}

	// Tier 3: joint restricted Radon fit from scratch.
	if q, conf := d.tier3JointFit(grad, width, height); q != nil {
		d.log.WithFields(logrus.Fields{"tier": 3, "confidence": conf}).Debug("fallback rectangle")
		return &Result{Quad: q, Confidence: conf, Strategy: StrategyLSDRadon}
	}

	return nil
}

// --- Tier 1: LSD segment clustering ---

type segment struct {
	x1, y1, x2, y2 float64
	length         float64
	tiltDeg        float64 // tilt from the nearest axis, -45..45
	horizontal     bool
	offset         float64 // center-referenced offset
}

// collectSegmentPairs runs LSD and clusters segments into up to two
// horizontal and two vertical side groups.
func (d *LsdRadonDetector) collectSegmentPairs(gray gocv.Mat, width, height int) (hPair, vPair sidePair) {
	buf := grayFloat(gray)

	segs, n := lsd.LineSegmentDetection(buf, width, height,
		0.8,      // scale
		0.6,      // sigma coefficient
		lsdQuant, // gradient quantization bound
		22.5,     // angle tolerance
		0.0,      // detection threshold
		0.7,      // region density
		0.0, false, -1.0, 1024,
		false, nil, nil, nil, 5.0, 5.0)

	minLen := 0.05 * math.Min(float64(width), float64(height))
	var horizontals, verticals []segment
	for i := 0; i < n; i++ {
		base := i * 7
		s := segment{
			x1: segs[base], y1: segs[base+1],
			x2: segs[base+2], y2: segs[base+3],
		}
		dx := s.x2 - s.x1
		dy := s.y2 - s.y1
		s.length = math.Hypot(dx, dy)
		if s.length < minLen {
			continue
		}

		angle := math.Atan2(dy, dx) * 180 / math.Pi // -180..180
		cx := (s.x1 + s.x2) / 2
		cy := (s.y1 + s.y2) / 2

		// Fold into tilt from the nearest axis.
		hTilt := normalizeTilt(angle)
		vTilt := normalizeTilt(angle - 90)
		switch {
		case math.Abs(hTilt) <= clusterAngleTolDeg:
			s.horizontal = true
			s.tiltDeg = hTilt
			s.offset = cy + math.Tan(hTilt*math.Pi/180)*(float64(width)/2-cx)
			horizontals = append(horizontals, s)
		case math.Abs(vTilt) <= clusterAngleTolDeg:
			s.horizontal = false
			s.tiltDeg = vTilt
			s.offset = cx + math.Tan(vTilt*math.Pi/180)*(float64(height)/2-cy)
			verticals = append(verticals, s)
		}
	}

	hPair = selectSidePair(clusterSegments(horizontals), float64(height))
	vPair = selectSidePair(clusterSegments(verticals), float64(width))
	return hPair, vPair
}

// normalizeTilt folds an angle in degrees into -90..90, then returns the
// deviation usable as a tilt from horizontal.
func normalizeTilt(angle float64) float64 {
	for angle > 90 {
		angle -= 180
	}
	for angle < -90 {
		angle += 180
	}
	return angle
}

// clusterSegments merges same-orientation segments whose offsets lie
// within the proximity tolerance into candidate side lines.
func clusterSegments(segs []segment) []sideLine {
	if len(segs) == 0 {
		return nil
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].offset < segs[j].offset })

	var lines []sideLine
	start := 0
	for i := 1; i <= len(segs); i++ {
		if i < len(segs) && segs[i].offset-segs[i-1].offset <= clusterOffsetTol {
			continue
		}
		cluster := segs[start:i]
		start = i

		offsets := make([]float64, len(cluster))
		tilts := make([]float64, len(cluster))
		weights := make([]float64, len(cluster))
		total := 0.0
		for j, s := range cluster {
			offsets[j] = s.offset
			tilts[j] = s.tiltDeg
			weights[j] = s.length
			total += s.length
		}
		lines = append(lines, sideLine{
			tiltDeg:  stat.Mean(tilts, weights),
			offset:   stat.Mean(offsets, weights),
			strength: total,
		})
	}
	return lines
}

// selectSidePair picks the two strongest, sufficiently separated side
// lines out of the clusters for one orientation.
func selectSidePair(lines []sideLine, extent float64) sidePair {
	minSupport := 0.15 * extent
	minSeparation := 0.25 * extent

	var strong []sideLine
	for _, l := range lines {
		if l.strength >= minSupport {
			strong = append(strong, l)
		}
	}

	var best sidePair
	bestScore := 0.0
	for i := 0; i < len(strong); i++ {
		for j := i + 1; j < len(strong); j++ {
			sep := math.Abs(strong[j].offset - strong[i].offset)
			if sep < minSeparation {
				continue
			}
			score := (strong[i].strength + strong[j].strength) * sep
			if score > bestScore {
				bestScore = score
				near, far := strong[i], strong[j]
				if near.offset > far.offset {
					near, far = far, near
				}
				best = sidePair{near: near, far: far, found: 2}
			}
		}
	}
	if best.found == 2 {
		return best
	}

	// No valid pair; keep the single strongest line for Tier 2.
	if len(strong) > 0 {
		sort.Slice(strong, func(i, j int) bool { return strong[i].strength > strong[j].strength })
		return sidePair{near: strong[0], found: 1}
	}
	return sidePair{}
}

func (d *LsdRadonDetector) tier1Rectangle(hPair, vPair sidePair, grad *gradientField, width, height int) (*quad.Quad, float64) {
	q, ok := rectangleFromPairs(hPair, vPair, width, height)
	if !ok || !grad.densityCheck(q) {
		return nil, 0
	}

	// Coverage: how much of the expected perimeter the raw segments explain.
	coverage := (hPair.near.strength + hPair.far.strength +
		vPair.near.strength + vPair.far.strength) / quad.Perimeter(q)
	if coverage > 1 {
		coverage = 1
	}
	return q, clampConfidence(0.50+0.35*coverage, 0.50, 0.85)
}

// --- Tier 2: corner-constrained Radon completion ---

// tier2Complete fills in the sides Tier 1 missed with a coarse-to-fine
// 1-D perpendicular-gradient search near the known sides' orientation.
func (d *LsdRadonDetector) tier2Complete(hPair, vPair sidePair, grad *gradientField, width, height int) (*quad.Quad, float64) {
	knownTilt := knownTiltOf(hPair, vPair)

	peakSum := 0.0
	peaks := 0
	complete := func(pair sidePair, horizontal bool) (sidePair, bool) {
		extent := float64(height)
		if !horizontal {
			extent = float64(width)
		}
		for pair.found < 2 {
			line, ok := grad.searchLine(horizontal, knownTilt, tier2AngleRangeDeg, pair, extent)
			if !ok {
				return pair, false
			}
			peakSum += line.strength
			peaks++
			if pair.found == 0 {
				pair.near = line
				pair.found = 1
				continue
			}
			if line.offset < pair.near.offset {
				pair.far = pair.near
				pair.near = line
			} else {
				pair.far = line
			}
			pair.found = 2
		}
		return pair, true
	}

	hFull, ok := complete(hPair, true)
	if !ok {
		return nil, 0
	}
	vFull, ok := complete(vPair, false)
	if !ok {
		return nil, 0
	}

	q, ok := rectangleFromPairs(hFull, vFull, width, height)
	if !ok || !grad.densityCheck(q) {
		return nil, 0
	}

	avgPeak := 0.0
	if peaks > 0 {
		avgPeak = peakSum / float64(peaks) / 255
	}
	return q, clampConfidence(0.45+0.40*avgPeak, 0.45, 0.75)
}

func knownTiltOf(hPair, vPair sidePair) float64 {
	tilts := make([]float64, 0, 4)
	weights := make([]float64, 0, 4)
	for _, pair := range []sidePair{hPair, vPair} {
		if pair.found >= 1 {
			tilts = append(tilts, pair.near.tiltDeg)
			weights = append(weights, pair.near.strength)
		}
		if pair.found == 2 {
			tilts = append(tilts, pair.far.tiltDeg)
			weights = append(weights, pair.far.strength)
		}
	}
	if len(tilts) == 0 {
		return 0
	}
	return stat.Mean(tilts, weights)
}

// --- Tier 3: joint restricted Radon fit ---

// tier3JointFit sweeps 9 discrete tilt angles, finds the best horizontal
// and vertical projection peak pairs independently per angle and scores
// candidate rectangles with aspect and centering priors.
func (d *LsdRadonDetector) tier3JointFit(grad *gradientField, width, height int) (*quad.Quad, float64) {
	angleStep := 2 * tier3AngleRangeDeg / float64(tier3AngleSteps-1)

	var bestQuad *quad.Quad
	bestScore := 0.0
	for a := 0; a < tier3AngleSteps; a++ {
		tilt := -tier3AngleRangeDeg + float64(a)*angleStep

		hPeaks := grad.projectionPeaks(true, tilt, 2)
		vPeaks := grad.projectionPeaks(false, tilt, 2)
		if len(hPeaks) < 2 || len(vPeaks) < 2 {
			continue
		}

		hPair := pairFromPeaks(hPeaks, tilt, float64(height))
		vPair := pairFromPeaks(vPeaks, tilt, float64(width))
		if hPair.found != 2 || vPair.found != 2 {
			continue
		}

		q, ok := rectangleFromPairs(hPair, vPair, width, height)
		if !ok {
			continue
		}

		strength := (hPair.near.strength + hPair.far.strength +
			vPair.near.strength + vPair.far.strength) / 4 / 255
		score := strength * aspectPrior(q) * centeringPrior(q, width, height)
		if score > bestScore {
			bestScore = score
			bestQuad = q
		}
	}

	if bestQuad == nil || !grad.densityCheck(bestQuad) {
		return nil, 0
	}
	return bestQuad, clampConfidence(0.40+0.50*bestScore, 0.40, 0.65)
}

func pairFromPeaks(peaks []sideLine, tilt, extent float64) sidePair {
	if len(peaks) < 2 {
		return sidePair{}
	}
	near, far := peaks[0], peaks[1]
	if near.offset > far.offset {
		near, far = far, near
	}
	if far.offset-near.offset < 0.25*extent {
		return sidePair{}
	}
	near.tiltDeg = tilt
	far.tiltDeg = tilt
	return sidePair{near: near, far: far, found: 2}
}

// aspectPrior favors rectangles near common document proportions. Loose on
// purpose: it disambiguates peak pairs, it does not enforce a format.
func aspectPrior(q *quad.Quad) float64 {
	sides := quad.SideLengths(*q)
	w := (sides[0] + sides[2]) / 2
	h := (sides[1] + sides[3]) / 2
	if w == 0 || h == 0 {
		return 0
	}
	ratio := w / h
	if ratio > 1 {
		ratio = 1 / ratio
	}
	// Peak at 1:sqrt(2); tolerant down to square-ish.
	diff := ratio - 1/math.Sqrt2
	return math.Exp(-diff * diff / (2 * 0.18 * 0.18))
}

func centeringPrior(q *quad.Quad, width, height int) float64 {
	c := quad.Center(*q)
	dx := (c.X - float64(width)/2) / float64(width)
	dy := (c.Y - float64(height)/2) / float64(height)
	dist := math.Hypot(dx, dy)
	return math.Exp(-dist * dist / (2 * 0.15 * 0.15))
}

// --- shared geometry ---

// rectangleFromPairs intersects the two horizontal and two vertical side
// lines into an ordered convex quad.
func rectangleFromPairs(hPair, vPair sidePair, width, height int) (*quad.Quad, bool) {
	if hPair.found != 2 || vPair.found != 2 {
		return nil, false
	}

	halfW := float64(width) / 2
	halfH := float64(height) / 2
	intersect := func(h, v sideLine) quad.Point {
		th := math.Tan(h.tiltDeg * math.Pi / 180)
		tv := math.Tan(v.tiltDeg * math.Pi / 180)
		denom := 1 - th*tv
		if math.Abs(denom) < 1e-9 {
			denom = 1e-9
		}
		y := (h.offset + th*(v.offset-tv*halfH-halfW)) / denom
		x := v.offset + tv*(y-halfH)
		return quad.Point{X: x, Y: y}
	}

	pts := []quad.Point{
		intersect(hPair.near, vPair.near),
		intersect(hPair.near, vPair.far),
		intersect(hPair.far, vPair.far),
		intersect(hPair.far, vPair.near),
	}
	for _, p := range pts {
		if p.X < -float64(width)*0.1 || p.X > float64(width)*1.1 ||
			p.Y < -float64(height)*0.1 || p.Y > float64(height)*1.1 {
			return nil, false
		}
	}

	q, ok := quad.Order(pts)
	if !ok || !quad.IsConvex(q) {
		return nil, false
	}
	return &q, true
}

func clampConfidence(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func grayFloat(gray gocv.Mat) []float64 {
	data := gray.ToBytes()
	buf := make([]float64, len(data))
	for i, v := range data {
		buf[i] = float64(v)
	}
	return buf
}

// --- gradient field ---

// gradientField caches per-axis absolute Sobel gradients for line
// integrals and density checks.
type gradientField struct {
	absGX, absGY  []byte
	width, height int
}

func newGradientField(gray gocv.Mat) *gradientField {
	gx := gocv.NewMat()
	defer gx.Close()
	sobelAbs(gray, &gx, 1, 0)

	gy := gocv.NewMat()
	defer gy.Close()
	sobelAbs(gray, &gy, 0, 1)

	return &gradientField{
		absGX:  gx.ToBytes(),
		absGY:  gy.ToBytes(),
		width:  gray.Cols(),
		height: gray.Rows(),
	}
}

// lineIntegral returns the mean perpendicular gradient along a tilted
// line at the given center-referenced offset. Horizontal lines integrate
// |Gy|, vertical lines |Gx|.
func (g *gradientField) lineIntegral(horizontal bool, tiltDeg, offset float64) float64 {
	tan := math.Tan(tiltDeg * math.Pi / 180)
	margin := 8

	sum := 0.0
	count := 0
	if horizontal {
		halfW := float64(g.width) / 2
		for x := margin; x < g.width-margin; x += 2 {
			y := int(math.Round(offset + tan*(float64(x)-halfW)))
			if y < 0 || y >= g.height {
				continue
			}
			sum += float64(g.absGY[y*g.width+x])
			count++
		}
	} else {
		halfH := float64(g.height) / 2
		for y := margin; y < g.height-margin; y += 2 {
			x := int(math.Round(offset + tan*(float64(y)-halfH)))
			if x < 0 || x >= g.width {
				continue
			}
			sum += float64(g.absGX[y*g.width+x])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// searchLine runs the coarse-to-fine 1-D search for one missing side,
// excluding the offsets already claimed by the known side of the pair.
func (g *gradientField) searchLine(horizontal bool, centerTilt, tiltRange float64, pair sidePair, extent float64) (sideLine, bool) {
	minSep := 0.25 * extent
	margin := 0.03 * extent

	allowed := func(offset float64) bool {
		if offset < margin || offset > extent-margin {
			return false
		}
		if pair.found >= 1 && math.Abs(offset-pair.near.offset) < minSep {
			return false
		}
		return true
	}

	// Coarse pass: 3-degree, 4-pixel grid.
	best := sideLine{strength: -1}
	for tilt := centerTilt - tiltRange; tilt <= centerTilt+tiltRange; tilt += 3 {
		for offset := margin; offset <= extent-margin; offset += 4 {
			if !allowed(offset) {
				continue
			}
			v := g.lineIntegral(horizontal, tilt, offset)
			if v > best.strength {
				best = sideLine{tiltDeg: tilt, offset: offset, strength: v}
			}
		}
	}
	if best.strength < minSideGradient {
		return sideLine{}, false
	}

	// Fine pass around the coarse peak.
	refined := best
	for tilt := best.tiltDeg - 2; tilt <= best.tiltDeg+2; tilt++ {
		for offset := best.offset - 4; offset <= best.offset+4; offset++ {
			if !allowed(offset) {
				continue
			}
			v := g.lineIntegral(horizontal, tilt, offset)
			if v > refined.strength {
				refined = sideLine{tiltDeg: tilt, offset: offset, strength: v}
			}
		}
	}
	return refined, true
}

// projectionPeaks scans all offsets at a fixed tilt and returns up to
// maxPeaks local maxima, strongest first, with non-maximum suppression.
func (g *gradientField) projectionPeaks(horizontal bool, tiltDeg float64, maxPeaks int) []sideLine {
	extent := g.height
	if !horizontal {
		extent = g.width
	}
	margin := int(0.03 * float64(extent))
	if margin < 4 {
		margin = 4
	}

	type peak struct {
		offset   int
		strength float64
	}
	var peaks []peak
	for offset := margin; offset < extent-margin; offset += 2 {
		v := g.lineIntegral(horizontal, tiltDeg, float64(offset))
		if v >= minSideGradient {
			peaks = append(peaks, peak{offset: offset, strength: v})
		}
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].strength > peaks[j].strength })

	suppression := int(0.15 * float64(extent))
	var out []sideLine
	for _, p := range peaks {
		tooClose := false
		for _, kept := range out {
			if math.Abs(float64(p.offset)-kept.offset) < float64(suppression) {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		out = append(out, sideLine{tiltDeg: tiltDeg, offset: float64(p.offset), strength: p.strength})
		if len(out) == maxPeaks {
			break
		}
	}
	return out
}

// densityCheck samples the perpendicular gradient along each candidate
// side; at least 3 of 4 sides must average the reference magnitude.
func (g *gradientField) densityCheck(q *quad.Quad) bool {
	const samples = 24

	supported := 0
	for side := 0; side < 4; side++ {
		a := (*q)[side]
		b := (*q)[(side+1)%4]
		dx := b.X - a.X
		dy := b.Y - a.Y

		grad := g.absGX
		if math.Abs(dx) > math.Abs(dy) {
			grad = g.absGY // horizontal side: perpendicular gradient is vertical
		}

		sum := 0.0
		count := 0
		for s := 0; s < samples; s++ {
			t := (float64(s) + 0.5) / samples
			x := int(math.Round(a.X + dx*t))
			y := int(math.Round(a.Y + dy*t))
			if x < 0 || x >= g.width || y < 0 || y >= g.height {
				continue
			}
			sum += float64(grad[y*g.width+x])
			count++
		}
		if count > 0 && sum/float64(count) >= minSideGradient {
			supported++
		}
	}
	return supported >= minSupportedSide
}
