package quad

import (
	"math"
)

// Point is a 2D point in frame coordinates. Subpixel precision is kept
// because optical flow and smoothing operate below pixel resolution.
type Point struct {
	X float64
	Y float64
}

// Quad is an ordered document quadrilateral: top-left, top-right,
// bottom-right, bottom-left.
type Quad [4]Point

const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// Order canonicalizes 4 arbitrary points into TL/TR/BR/BL order.
// TL has the minimum coordinate sum, BR the maximum; TR has the minimum
// y-x difference, BL the maximum.
func Order(pts []Point) (Quad, bool) {
	if len(pts) != 4 {
		return Quad{}, false
	}

	var q Quad
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)

	for _, p := range pts {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			q[TopLeft] = p
		}
		if sum > maxSum {
			maxSum = sum
			q[BottomRight] = p
		}
		if diff < minDiff {
			minDiff = diff
			q[TopRight] = p
		}
		if diff > maxDiff {
			maxDiff = diff
			q[BottomLeft] = p
		}
	}

	// Degenerate inputs can assign the same point to two slots.
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if q[i] == q[j] {
				return Quad{}, false
			}
		}
	}
	return q, true
}

// IsConvex reports whether the quad is convex and non-self-intersecting.
// Uses cross-product sign consistency over consecutive edges, so both
// clockwise and counter-clockwise windings are accepted. A bowtie ordering
// produces mixed signs and is rejected.
func IsConvex(q Quad) bool {
	sign := 0
	for i := 0; i < 4; i++ {
		a := q[i]
		b := q[(i+1)%4]
		c := q[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			return false
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// Area returns the shoelace-formula area of the quad. The absolute value
// makes the result independent of winding order.
func Area(q Quad) float64 {
	sum := 0.0
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(sum) / 2
}

// AverageCornerDistance returns the mean Euclidean distance between the
// corresponding corners of two ordered quads.
func AverageCornerDistance(a, b Quad) float64 {
	sum := 0.0
	for i := 0; i < 4; i++ {
		sum += Distance(a[i], b[i])
	}
	return sum / 4
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Perimeter returns the sum of the four side lengths.
func Perimeter(q Quad) float64 {
	sum := 0.0
	for i := 0; i < 4; i++ {
		sum += Distance(q[i], q[(i+1)%4])
	}
	return sum
}

// Diagonal returns the mean of the two diagonal lengths. Used as the
// reference scale for relative drift measurements.
func Diagonal(q Quad) float64 {
	d1 := Distance(q[TopLeft], q[BottomRight])
	d2 := Distance(q[TopRight], q[BottomLeft])
	return (d1 + d2) / 2
}

// Center returns the centroid of the four corners.
func Center(q Quad) Point {
	var c Point
	for _, p := range q {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= 4
	c.Y /= 4
	return c
}

// SideLengths returns the four side lengths in order top, right, bottom, left.
func SideLengths(q Quad) [4]float64 {
	var s [4]float64
	for i := 0; i < 4; i++ {
		s[i] = Distance(q[i], q[(i+1)%4])
	}
	return s
}

// CornerAngles returns the interior angle at each corner in degrees.
func CornerAngles(q Quad) [4]float64 {
	var angles [4]float64
	for i := 0; i < 4; i++ {
		prev := q[(i+3)%4]
		cur := q[i]
		next := q[(i+1)%4]

		v1x, v1y := prev.X-cur.X, prev.Y-cur.Y
		v2x, v2y := next.X-cur.X, next.Y-cur.Y

		dot := v1x*v2x + v1y*v2y
		n1 := math.Hypot(v1x, v1y)
		n2 := math.Hypot(v2x, v2y)
		if n1 == 0 || n2 == 0 {
			angles[i] = 0
			continue
		}
		cos := dot / (n1 * n2)
		cos = math.Max(-1, math.Min(1, cos))
		angles[i] = math.Acos(cos) * 180 / math.Pi
	}
	return angles
}

// MaxAngleDeviation returns the largest deviation of any interior corner
// angle from 90 degrees.
func MaxAngleDeviation(q Quad) float64 {
	maxDev := 0.0
	for _, a := range CornerAngles(q) {
		dev := math.Abs(a - 90)
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

// Translate returns the quad shifted by (dx, dy).
func Translate(q Quad, dx, dy float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// Scale returns the quad with both coordinates multiplied by the given
// factors. Used to map preview-resolution corners onto the capture frame.
func Scale(q Quad, sx, sy float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}

// Inset returns an axis-aligned quad inset from a w×h frame by the given
// fraction of each dimension. Used as the default manual-placement quad
// when no detection is available.
func Inset(w, h, frac float64) Quad {
	mx := w * frac
	my := h * frac
	return Quad{
		{X: mx, Y: my},
		{X: w - mx, Y: my},
		{X: w - mx, Y: h - my},
		{X: mx, Y: h - my},
	}
}

// Reverse returns the quad with its corners in reverse order. Primarily a
// test helper for winding-independence checks.
func Reverse(q Quad) Quad {
	return Quad{q[3], q[2], q[1], q[0]}
}
