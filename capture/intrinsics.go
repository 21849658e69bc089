package capture

// Intrinsics are the camera's pinhole parameters in capture-frame pixel
// units. They come from the platform's camera characteristics and may be
// unavailable, in which case the estimator falls back to the angular
// regime at reduced confidence.
type Intrinsics struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// Rotated adjusts the intrinsics for the sensor-to-capture-frame rotation.
// A 90 or 270 degree rotation swaps the axes.
func (k Intrinsics) Rotated(degrees int) Intrinsics {
	switch ((degrees % 360) + 360) % 360 {
	case 90, 270:
		return Intrinsics{Fx: k.Fy, Fy: k.Fx, Cx: k.Cy, Cy: k.Cx}
	}
	return k
}
