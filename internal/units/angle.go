package units

import "math"

// Wrap360 folds an absolute heading into [0, 360). Only a single revolution
// is corrected, so inputs must already lie in [-360, 720).
func Wrap360(angle float64) float64 {
	if angle < 0 {
		angle += 360
	} else if angle >= 360 {
		angle -= 360
	}
	return angle
}

// Wrap180 folds a heading residual into (-180, 180]. Like Wrap360 it applies
// one correction only.
func Wrap180(angle float64) float64 {
	if angle > 180 {
		angle -= 360
	} else if angle <= -180 {
		angle += 360
	}
	return angle
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
