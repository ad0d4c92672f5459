// Package units provides angle normalisation and the speed units used when
// presenting estimates to an operator.
package units

import "math"

// Speed unit constants
const (
	MPS   = "mps"
	KNOTS = "knots"
	KMPH  = "kmph"
	KPH   = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, KNOTS, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, knots, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Estimates are always held in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case KNOTS:
		return speedMPS * 1.9438444924406
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Speed returns the magnitude of a planar velocity.
func Speed(vx, vy float64) float64 {
	return math.Hypot(vx, vy)
}
