// Package geo holds the planar geometry shared by the estimator: positions
// in the boat's local metric frame, distances and bearings between GPS fixes.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/boatnav/internal/units"
)

// Distance returns the Euclidean distance between two planar positions (metres).
func Distance(p1, p2 orb.Point) float64 {
	return planar.Distance(p1, p2)
}

// Bearing returns the course from p1 to p2 in degrees [0, 360), measured
// clockwise from the +y axis. The arguments to atan2 are swapped relative to
// the usual (dy, dx) form so that +y is 0° and +x is 90°, matching the
// on-board firmware's heading convention.
func Bearing(p1, p2 orb.Point) float64 {
	dx := p2.X() - p1.X()
	dy := p2.Y() - p1.Y()
	return units.Wrap360(units.RadToDeg(math.Atan2(dx, dy)))
}

// Fix is an optional GPS position. The zero value is "no fix".
type Fix struct {
	Point orb.Point
	Valid bool
}

// NewFix returns a valid fix at (x, y).
func NewFix(x, y float64) Fix {
	return Fix{Point: orb.Point{x, y}, Valid: true}
}

// NoFix returns the unset fix.
func NoFix() Fix {
	return Fix{}
}

// Equal reports whether two fixes are both unset or both set to exactly the
// same coordinates. Exact comparison is intentional: receivers repeat the
// previous fix verbatim between position updates.
func (f Fix) Equal(other Fix) bool {
	if f.Valid != other.Valid {
		return false
	}
	if !f.Valid {
		return true
	}
	return f.Point.Equal(other.Point)
}

// IsFinite reports whether an unset fix, or a set fix with finite coordinates.
func (f Fix) IsFinite() bool {
	if !f.Valid {
		return true
	}
	return !math.IsNaN(f.Point.X()) && !math.IsInf(f.Point.X(), 0) &&
		!math.IsNaN(f.Point.Y()) && !math.IsInf(f.Point.Y(), 0)
}

func (f Fix) String() string {
	if !f.Valid {
		return "Fix(none)"
	}
	return fmt.Sprintf("Fix(%g, %g)", f.Point.X(), f.Point.Y())
}
