package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/units"
)

// Summary aggregates a run's history.
type Summary struct {
	Steps           int
	GPSUsed         int
	Skipped         int
	Duration        float64 // seconds
	TrackLength     float64 // metres along the estimated path
	MaxSpeed        float64 // m/s
	MeanCourseError float64 // mean |heading − course| over GPS corrections, deg
	Final           session.StepRecord
	HasFinal        bool
}

func Summarise(steps []session.StepRecord) Summary {
	var s Summary
	s.Steps = len(steps)
	if len(steps) == 0 {
		return s
	}
	s.Final, s.HasFinal = steps[len(steps)-1], true
	s.Duration = steps[len(steps)-1].Timestamp - steps[0].Timestamp

	path := make(orb.LineString, 0, len(steps))
	var courseErr float64
	for _, st := range steps {
		path = append(path, orb.Point{st.State.X, st.State.Y})
		s.MaxSpeed = math.Max(s.MaxSpeed, st.State.Speed())
		if st.CorrectionSkipped {
			s.Skipped++
		}
		if st.GPSUsed {
			s.GPSUsed++
			courseErr += math.Abs(units.Wrap180(st.State.Heading - st.Course))
		}
	}
	s.TrackLength = planar.Length(path)
	if s.GPSUsed > 0 {
		s.MeanCourseError = courseErr / float64(s.GPSUsed)
	}
	return s
}

// Write prints the summary as an aligned table. speedUnits is one of
// units.ValidUnits.
func (s Summary) Write(w io.Writer, speedUnits string) error {
	if !units.IsValid(speedUnits) {
		return fmt.Errorf("invalid speed units %q (valid: %s)", speedUnits, units.GetValidUnitsString())
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "steps\t%d\n", s.Steps)
	fmt.Fprintf(tw, "gps corrections\t%d\n", s.GPSUsed)
	fmt.Fprintf(tw, "skipped corrections\t%d\n", s.Skipped)
	fmt.Fprintf(tw, "duration\t%.1f s\n", s.Duration)
	fmt.Fprintf(tw, "track length\t%.1f m\n", s.TrackLength)
	fmt.Fprintf(tw, "max speed\t%.2f %s\n", units.ConvertSpeed(s.MaxSpeed, speedUnits), speedUnits)
	fmt.Fprintf(tw, "mean course error\t%.1f deg\n", s.MeanCourseError)
	if s.HasFinal {
		st := s.Final.State
		fmt.Fprintf(tw, "final position\t(%.2f, %.2f) m\n", st.X, st.Y)
		fmt.Fprintf(tw, "final heading\t%.1f deg\n", st.Heading)
		fmt.Fprintf(tw, "final rate\t%.2f deg/s\n", st.HeadingRate)
		fmt.Fprintf(tw, "final speed\t%.2f %s\n", units.ConvertSpeed(st.Speed(), speedUnits), speedUnits)
	}
	return tw.Flush()
}
