// Package report renders estimator runs as PNG charts and text summaries.
package report

import (
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
)

var ErrNoData = errors.New("report: nothing to plot")

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// Input is everything known about one run.
type Input struct {
	Steps        []session.StepRecord
	Observations []session.Observation
	Onboard      []telemetry.OnboardState
}

// RenderHistory writes <prefix>_track.png, <prefix>_heading.png and
// <prefix>_rate.png to dir and returns their paths.
func RenderHistory(dir, prefix string, in Input) ([]string, error) {
	if len(in.Steps) == 0 {
		return nil, ErrNoData
	}

	track := newPlot("Track", "x (m)", "y (m)")
	track.Add(plotter.NewGrid())
	if err := addLine(track, 0, "estimate", trackXYs(in.Steps)); err != nil {
		return nil, err
	}
	if len(in.Onboard) > 0 {
		if err := addLine(track, 1, "onboard", onboardTrackXYs(in.Onboard)); err != nil {
			return nil, err
		}
	}
	if gps := gpsXYs(in.Observations); len(gps) > 0 {
		sc, err := plotter.NewScatter(gps)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = plotutil.Color(2)
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Radius = vg.Points(2)
		track.Add(sc)
		track.Legend.Add("gps", sc)
	}
	// Equal scales so turns look like turns.
	equalAxes(track)

	heading := newPlot("Heading", "time (s)", "heading (deg)")
	heading.Y.Min, heading.Y.Max = 0, 360
	if err := addLine(heading, 0, "estimate", stepXYs(in.Steps, func(s session.StepRecord) float64 { return s.State.Heading })); err != nil {
		return nil, err
	}
	if len(in.Onboard) > 0 {
		if err := addLine(heading, 1, "onboard", onboardXYs(in.Onboard, func(s telemetry.OnboardState) float64 { return s.Heading })); err != nil {
			return nil, err
		}
	}
	if err := addCourse(heading, in.Steps); err != nil {
		return nil, err
	}

	rate := newPlot("Heading rate", "time (s)", "rate (deg/s)")
	if err := addLine(rate, 0, "estimate", stepXYs(in.Steps, func(s session.StepRecord) float64 { return s.State.HeadingRate })); err != nil {
		return nil, err
	}
	if len(in.Observations) > 0 {
		if err := addLine(rate, 2, "gyro", observationXYs(in.Observations)); err != nil {
			return nil, err
		}
	}

	return savePlots(dir, prefix, map[string]*plot.Plot{
		"track":   track,
		"heading": heading,
		"rate":    rate,
	}, "track", "heading", "rate")
}

// RenderComparison writes before/after track and heading charts for a
// tuning change.
func RenderComparison(dir, prefix string, cmp session.Comparison) ([]string, error) {
	if len(cmp.Before) == 0 && len(cmp.After) == 0 {
		return nil, ErrNoData
	}
	title := "Tuning"
	for _, c := range cmp.Changes {
		title += fmt.Sprintf(" %s %g→%g", c.Param, c.Before, c.After)
	}

	track := newPlot(title+": track", "x (m)", "y (m)")
	track.Add(plotter.NewGrid())
	heading := newPlot(title+": heading", "time (s)", "heading (deg)")
	heading.Y.Min, heading.Y.Max = 0, 360

	for i, run := range []struct {
		label string
		steps []session.StepRecord
	}{{"before", cmp.Before}, {"after", cmp.After}} {
		if len(run.steps) == 0 {
			continue
		}
		if err := addLine(track, i, run.label, trackXYs(run.steps)); err != nil {
			return nil, err
		}
		if err := addLine(heading, i, run.label, stepXYs(run.steps, func(s session.StepRecord) float64 { return s.State.Heading })); err != nil {
			return nil, err
		}
	}
	equalAxes(track)

	return savePlots(dir, prefix, map[string]*plot.Plot{
		"compare_track":   track,
		"compare_heading": heading,
	}, "compare_track", "compare_heading")
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func addLine(p *plot.Plot, colour int, label string, pts plotter.XYs) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	l.Color = plotutil.Color(colour)
	l.Dashes = plotutil.Dashes(colour)
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(label, l)
	return nil
}

// addCourse marks the GPS course measurements the filter actually used.
func addCourse(p *plot.Plot, steps []session.StepRecord) error {
	var pts plotter.XYs
	for _, s := range steps {
		if s.GPSUsed {
			pts = append(pts, plotter.XY{X: s.Timestamp, Y: s.Course})
		}
	}
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = plotutil.Color(2)
	sc.GlyphStyle.Radius = vg.Points(2)
	p.Add(sc)
	p.Legend.Add("gps course", sc)
	return nil
}

func equalAxes(p *plot.Plot) {
	w := p.X.Max - p.X.Min
	h := p.Y.Max - p.Y.Min
	aspect := float64(plotWidth / plotHeight)
	switch {
	case w <= 0 || h <= 0:
		return
	case w/h < aspect:
		pad := (h*aspect - w) / 2
		p.X.Min -= pad
		p.X.Max += pad
	default:
		pad := (w/aspect - h) / 2
		p.Y.Min -= pad
		p.Y.Max += pad
	}
}

func savePlots(dir, prefix string, plots map[string]*plot.Plot, order ...string) ([]string, error) {
	var paths []string
	for _, name := range order {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, name))
		if err := plots[name].Save(plotWidth, plotHeight, path); err != nil {
			return paths, fmt.Errorf("save %s plot: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func trackXYs(steps []session.StepRecord) plotter.XYs {
	pts := make(plotter.XYs, 0, len(steps))
	for _, s := range steps {
		pts = append(pts, plotter.XY{X: s.State.X, Y: s.State.Y})
	}
	return pts
}

func onboardTrackXYs(states []telemetry.OnboardState) plotter.XYs {
	pts := make(plotter.XYs, 0, len(states))
	for _, s := range states {
		pts = append(pts, plotter.XY{X: s.X, Y: s.Y})
	}
	return pts
}

func gpsXYs(obs []session.Observation) plotter.XYs {
	var pts plotter.XYs
	for _, o := range obs {
		if o.GPS.Valid {
			pts = append(pts, plotter.XY{X: o.GPS.Point.X(), Y: o.GPS.Point.Y()})
		}
	}
	return pts
}

func stepXYs(steps []session.StepRecord, y func(session.StepRecord) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(steps))
	for _, s := range steps {
		pts = append(pts, plotter.XY{X: s.Timestamp, Y: y(s)})
	}
	return pts
}

func onboardXYs(states []telemetry.OnboardState, y func(telemetry.OnboardState) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(states))
	for _, s := range states {
		pts = append(pts, plotter.XY{X: s.Timestamp, Y: y(s)})
	}
	return pts
}

func observationXYs(obs []session.Observation) plotter.XYs {
	pts := make(plotter.XYs, 0, len(obs))
	for _, o := range obs {
		pts = append(pts, plotter.XY{X: o.Timestamp, Y: o.Gyro})
	}
	return pts
}
