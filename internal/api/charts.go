package api

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/boatnav/internal/httputil"
	"github.com/banshee-data/boatnav/internal/session"
)

const defaultMaxPoints = 5000

// maxPoints reads the optional max_points query parameter.
func maxPoints(r *http.Request) int {
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v >= 100 && v <= 50000 {
			return v
		}
	}
	return defaultMaxPoints
}

// stride returns the step that keeps n samples within limit.
func stride(n, limit int) int {
	if n <= limit {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(limit)))
}

// trackChart renders the estimated track with the GPS fixes over it.
func (s *Server) trackChart(w http.ResponseWriter, r *http.Request) {
	history := s.sess.History()
	if len(history) == 0 {
		httputil.NotFound(w, "no estimates yet")
		return
	}
	step := stride(len(history), maxPoints(r))

	est := make([]opts.ScatterData, 0, len(history)/step+1)
	maxAbs := 0.0
	for i := 0; i < len(history); i += step {
		st := history[i].State
		est = append(est, opts.ScatterData{Value: []interface{}{st.X, st.Y}})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(st.X), math.Abs(st.Y)))
	}

	var gps []opts.ScatterData
	for _, o := range s.sess.Observations() {
		if o.GPS.Valid {
			x, y := o.GPS.Point.X(), o.GPS.Point.Y()
			gps = append(gps, opts.ScatterData{Value: []interface{}{x, y}})
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		}
	}

	// Square plot with symmetric axes so the track is not distorted.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Boat track", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Estimated track", Subtitle: fmt.Sprintf("steps=%d points=%d stride=%d gps=%d", len(history), len(est), step, len(gps))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	if len(gps) > 0 {
		scatter.AddSeries("gps", gps, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	s.renderChart(w, scatter)
}

// headingChart renders heading and heading rate against time.
func (s *Server) headingChart(w http.ResponseWriter, r *http.Request) {
	history := s.sess.History()
	if len(history) == 0 {
		httputil.NotFound(w, "no estimates yet")
		return
	}
	step := stride(len(history), maxPoints(r))

	var (
		xs      []string
		heading []opts.LineData
		rate    []opts.LineData
		course  []opts.LineData
	)
	for i := 0; i < len(history); i += step {
		h := history[i]
		xs = append(xs, strconv.FormatFloat(h.Timestamp, 'f', 2, 64))
		heading = append(heading, opts.LineData{Value: h.State.Heading})
		rate = append(rate, opts.LineData{Value: h.State.HeadingRate})
		course = append(course, courseData(h))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Boat heading", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heading", Subtitle: fmt.Sprintf("steps=%d stride=%d", len(history), step)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg, deg/s", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xs).
		AddSeries("heading", heading, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("heading rate", rate, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("gps course", course, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(false)}))

	s.renderChart(w, line)
}

// courseData is the GPS course for corrected steps and a gap otherwise.
func courseData(h session.StepRecord) opts.LineData {
	if !h.GPSUsed {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: h.Course}
}

type renderer interface {
	Render(w io.Writer) error
}

func (s *Server) renderChart(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

const dashboardHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>Boat charts</title>
<style>body{background:#111;color:#ddd;font-family:sans-serif;margin:0}iframe{border:0}</style>
</head><body>
<h3 style="margin:8px">Boat estimator (%d steps)</h3>
<iframe src="/charts/track" width="920" height="920"></iframe>
<iframe src="/charts/heading" width="1220" height="620"></iframe>
</body></html>`

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/charts/" {
		httputil.NotFound(w, "no such chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, dashboardHTML, s.sess.Len())
}
