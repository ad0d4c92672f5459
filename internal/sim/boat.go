// Package sim is a simulated boat for running the ground station without
// hardware. It speaks the same line protocol as the real firmware.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/route"
	"github.com/banshee-data/boatnav/internal/telemetry"
)

const (
	powerStep = 0.25
	turnStep  = 0.2
)

type Options struct {
	Params   estimator.Params
	Dt       float64 // seconds per tick
	GPSEvery int     // ticks between GPS fixes
	// StatusEvery is the number of ticks between status words.
	StatusEvery int
	Encoding    telemetry.PowerEncoding

	Origin   orb.Point // lng, lat of the local frame origin
	GPSNoise float64   // metres, 1σ
	GyroBias float64   // deg/s
	Seed     uint64
}

func DefaultOptions() Options {
	return Options{
		Params:      estimator.DefaultConfig().Params,
		Dt:          0.1,
		GPSEvery:    10,
		StatusEvery: 20,
		Encoding:    telemetry.PowerFloat32,
		Origin:      orb.Point{-0.1276, 51.5072},
		GPSNoise:    1.0,
		GyroBias:    0.2,
		Seed:        1,
	}
}

// Boat is the simulated vehicle. Its truth evolves with the same motion
// model the estimator uses, so a well-tuned filter should track it.
type Boat struct {
	mu    sync.Mutex
	opts  Options
	truth *estimator.Estimator
	gpsN  distuv.Normal
	gyroN distuv.Normal

	control estimator.Control
	tick    int
	gps     orb.Point
	status  telemetry.Status
	route   route.Route
	pending []string
}

func New(opts Options) *Boat {
	if opts.Dt <= 0 {
		opts.Dt = 0.1
	}
	if opts.GPSEvery <= 0 {
		opts.GPSEvery = 1
	}
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = 1
	}
	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	cfg := estimator.DefaultConfig()
	cfg.Params = opts.Params
	return &Boat{
		opts:   opts,
		truth:  estimator.New(cfg),
		gpsN:   distuv.Normal{Mu: 0, Sigma: opts.GPSNoise, Src: src},
		gyroN:  distuv.Normal{Mu: opts.GyroBias, Sigma: math.Sqrt(opts.Params.GyroNoise), Src: src},
		status: telemetry.StatusGPSAvailable | telemetry.StatusInitialised | telemetry.StatusRCAvailable,
	}
}

// Lines advances one tick and returns the frames the boat sends.
func (b *Boat) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.truth.Predict(b.control, b.opts.Dt); err != nil {
		monitoring.Logf("sim: predict: %v", err)
	}
	st := b.truth.State()

	lines := b.pending
	b.pending = nil

	if b.tick%b.opts.StatusEvery == 0 {
		lines = append(lines, frame(telemetry.ChannelStatus, telemetry.EncodeStatus(b.status)))
	}
	if b.status.GPSAvailable() && b.tick%b.opts.GPSEvery == 0 {
		b.gps = orb.Point{st.X + b.gpsN.Rand(), st.Y + b.gpsN.Rand()}
	}

	gyro := st.HeadingRate + b.gyroN.Rand()
	if b.opts.Params.InvertGyro {
		gyro = -gyro
	}
	left, right := b.control.Left, b.control.Right
	if b.opts.Encoding == telemetry.PowerInt32 {
		// Integer firmware reports percent.
		left, right = math.Round(left*100), math.Round(right*100)
	}
	ll := b.latLng(b.gps)
	rec := telemetry.Record{
		GPSX:       b.gps.X(),
		GPSY:       b.gps.Y(),
		Lat:        ll.Lat(),
		Lng:        ll.Lon(),
		PowerLeft:  left,
		PowerRight: right,
		GyroZ:      gyro,
	}
	lines = append(lines, frame(telemetry.ChannelTelemetry, telemetry.EncodeTelemetry(rec, b.opts.Encoding)))
	lines = append(lines, frame(telemetry.ChannelKalman, telemetry.EncodeKalmanState(telemetry.OnboardState{
		X: st.X, Y: st.Y, VX: st.VX, VY: st.VY, Heading: st.Heading, HeadingRate: st.HeadingRate,
	})))

	b.tick++
	return lines
}

// latLng maps a local (east, north) offset onto the origin.
func (b *Boat) latLng(p orb.Point) orb.Point {
	dist := math.Hypot(p.X(), p.Y())
	if dist == 0 {
		return b.opts.Origin
	}
	bearing := math.Atan2(p.X(), p.Y()) * 180 / math.Pi
	return geo.PointAtBearingAndDistance(b.opts.Origin, bearing, dist)
}

// Receive handles one line from the ground station. Motion tokens:
// f/b change both motors, l/r steer, h halts, k toggles GPS (to exercise
// gyro-only updates) and m toggles RC mode.
func (b *Boat) Receive(line string) {
	f, err := telemetry.ParseFrame(line)
	if err != nil {
		monitoring.Logf("sim: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch f.Channel {
	case telemetry.ChannelCmd:
		b.command(string(f.Payload))
	case telemetry.ChannelCoords:
		r, err := route.Decode(f.Payload)
		if err != nil {
			b.debugf("bad route: %v", err)
			return
		}
		b.route = r
		b.debugf("route received: %d waypoints", len(r))
	default:
		b.debugf("ignored %s frame", f.Channel)
	}
}

func (b *Boat) command(tok string) {
	c := &b.control
	switch tok {
	case "f":
		c.Left, c.Right = clamp(c.Left+powerStep), clamp(c.Right+powerStep)
	case "b":
		c.Left, c.Right = clamp(c.Left-powerStep), clamp(c.Right-powerStep)
	case "l":
		c.Left, c.Right = clamp(c.Left-turnStep), clamp(c.Right+turnStep)
	case "r":
		c.Left, c.Right = clamp(c.Left+turnStep), clamp(c.Right-turnStep)
	case "h":
		c.Left, c.Right = 0, 0
	case "k":
		b.status ^= telemetry.StatusGPSAvailable
	case "m":
		b.status ^= telemetry.StatusRCMode
	default:
		b.debugf("unknown command %q", tok)
		return
	}
	b.debugf("ack %s power=(%.2f, %.2f) status=%s", tok, c.Left, c.Right, b.status)
}

func (b *Boat) debugf(format string, args ...any) {
	b.pending = append(b.pending, telemetry.EncodeFrame(telemetry.Frame{
		Channel: telemetry.ChannelDebug,
		Payload: []byte(fmt.Sprintf(format, args...)),
	}))
}

// Truth returns the simulated vehicle's actual state.
func (b *Boat) Truth() estimator.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truth.State()
}

func (b *Boat) Control() estimator.Control {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control
}

// Route returns the last route the boat accepted.
func (b *Boat) Route() route.Route {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append(route.Route(nil), b.route...)
}

func frame(ch telemetry.Channel, payload []byte) string {
	return telemetry.EncodeFrame(telemetry.Frame{Channel: ch, Payload: payload})
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
