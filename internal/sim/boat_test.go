package sim

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/route"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
	"github.com/banshee-data/boatnav/internal/timeutil"
)

func send(b *Boat, tok string) {
	b.Receive(telemetry.EncodeFrame(telemetry.Frame{Channel: telemetry.ChannelCmd, Payload: []byte(tok)}))
}

func TestBoat_LinesDecode(t *testing.T) {
	t.Parallel()
	b := New(DefaultOptions())
	dec := telemetry.NewDecoder(telemetry.PowerFloat32)

	seen := map[telemetry.Channel]int{}
	for i := 0; i < 40; i++ {
		for _, line := range b.Lines() {
			ev, err := dec.Decode(line)
			require.NoError(t, err, line)
			seen[ev.Channel]++
		}
	}
	assert.Equal(t, 40, seen[telemetry.ChannelTelemetry])
	assert.Equal(t, 40, seen[telemetry.ChannelKalman])
	assert.Equal(t, 2, seen[telemetry.ChannelStatus])

	st, ok := dec.Status()
	require.True(t, ok)
	assert.True(t, st.GPSAvailable())
	assert.False(t, st.RCMode())
}

func TestBoat_Commands(t *testing.T) {
	t.Parallel()
	b := New(DefaultOptions())

	send(b, "f")
	send(b, "f")
	assert.Equal(t, estimator.Control{Left: 0.5, Right: 0.5}, b.Control())
	send(b, "l")
	assert.InDelta(t, 0.3, b.Control().Left, 1e-12)
	assert.InDelta(t, 0.7, b.Control().Right, 1e-12)
	send(b, "h")
	assert.Equal(t, estimator.Control{}, b.Control())
	for i := 0; i < 6; i++ {
		send(b, "b")
	}
	assert.Equal(t, estimator.Control{Left: -1, Right: -1}, b.Control(), "power clamps")

	send(b, "q")
	lines := b.Lines()
	var debug []string
	for _, l := range lines {
		if strings.HasPrefix(l, "debug:") {
			debug = append(debug, l)
		}
	}
	require.NotEmpty(t, debug)
	assert.Contains(t, debug[len(debug)-1], `unknown command "q"`)
}

func TestBoat_ToggleGPS(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.StatusEvery = 1
	b := New(opts)
	dec := telemetry.NewDecoder(telemetry.PowerFloat32)

	send(b, "k")
	for _, line := range b.Lines() {
		_, err := dec.Decode(line)
		require.NoError(t, err)
	}
	st, _ := dec.Status()
	assert.False(t, st.GPSAvailable())
	assert.False(t, dec.Observation(telemetry.Record{GPSX: 1}).GPS.Valid)

	send(b, "m")
	for _, line := range b.Lines() {
		_, err := dec.Decode(line)
		require.NoError(t, err)
	}
	st, _ = dec.Status()
	assert.True(t, st.RCMode())
}

func TestBoat_ReceiveRoute(t *testing.T) {
	t.Parallel()
	b := New(DefaultOptions())
	r := route.Route{{Lat: 51.5, Lng: -0.12}, {Lat: 51.51, Lng: -0.13}}
	data, err := r.Encode()
	require.NoError(t, err)

	b.Receive(telemetry.EncodeFrame(telemetry.Frame{Channel: telemetry.ChannelCoords, Payload: data}))
	assert.Equal(t, r, b.Route())

	b.Receive("coords:00")
	assert.Equal(t, r, b.Route(), "bad route keeps the previous one")
	b.Receive("garbage")
}

func TestBoat_DrivesForward(t *testing.T) {
	t.Parallel()
	b := New(DefaultOptions())
	send(b, "f")
	send(b, "f")
	for i := 0; i < 100; i++ {
		b.Lines()
	}
	truth := b.Truth()
	assert.Greater(t, truth.VY, 0.5, "heading 0 thrust moves north")
	assert.InDelta(t, 0, truth.X, 1e-9)
	assert.InDelta(t, 0, truth.Heading, 1e-9)
}

func TestBoat_Int32Power(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.Encoding = telemetry.PowerInt32
	b := New(opts)
	send(b, "f")

	dec := telemetry.NewDecoder(telemetry.PowerInt32)
	for _, line := range b.Lines() {
		ev, err := dec.Decode(line)
		require.NoError(t, err)
		if ev.Telemetry != nil {
			assert.Equal(t, 25.0, ev.Telemetry.PowerLeft)
		}
	}
}

// The ground-station filter fed by the simulator should track the truth.
func TestBoat_EstimatorTracksTruth(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.GPSNoise = 0.2
	b := New(opts)
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	dec := &telemetry.Decoder{Encoding: telemetry.PowerFloat32, Clock: clock}
	sess := session.New(estimator.New(estimator.DefaultConfig()), session.Options{})

	send(b, "f")
	send(b, "f")
	for i := 0; i < 300; i++ {
		clock.Advance(100 * time.Millisecond)
		for _, line := range b.Lines() {
			ev, err := dec.Decode(line)
			require.NoError(t, err)
			if ev.Telemetry == nil {
				continue
			}
			_, err = sess.Step(dec.Observation(*ev.Telemetry))
			require.NoError(t, err)
		}
	}

	truth, est := b.Truth(), sess.State()
	assert.Less(t, math.Hypot(truth.X-est.X, truth.Y-est.Y), 5.0,
		"truth (%.1f, %.1f) estimate (%.1f, %.1f)", truth.X, truth.Y, est.X, est.Y)
}
