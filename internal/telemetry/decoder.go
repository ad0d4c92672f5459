package telemetry

import (
	"fmt"
	"sync"

	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/timeutil"
)

// Event is one decoded frame. Exactly one of the pointer fields is set,
// or Debug for text channels.
type Event struct {
	Channel   Channel
	Telemetry *Record
	Onboard   *OnboardState
	Status    *Status
	Debug     string
}

// Decoder turns link lines into events, stamping binary records with the
// receive time and tracking the latest status word. Status may be called
// while another goroutine is decoding.
type Decoder struct {
	Encoding PowerEncoding
	Clock    timeutil.Clock

	mu         sync.RWMutex
	status     Status
	statusSeen bool
	// resetFix is set when the GPS drops out and cleared by the next
	// Observation.
	resetFix bool
}

// NewDecoder returns a Decoder using the real clock.
func NewDecoder(enc PowerEncoding) *Decoder {
	return &Decoder{Encoding: enc, Clock: timeutil.RealClock{}}
}

// Decode parses one line. A decode error affects that line only.
func (d *Decoder) Decode(line string) (Event, error) {
	f, err := ParseFrame(line)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Channel: f.Channel}
	ts := timeutil.Seconds(d.Clock.Now())

	switch f.Channel {
	case ChannelTelemetry:
		r, err := DecodeTelemetry(f.Payload, ts, d.Encoding)
		if err != nil {
			return Event{}, err
		}
		ev.Telemetry = &r
	case ChannelKalman:
		s, err := DecodeKalmanState(f.Payload, ts)
		if err != nil {
			return Event{}, err
		}
		ev.Onboard = &s
	case ChannelStatus:
		st, err := DecodeStatus(f.Payload)
		if err != nil {
			return Event{}, err
		}
		d.setStatus(st)
		ev.Status = &st
	case ChannelDebug:
		ev.Debug = string(f.Payload)
	default:
		return Event{}, fmt.Errorf("%w: unexpected inbound channel %s", ErrBadFrame, f.Channel)
	}
	return ev, nil
}

func (d *Decoder) setStatus(st Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.gpsAvailable()
	d.status = st
	d.statusSeen = true
	if had && !d.gpsAvailable() {
		d.resetFix = true
	}
}

// Status returns the latest status word and whether one has been received.
func (d *Decoder) Status() (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status, d.statusSeen
}

// Observation converts a telemetry record using the decoder's latest status.
// The first observation after a GPS dropout carries ResetFix.
func (d *Decoder) Observation(r Record) session.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	obs := ToObservation(r, d.gpsAvailable())
	obs.ResetFix = d.resetFix
	d.resetFix = false
	return obs
}

// gpsAvailable must be called with mu held.
func (d *Decoder) gpsAvailable() bool {
	// Before the first status word the GPS fields are trusted as-is.
	return !d.statusSeen || d.status.GPSAvailable()
}

// ToObservation converts a telemetry record to a session observation. When
// gpsAvailable is false the position fields are ignored.
func ToObservation(r Record, gpsAvailable bool) session.Observation {
	obs := session.Observation{
		Timestamp: r.Timestamp,
		Gyro:      r.GyroZ,
		Control:   estimator.Control{Left: r.PowerLeft, Right: r.PowerRight},
	}
	if gpsAvailable {
		obs.GPS = geo.NewFix(r.GPSX, r.GPSY)
	}
	return obs
}

// Observations converts a whole recording, trusting every GPS field.
func Observations(records []Record) []session.Observation {
	out := make([]session.Observation, len(records))
	for i, r := range records {
		out[i] = ToObservation(r, true)
	}
	return out
}
