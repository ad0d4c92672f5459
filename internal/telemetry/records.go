package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrPayloadLength is returned when a binary record has the wrong size.
var ErrPayloadLength = errors.New("unexpected payload length")

// Payload sizes.
const (
	KalmanStateSize = 6 * 4         // six float32
	TelemetrySize   = 4*8 + 2*4 + 4 // four float64, two power values, one float32
	StatusSize      = 4
)

// PowerEncoding selects how the two motor power fields of a telemetry
// record are encoded. Firmware revisions differ.
type PowerEncoding string

const (
	PowerFloat32 PowerEncoding = "float32"
	PowerInt32   PowerEncoding = "int32"
)

// OnboardState is the estimate computed by the boat's own filter.
type OnboardState struct {
	Timestamp   float64
	X           float64
	Y           float64
	VX          float64
	VY          float64
	Heading     float64
	HeadingRate float64
}

// Fields returns the record as a flat map using the recording field names.
func (s OnboardState) Fields() map[string]float64 {
	return map[string]float64{
		"timestamp": s.Timestamp,
		"x":         s.X,
		"y":         s.Y,
		"dx":        s.VX,
		"dy":        s.VY,
		"heading":   s.Heading,
		"d_heading": s.HeadingRate,
	}
}

// Record is one full telemetry push.
type Record struct {
	Timestamp  float64
	GPSX       float64 // local frame, metres
	GPSY       float64
	Lat        float64
	Lng        float64
	PowerLeft  float64
	PowerRight float64
	GyroZ      float64 // deg/s
}

// Fields returns the record as a flat map using the recording field names.
func (r Record) Fields() map[string]float64 {
	return map[string]float64{
		"timestamp":  r.Timestamp,
		"gpsX":       r.GPSX,
		"gpsY":       r.GPSY,
		"lat":        r.Lat,
		"lng":        r.Lng,
		"powerLeft":  r.PowerLeft,
		"powerRight": r.PowerRight,
		"rz":         r.GyroZ,
	}
}

// Status is the firmware status bitfield.
type Status uint32

const (
	StatusGPSAvailable Status = 1 << iota
	StatusRCAvailable
	StatusInitialised
	StatusRCMode
)

func (s Status) GPSAvailable() bool { return s&StatusGPSAvailable != 0 }
func (s Status) RCAvailable() bool  { return s&StatusRCAvailable != 0 }
func (s Status) Initialised() bool  { return s&StatusInitialised != 0 }
func (s Status) RCMode() bool       { return s&StatusRCMode != 0 }

func (s Status) String() string {
	var parts []string
	if s.GPSAvailable() {
		parts = append(parts, "gps")
	}
	if s.RCAvailable() {
		parts = append(parts, "rc")
	}
	if s.Initialised() {
		parts = append(parts, "init")
	}
	if s.RCMode() {
		parts = append(parts, "rc_mode")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func checkLen(ch Channel, payload []byte, want int) error {
	if len(payload) != want {
		return fmt.Errorf("%s: %w: got %d bytes, want %d", ch, ErrPayloadLength, len(payload), want)
	}
	return nil
}

func f32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// DecodeKalmanState decodes a 24-byte on-board estimate push.
func DecodeKalmanState(payload []byte, timestamp float64) (OnboardState, error) {
	if err := checkLen(ChannelKalman, payload, KalmanStateSize); err != nil {
		return OnboardState{}, err
	}
	return OnboardState{
		Timestamp:   timestamp,
		X:           f32(payload[0:]),
		Y:           f32(payload[4:]),
		VX:          f32(payload[8:]),
		VY:          f32(payload[12:]),
		Heading:     f32(payload[16:]),
		HeadingRate: f32(payload[20:]),
	}, nil
}

// DecodeTelemetry decodes a 44-byte telemetry push.
func DecodeTelemetry(payload []byte, timestamp float64, enc PowerEncoding) (Record, error) {
	if err := checkLen(ChannelTelemetry, payload, TelemetrySize); err != nil {
		return Record{}, err
	}
	r := Record{
		Timestamp: timestamp,
		GPSX:      f64(payload[0:]),
		GPSY:      f64(payload[8:]),
		Lat:       f64(payload[16:]),
		Lng:       f64(payload[24:]),
		GyroZ:     f32(payload[40:]),
	}
	switch enc {
	case PowerInt32:
		r.PowerLeft = float64(int32(binary.LittleEndian.Uint32(payload[32:])))
		r.PowerRight = float64(int32(binary.LittleEndian.Uint32(payload[36:])))
	case PowerFloat32, "":
		r.PowerLeft = f32(payload[32:])
		r.PowerRight = f32(payload[36:])
	default:
		return Record{}, fmt.Errorf("unknown power encoding %q", enc)
	}
	return r, nil
}

// DecodeStatus decodes a 4-byte status push.
func DecodeStatus(payload []byte) (Status, error) {
	if err := checkLen(ChannelStatus, payload, StatusSize); err != nil {
		return 0, err
	}
	return Status(binary.LittleEndian.Uint32(payload)), nil
}

// EncodeTelemetry is the inverse of DecodeTelemetry. The timestamp is not
// part of the wire format.
func EncodeTelemetry(r Record, enc PowerEncoding) []byte {
	b := make([]byte, TelemetrySize)
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(r.GPSX))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(r.GPSY))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(r.Lat))
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(r.Lng))
	if enc == PowerInt32 {
		binary.LittleEndian.PutUint32(b[32:], uint32(int32(r.PowerLeft)))
		binary.LittleEndian.PutUint32(b[36:], uint32(int32(r.PowerRight)))
	} else {
		binary.LittleEndian.PutUint32(b[32:], math.Float32bits(float32(r.PowerLeft)))
		binary.LittleEndian.PutUint32(b[36:], math.Float32bits(float32(r.PowerRight)))
	}
	binary.LittleEndian.PutUint32(b[40:], math.Float32bits(float32(r.GyroZ)))
	return b
}

// EncodeKalmanState is the inverse of DecodeKalmanState.
func EncodeKalmanState(s OnboardState) []byte {
	b := make([]byte, KalmanStateSize)
	for i, v := range []float64{s.X, s.Y, s.VX, s.VY, s.Heading, s.HeadingRate} {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
	}
	return b
}

// EncodeStatus is the inverse of DecodeStatus.
func EncodeStatus(s Status) []byte {
	b := make([]byte, StatusSize)
	binary.LittleEndian.PutUint32(b, uint32(s))
	return b
}
