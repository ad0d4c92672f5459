// Package route reads waypoint routes from GPX files and serialises them for
// the boat's coordinates channel.
package route

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

var (
	// ErrZeroWaypoint is returned by Encode for a waypoint at (0, 0), which
	// the firmware would read as the end of the route.
	ErrZeroWaypoint = errors.New("waypoint at (0, 0) collides with end marker")
	// ErrMalformed is returned by Decode for a byte stream that is not a
	// sequence of coordinate pairs ending in the end marker.
	ErrMalformed = errors.New("malformed route data")
)

// PointSize is the encoded size of one waypoint and of the end marker.
const PointSize = 16

var rteptRe = regexp.MustCompile(`<rtept lat="(.+?)" lon="(.+?)"`)

// Waypoint is a geodetic route point in degrees.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the waypoint as an orb point (lng, lat).
func (w Waypoint) Point() orb.Point {
	return orb.Point{w.Lng, w.Lat}
}

// Route is an ordered list of waypoints.
type Route []Waypoint

// ParseGPX extracts route points in document order.
func ParseGPX(r io.Reader) (Route, error) {
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read route: %w", err)
	}
	matches := rteptRe.FindAllSubmatch(text, -1)
	out := make(Route, 0, len(matches))
	for i, m := range matches {
		lat, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("rtept %d lat: %w", i, err)
		}
		lng, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("rtept %d lon: %w", i, err)
		}
		out = append(out, Waypoint{Lat: lat, Lng: lng})
	}
	return out, nil
}

// LoadFile reads and parses a GPX route file.
func LoadFile(path string) (Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open route: %w", err)
	}
	defer f.Close()
	return ParseGPX(f)
}

// Encode serialises the route as little-endian (lat, lng) float64 pairs
// followed by a (0, 0) end marker: 16·N + 16 bytes.
func (r Route) Encode() ([]byte, error) {
	buf := make([]byte, 0, PointSize*(len(r)+1))
	for i, w := range r {
		if w.Lat == 0 && w.Lng == 0 {
			return nil, fmt.Errorf("waypoint %d: %w", i, ErrZeroWaypoint)
		}
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(w.Lat))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(w.Lng))
	}
	buf = append(buf, make([]byte, PointSize)...)
	return buf, nil
}

// Decode is the inverse of Encode. Bytes after the end marker are ignored.
func Decode(data []byte) (Route, error) {
	if len(data)%PointSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformed, len(data), PointSize)
	}
	var out Route
	for off := 0; off < len(data); off += PointSize {
		lat := math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		lng := math.Float64frombits(binary.LittleEndian.Uint64(data[off+8:]))
		if lat == 0 && lng == 0 {
			return out, nil
		}
		out = append(out, Waypoint{Lat: lat, Lng: lng})
	}
	return nil, fmt.Errorf("%w: missing end marker", ErrMalformed)
}

// LineString returns the route as an orb line string.
func (r Route) LineString() orb.LineString {
	ls := make(orb.LineString, len(r))
	for i, w := range r {
		ls[i] = w.Point()
	}
	return ls
}

// Length returns the great-circle length of the route in metres.
func (r Route) Length() float64 {
	var total float64
	for i := 1; i < len(r); i++ {
		total += geo.DistanceHaversine(r[i-1].Point(), r[i].Point())
	}
	return total
}

// Bound returns the bounding box of the route.
func (r Route) Bound() orb.Bound {
	return r.LineString().Bound()
}
