package route

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGPX = `<?xml version="1.0"?>
<gpx version="1.1">
  <rte>
    <rtept lat="51.50100" lon="-0.12400"><name>A</name></rtept>
    <rtept lat="51.50200" lon="-0.12300"></rtept>
    <rtept lat="51.50300" lon="-0.12200"/>
  </rte>
</gpx>`

func TestParseGPX(t *testing.T) {
	t.Parallel()
	r, err := ParseGPX(strings.NewReader(sampleGPX))
	require.NoError(t, err)
	assert.Equal(t, Route{
		{Lat: 51.501, Lng: -0.124},
		{Lat: 51.502, Lng: -0.123},
		{Lat: 51.503, Lng: -0.122},
	}, r)

	_, err = ParseGPX(strings.NewReader(`<rtept lat="north" lon="1">`))
	assert.Error(t, err)

	empty, err := ParseGPX(strings.NewReader("<gpx/>"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncode_LengthAndEndMarker(t *testing.T) {
	t.Parallel()
	for n := 0; n < 5; n++ {
		var r Route
		for i := 0; i < n; i++ {
			r = append(r, Waypoint{Lat: 50 + float64(i), Lng: 1 + float64(i)})
		}
		data, err := r.Encode()
		require.NoError(t, err)
		require.Len(t, data, 16*n+16)

		tail := data[len(data)-16:]
		assert.Equal(t, 0.0, math.Float64frombits(binary.LittleEndian.Uint64(tail[0:])))
		assert.Equal(t, 0.0, math.Float64frombits(binary.LittleEndian.Uint64(tail[8:])))

		if n > 0 {
			assert.Equal(t, 50.0, math.Float64frombits(binary.LittleEndian.Uint64(data[0:])))
			assert.Equal(t, 1.0, math.Float64frombits(binary.LittleEndian.Uint64(data[8:])))
		}
	}
}

func TestRoundTripFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "route.gpx")
	require.NoError(t, os.WriteFile(path, []byte(sampleGPX), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	data, err := r.Encode()
	require.NoError(t, err)
	assert.Len(t, data, 16*3+16)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.gpx"))
	assert.Error(t, err)
}

func TestEncode_RejectsZeroWaypoint(t *testing.T) {
	t.Parallel()
	_, err := Route{{Lat: 1, Lng: 1}, {}}.Encode()
	assert.ErrorIs(t, err, ErrZeroWaypoint)
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()
	_, err := Decode(make([]byte, 15))
	assert.ErrorIs(t, err, ErrMalformed)

	data, err := Route{{Lat: 1, Lng: 2}}.Encode()
	require.NoError(t, err)
	_, err = Decode(data[:16])
	assert.ErrorIs(t, err, ErrMalformed)

	r, err := Decode(make([]byte, 16))
	require.NoError(t, err)
	assert.Empty(t, r)
}

func TestLengthAndBound(t *testing.T) {
	t.Parallel()
	r := Route{{Lat: 0, Lng: 1}, {Lat: 0, Lng: 2}}
	// one degree of longitude on the equator
	assert.InDelta(t, 111_300, r.Length(), 500)

	b := r.Bound()
	assert.Equal(t, 1.0, b.Min.X())
	assert.Equal(t, 2.0, b.Max.X())
	assert.Zero(t, Route{{Lat: 1, Lng: 1}}.Length())
}
