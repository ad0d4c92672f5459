package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingJSON_Telemetry(t *testing.T) {
	t.Parallel()
	recs := []Record{
		{Timestamp: 1, GPSX: 0, GPSY: 0, PowerLeft: 0.5, PowerRight: 0.5, GyroZ: 0},
		{Timestamp: 1.1, GPSX: 0, GPSY: 2, Lat: 51, Lng: 0.1, PowerLeft: 0.6, PowerRight: 0.4, GyroZ: 5},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRecordingJSON(&buf, recs))
	assert.Contains(t, buf.String(), `"powerLeft":0.5`)

	got, err := ReadTelemetryJSON(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordingJSON_OnboardSorted(t *testing.T) {
	t.Parallel()
	in := `[{"timestamp":2,"x":1,"y":1,"dx":0,"dy":0,"heading":10,"d_heading":0},
	        {"timestamp":1,"x":0,"y":0,"dx":0,"dy":0,"heading":5,"d_heading":1}]`
	rows, err := ReadRecordingJSON(strings.NewReader(in))
	require.NoError(t, err)
	states, err := OnboardStatesFromRows(rows)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, 1.0, states[0].Timestamp)
	assert.Equal(t, 5.0, states[0].Heading)
}

func TestRecordsFromRows_MissingField(t *testing.T) {
	t.Parallel()
	_, err := RecordsFromRows([]map[string]float64{{"timestamp": 1, "gpsX": 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gpsY"`)

	_, err = ReadRecordingJSON(strings.NewReader("{not json"))
	assert.Error(t, err)
}
