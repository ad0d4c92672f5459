package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Fielder is implemented by records that flatten to a field map.
type Fielder interface {
	Fields() map[string]float64
}

// WriteRecordingJSON writes records as a JSON array of flat objects.
func WriteRecordingJSON[T Fielder](w io.Writer, records []T) error {
	out := make([]map[string]float64, len(records))
	for i, r := range records {
		out[i] = r.Fields()
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	return nil
}

// ReadRecordingJSON reads a JSON array of flat objects.
func ReadRecordingJSON(r io.Reader) ([]map[string]float64, error) {
	var rows []map[string]float64
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	return rows, nil
}

func field(row map[string]float64, name string, idx int) (float64, error) {
	v, ok := row[name]
	if !ok {
		return 0, fmt.Errorf("row %d: missing field %q", idx, name)
	}
	return v, nil
}

// RecordsFromRows converts recording rows to telemetry records. lat and lng
// are optional; every other field is required.
func RecordsFromRows(rows []map[string]float64) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		var r Record
		var err error
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"timestamp", &r.Timestamp},
			{"gpsX", &r.GPSX},
			{"gpsY", &r.GPSY},
			{"powerLeft", &r.PowerLeft},
			{"powerRight", &r.PowerRight},
			{"rz", &r.GyroZ},
		} {
			if *f.dst, err = field(row, f.name, i); err != nil {
				return nil, err
			}
		}
		r.Lat = row["lat"]
		r.Lng = row["lng"]
		out = append(out, r)
	}
	sortByTimestamp(out, func(r Record) float64 { return r.Timestamp })
	return out, nil
}

// OnboardStatesFromRows converts recording rows to on-board estimates.
func OnboardStatesFromRows(rows []map[string]float64) ([]OnboardState, error) {
	out := make([]OnboardState, 0, len(rows))
	for i, row := range rows {
		var s OnboardState
		var err error
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"timestamp", &s.Timestamp},
			{"x", &s.X},
			{"y", &s.Y},
			{"dx", &s.VX},
			{"dy", &s.VY},
			{"heading", &s.Heading},
			{"d_heading", &s.HeadingRate},
		} {
			if *f.dst, err = field(row, f.name, i); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	sortByTimestamp(out, func(s OnboardState) float64 { return s.Timestamp })
	return out, nil
}

func sortByTimestamp[T any](recs []T, ts func(T) float64) {
	sort.SliceStable(recs, func(i, j int) bool { return ts(recs[i]) < ts(recs[j]) })
}

// ReadTelemetryJSON reads a telemetry recording file.
func ReadTelemetryJSON(r io.Reader) ([]Record, error) {
	rows, err := ReadRecordingJSON(r)
	if err != nil {
		return nil, err
	}
	return RecordsFromRows(rows)
}
