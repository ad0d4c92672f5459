package db

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
)

func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordTelemetry appends telemetry pushes to a run in one transaction.
func (db *DB) RecordTelemetry(runID string, recs []telemetry.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO telemetry
			(run_id, ts, gps_x, gps_y, lat, lng, power_left, power_right, gyro_z)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if _, err := stmt.Exec(runID, r.Timestamp, r.GPSX, r.GPSY, r.Lat, r.Lng, r.PowerLeft, r.PowerRight, r.GyroZ); err != nil {
				return fmt.Errorf("record telemetry at %.3f: %w", r.Timestamp, err)
			}
		}
		return nil
	})
}

// RecordOnboardStates appends the boat's own estimates to a run.
func (db *DB) RecordOnboardStates(runID string, states []telemetry.OnboardState) error {
	if len(states) == 0 {
		return nil
	}
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO onboard_states
			(run_id, ts, x, y, vx, vy, heading, heading_rate)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range states {
			if _, err := stmt.Exec(runID, s.Timestamp, s.X, s.Y, s.VX, s.VY, s.Heading, s.HeadingRate); err != nil {
				return fmt.Errorf("record onboard state at %.3f: %w", s.Timestamp, err)
			}
		}
		return nil
	})
}

// RecordEstimates appends shore-side filter steps to a run.
func (db *DB) RecordEstimates(runID string, steps []session.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO estimates
			(run_id, step_index, ts, dt, x, y, vx, vy, heading, heading_rate,
			 mode, gps_used, distance, course, correction_skipped)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range steps {
			if _, err := stmt.Exec(runID, s.Index, s.Timestamp, s.Dt,
				s.State.X, s.State.Y, s.State.VX, s.State.VY, s.State.Heading, s.State.HeadingRate,
				s.Mode, s.GPSUsed, s.Distance, s.Course, s.CorrectionSkipped,
			); err != nil {
				return fmt.Errorf("record estimate %d: %w", s.Index, err)
			}
		}
		return nil
	})
}

// LoadTelemetry returns a run's telemetry in timestamp order.
func (db *DB) LoadTelemetry(runID string) ([]telemetry.Record, error) {
	rows, err := db.Query(`SELECT ts, gps_x, gps_y, lat, lng, power_left, power_right, gyro_z
		FROM telemetry WHERE run_id = ? ORDER BY ts, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []telemetry.Record
	for rows.Next() {
		var r telemetry.Record
		if err := rows.Scan(&r.Timestamp, &r.GPSX, &r.GPSY, &r.Lat, &r.Lng, &r.PowerLeft, &r.PowerRight, &r.GyroZ); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (db *DB) LoadOnboardStates(runID string) ([]telemetry.OnboardState, error) {
	rows, err := db.Query(`SELECT ts, x, y, vx, vy, heading, heading_rate
		FROM onboard_states WHERE run_id = ? ORDER BY ts, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []telemetry.OnboardState
	for rows.Next() {
		var s telemetry.OnboardState
		if err := rows.Scan(&s.Timestamp, &s.X, &s.Y, &s.VX, &s.VY, &s.Heading, &s.HeadingRate); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (db *DB) LoadEstimates(runID string) ([]session.StepRecord, error) {
	rows, err := db.Query(`SELECT step_index, ts, dt, x, y, vx, vy, heading, heading_rate,
			mode, gps_used, distance, course, correction_skipped
		FROM estimates WHERE run_id = ? ORDER BY step_index, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []session.StepRecord
	for rows.Next() {
		var (
			s  session.StepRecord
			st estimator.State
		)
		if err := rows.Scan(&s.Index, &s.Timestamp, &s.Dt,
			&st.X, &st.Y, &st.VX, &st.VY, &st.Heading, &st.HeadingRate,
			&s.Mode, &s.GPSUsed, &s.Distance, &s.Course, &s.CorrectionSkipped,
		); err != nil {
			return nil, err
		}
		s.State = st
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
