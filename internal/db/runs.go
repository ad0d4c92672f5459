package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/boatnav/internal/estimator"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one recorded session: a single power-on of the boat or one
// imported recording.
type Run struct {
	ID        string           `json:"run_id"`
	Label     string           `json:"label"`
	StartedAt float64          `json:"started_at"`
	Params    estimator.Params `json:"params"`
}

// CreateRun inserts a new run with a fresh ID and returns it.
func (db *DB) CreateRun(label string, startedAt float64, params estimator.Params) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Label:     label,
		StartedAt: startedAt,
		Params:    params,
	}
	blob, err := json.Marshal(params)
	if err != nil {
		return Run{}, err
	}
	if _, err := db.Exec(
		`INSERT INTO runs (run_id, label, started_at, params_json) VALUES (?, ?, ?, ?)`,
		run.ID, run.Label, run.StartedAt, string(blob),
	); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// UpdateRunParams stores the parameters a run is now being estimated with.
func (db *DB) UpdateRunParams(runID string, params estimator.Params) error {
	blob, err := json.Marshal(params)
	if err != nil {
		return err
	}
	res, err := db.Exec(`UPDATE runs SET params_json = ? WHERE run_id = ?`, string(blob), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (db *DB) GetRun(runID string) (Run, error) {
	row := db.QueryRow(`SELECT run_id, label, started_at, params_json FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, label, started_at, params_json FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, all of its rows.
func (db *DB) DeleteRun(runID string) error {
	res, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run  Run
		blob string
	)
	if err := s.Scan(&run.ID, &run.Label, &run.StartedAt, &blob); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(blob), &run.Params); err != nil {
		return Run{}, fmt.Errorf("run %s: bad params: %w", run.ID, err)
	}
	return run, nil
}
