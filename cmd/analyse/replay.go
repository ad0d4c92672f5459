package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/db"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/fsutil"
	"github.com/banshee-data/boatnav/internal/report"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
)

var errNoRecording = errors.New("no telemetry recording found")

// replayInput is one recording ready to be re-run.
type replayInput struct {
	Source  string
	Records []telemetry.Record
	Onboard []telemetry.OnboardState
	// Params, when set, are the parameters the run was recorded with.
	Params *estimator.Params
}

// tuneList collects repeated -tune name=value flags.
type tuneList []tuneArg

type tuneArg struct {
	Param estimator.Param
	Value float64
}

func (t *tuneList) String() string {
	parts := make([]string, len(*t))
	for i, a := range *t {
		parts[i] = fmt.Sprintf("%s=%g", a.Param, a.Value)
	}
	return strings.Join(parts, ",")
}

func (t *tuneList) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("want param=value, got %q", s)
	}
	param, err := estimator.ParseParam(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*t = append(*t, tuneArg{Param: param, Value: value})
	return nil
}

// loadFromFiles reads a telemetry recording. A directory selects its
// newest telem*.json; the onboard recording with the same stamp is picked
// up unless kalmanPath names one.
func loadFromFiles(fsys fsutil.FileSystem, telemPath, kalmanPath string) (replayInput, error) {
	if !strings.HasSuffix(telemPath, ".json") {
		names, err := fsys.List(telemPath, "telem*.json")
		if err != nil {
			return replayInput{}, err
		}
		if len(names) == 0 {
			return replayInput{}, fmt.Errorf("%w in %s", errNoRecording, telemPath)
		}
		newest := names[len(names)-1]
		telemPath = filepath.Join(telemPath, newest)
		if kalmanPath == "" {
			candidate := filepath.Join(filepath.Dir(telemPath), "kalman"+strings.TrimPrefix(newest, "telem"))
			if fsys.Exists(candidate) {
				kalmanPath = candidate
			}
		}
	}

	data, err := fsys.ReadFile(telemPath)
	if err != nil {
		return replayInput{}, err
	}
	records, err := telemetry.ReadTelemetryJSON(bytes.NewReader(data))
	if err != nil {
		return replayInput{}, fmt.Errorf("%s: %w", telemPath, err)
	}
	in := replayInput{Source: telemPath, Records: records}

	if kalmanPath != "" {
		data, err := fsys.ReadFile(kalmanPath)
		if err != nil {
			return replayInput{}, err
		}
		rows, err := telemetry.ReadRecordingJSON(bytes.NewReader(data))
		if err != nil {
			return replayInput{}, fmt.Errorf("%s: %w", kalmanPath, err)
		}
		in.Onboard, err = telemetry.OnboardStatesFromRows(rows)
		if err != nil {
			return replayInput{}, fmt.Errorf("%s: %w", kalmanPath, err)
		}
	}
	return in, nil
}

// loadFromDB reads a stored run, or the newest run when runID is empty.
func loadFromDB(database *db.DB, runID string) (replayInput, error) {
	var run db.Run
	if runID == "" {
		runs, err := database.ListRuns()
		if err != nil {
			return replayInput{}, err
		}
		if len(runs) == 0 {
			return replayInput{}, db.ErrRunNotFound
		}
		run = runs[0]
	} else {
		var err error
		run, err = database.GetRun(runID)
		if err != nil {
			return replayInput{}, err
		}
	}

	records, err := database.LoadTelemetry(run.ID)
	if err != nil {
		return replayInput{}, err
	}
	onboard, err := database.LoadOnboardStates(run.ID)
	if err != nil {
		return replayInput{}, err
	}
	params := run.Params
	return replayInput{
		Source:  "run " + run.ID,
		Records: records,
		Onboard: onboard,
		Params:  &params,
	}, nil
}

type replayResult struct {
	Baseline     []session.StepRecord
	Observations []session.Observation
	Comparison   *session.Comparison
}

// replay runs the recording through a fresh session, then once more with
// every tune applied together.
func replay(cfg *config.TuningConfig, in replayInput, tunes tuneList) (replayResult, error) {
	if len(in.Records) == 0 {
		return replayResult{}, errNoRecording
	}
	estCfg := estimator.ConfigFromTuning(cfg)
	if in.Params != nil {
		estCfg.Params = *in.Params
	}
	sess := session.New(estimator.New(estCfg), session.OptionsFromTuning(cfg))

	steps, err := sess.Run(telemetry.Observations(in.Records))
	if err != nil {
		return replayResult{}, err
	}
	res := replayResult{Baseline: steps, Observations: sess.Observations()}
	if len(tunes) == 0 {
		return res, nil
	}

	p := sess.Params()
	for _, t := range tunes {
		if err := p.Set(t.Param, t.Value); err != nil {
			return replayResult{}, err
		}
	}
	cmp, err := sess.Retune(p)
	if err != nil {
		return replayResult{}, err
	}
	res.Comparison = &cmp
	return res, nil
}

func (r replayResult) write(w io.Writer, speedUnits string) error {
	if r.Comparison == nil {
		return report.Summarise(r.Baseline).Write(w, speedUnits)
	}
	fmt.Fprintln(w, "== baseline")
	if err := report.Summarise(r.Comparison.Before).Write(w, speedUnits); err != nil {
		return err
	}
	fmt.Fprintln(w, "== tuned")
	for _, c := range r.Comparison.Changes {
		fmt.Fprintf(w, "%s: %g -> %g\n", c.Param, c.Before, c.After)
	}
	return report.Summarise(r.Comparison.After).Write(w, speedUnits)
}
