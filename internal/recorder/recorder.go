// Package recorder buffers everything seen during a live session and
// writes it out on demand: to the run store and, optionally, to JSON
// recording files that the offline analyser can replay.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/boatnav/internal/fsutil"
	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
	"github.com/banshee-data/boatnav/internal/timeutil"
)

var ErrNoSink = errors.New("recorder: no store or output directory configured")

// Store is the durable sink. *db.DB satisfies it.
type Store interface {
	RecordTelemetry(runID string, recs []telemetry.Record) error
	RecordOnboardStates(runID string, states []telemetry.OnboardState) error
	RecordEstimates(runID string, steps []session.StepRecord) error
}

// Options configures a Recorder. At least one of Store or Dir is required.
type Options struct {
	Store Store
	RunID string

	// Dir receives telem<stamp>.json, kalman<stamp>.json and
	// estimates<stamp>.json on every flush with data.
	Dir string
	FS  fsutil.FileSystem

	Clock timeutil.Clock
}

// Counts is the number of buffered records of each kind.
type Counts struct {
	Telemetry int `json:"telemetry"`
	Onboard   int `json:"onboard"`
	Estimates int `json:"estimates"`
}

func (c Counts) Total() int { return c.Telemetry + c.Onboard + c.Estimates }

// FlushResult describes what one Flush wrote.
type FlushResult struct {
	Written Counts   `json:"written"`
	Files   []string `json:"files,omitempty"`
}

type Recorder struct {
	opts Options

	// flushMu serialises flushes so restored buffers keep their order.
	flushMu sync.Mutex

	mu      sync.Mutex
	telem   []telemetry.Record
	onboard []telemetry.OnboardState
	steps   []session.StepRecord
}

func New(opts Options) (*Recorder, error) {
	if opts.Store == nil && opts.Dir == "" {
		return nil, ErrNoSink
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Dir != "" {
		if opts.FS == nil {
			opts.FS = fsutil.OSFileSystem{}
		}
		if err := opts.FS.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: create %s: %w", opts.Dir, err)
		}
	}
	return &Recorder{opts: opts}, nil
}

func (r *Recorder) AppendTelemetry(rec telemetry.Record) {
	r.mu.Lock()
	r.telem = append(r.telem, rec)
	r.mu.Unlock()
}

func (r *Recorder) AppendOnboard(s telemetry.OnboardState) {
	r.mu.Lock()
	r.onboard = append(r.onboard, s)
	r.mu.Unlock()
}

func (r *Recorder) AppendEstimate(step session.StepRecord) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

// Pending reports how many records are waiting for the next flush.
func (r *Recorder) Pending() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{Telemetry: len(r.telem), Onboard: len(r.onboard), Estimates: len(r.steps)}
}

// Flush writes all buffered records. Each kind is handled separately: a
// kind whose store write fails is put back at the front of its buffer for
// the next flush. The store is authoritative; a file write failure after
// a successful store write is reported but the records are not retried.
func (r *Recorder) Flush(ctx context.Context) (FlushResult, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if err := ctx.Err(); err != nil {
		return FlushResult{}, err
	}

	r.mu.Lock()
	telem, onboard, steps := r.telem, r.onboard, r.steps
	r.telem, r.onboard, r.steps = nil, nil, nil
	r.mu.Unlock()

	stamp := r.opts.Clock.Now().UTC().Format("20060102T150405.000")
	var (
		res  FlushResult
		errs []error
	)

	if len(telem) > 0 {
		file, err := r.flushKind("telem", stamp, func() error {
			return r.opts.Store.RecordTelemetry(r.opts.RunID, telem)
		}, func() ([]byte, error) {
			var buf bytes.Buffer
			err := telemetry.WriteRecordingJSON(&buf, telem)
			return buf.Bytes(), err
		})
		switch {
		case errors.Is(err, errStore):
			r.restore(func() { r.telem = append(telem, r.telem...) })
		default:
			res.Written.Telemetry = len(telem)
		}
		res.Files = appendNonEmpty(res.Files, file)
		errs = appendNonNil(errs, err)
	}

	if len(onboard) > 0 {
		file, err := r.flushKind("kalman", stamp, func() error {
			return r.opts.Store.RecordOnboardStates(r.opts.RunID, onboard)
		}, func() ([]byte, error) {
			var buf bytes.Buffer
			err := telemetry.WriteRecordingJSON(&buf, onboard)
			return buf.Bytes(), err
		})
		switch {
		case errors.Is(err, errStore):
			r.restore(func() { r.onboard = append(onboard, r.onboard...) })
		default:
			res.Written.Onboard = len(onboard)
		}
		res.Files = appendNonEmpty(res.Files, file)
		errs = appendNonNil(errs, err)
	}

	if len(steps) > 0 {
		file, err := r.flushKind("estimates", stamp, func() error {
			return r.opts.Store.RecordEstimates(r.opts.RunID, steps)
		}, func() ([]byte, error) {
			return json.MarshalIndent(steps, "", "  ")
		})
		switch {
		case errors.Is(err, errStore):
			r.restore(func() { r.steps = append(steps, r.steps...) })
		default:
			res.Written.Estimates = len(steps)
		}
		res.Files = appendNonEmpty(res.Files, file)
		errs = appendNonNil(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		monitoring.Logf("recorder: flush incomplete: %v", err)
	} else if res.Written.Total() > 0 {
		monitoring.Logf("recorder: flushed %d telemetry, %d onboard, %d estimates",
			res.Written.Telemetry, res.Written.Onboard, res.Written.Estimates)
	}
	return res, err
}

var errStore = errors.New("store write failed")

// flushKind writes one kind to the store, then to its file. Failures of
// the authoritative sink are wrapped with errStore so the caller can
// restore.
func (r *Recorder) flushKind(prefix, stamp string, store func() error, encode func() ([]byte, error)) (string, error) {
	if r.opts.Store != nil {
		if err := store(); err != nil {
			return "", fmt.Errorf("%s: %w: %w", prefix, errStore, err)
		}
	}
	if r.opts.Dir == "" {
		return "", nil
	}
	// Without a store the file is the only sink, so its failures keep the
	// records.
	fileOnly := r.opts.Store == nil
	data, err := encode()
	if err != nil {
		if fileOnly {
			return "", fmt.Errorf("%s: encode: %w: %w", prefix, errStore, err)
		}
		return "", fmt.Errorf("%s: encode: %w", prefix, err)
	}
	path := filepath.Join(r.opts.Dir, prefix+stamp+".json")
	if err := r.opts.FS.WriteFile(path, data, 0o644); err != nil {
		if fileOnly {
			return "", fmt.Errorf("%s: %w: %w", prefix, errStore, err)
		}
		return "", fmt.Errorf("%s: write %s: %w", prefix, path, err)
	}
	return path, nil
}

func (r *Recorder) restore(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
}

// RunPeriodic flushes every interval until ctx is done, then makes a
// final flush with a fresh context so nothing buffered is lost on
// shutdown.
func (r *Recorder) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := r.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.Pending().Total() > 0 {
				if _, err := r.Flush(context.Background()); err != nil {
					return err
				}
			}
			return ctx.Err()
		case <-ticker.C():
			if r.Pending().Total() == 0 {
				continue
			}
			// Errors are logged by Flush and retried on the next tick.
			_, _ = r.Flush(ctx)
		}
	}
}

func appendNonEmpty(s []string, v string) []string {
	if v == "" {
		return s
	}
	return append(s, v)
}

func appendNonNil(s []error, err error) []error {
	if err == nil {
		return s
	}
	return append(s, err)
}
