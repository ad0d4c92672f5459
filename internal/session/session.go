// Package session drives the estimator over a sequence of observations. A
// Session owns the filter, the per-step history and the log of observations
// it has accepted, so the whole run can be replayed after a parameter change.
package session

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/monitoring"
)

// ErrOutOfOrder is returned when an observation is older than the previous one.
var ErrOutOfOrder = errors.New("observation out of order")

// DtPolicy selects how the prediction interval is derived.
type DtPolicy string

const (
	// DtFromTimestamps uses the difference between consecutive observation
	// timestamps. The first step after a reset predicts with dt = 0.
	DtFromTimestamps DtPolicy = config.DtPolicyTimestamps
	// DtFixed always predicts with Options.NominalDt.
	DtFixed DtPolicy = config.DtPolicyFixed
)

// Options configures a Session.
type Options struct {
	DtPolicy  DtPolicy
	NominalDt float64 // seconds, used by DtFixed
}

// OptionsFromTuning builds session Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		DtPolicy:  DtPolicy(cfg.GetDtPolicy()),
		NominalDt: cfg.GetNominalDt(),
	}
}

// Observation is one time-stamped bundle of sensor readings and the motor
// command in effect.
type Observation struct {
	Timestamp float64 // seconds
	GPS       geo.Fix
	Gyro      float64 // deg/s
	Control   estimator.Control
	// ResetFix means the GPS dropped out since the previous observation;
	// the last fix is forgotten before this one is processed.
	ResetFix bool
}

func (o Observation) validate() error {
	vals := []float64{o.Timestamp, o.Gyro, o.Control.Left, o.Control.Right}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("observation t=%v: %w", o.Timestamp, estimator.ErrNonFinite)
		}
	}
	if !o.GPS.IsFinite() {
		return fmt.Errorf("observation t=%v gps: %w", o.Timestamp, estimator.ErrNonFinite)
	}
	return nil
}

// StepRecord is the outcome of one Step.
type StepRecord struct {
	Index             int             `json:"index"`
	Timestamp         float64         `json:"timestamp"`
	Dt                float64         `json:"dt"`
	State             estimator.State `json:"state"`
	Mode              string          `json:"mode"`
	GPSUsed           bool            `json:"gps_used"`
	Distance          float64         `json:"distance,omitempty"`
	Course            float64         `json:"course,omitempty"`
	CorrectionSkipped bool            `json:"correction_skipped,omitempty"`
}

// ParamChange records one parameter value before and after tuning.
type ParamChange struct {
	Param  string  `json:"param"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Comparison is the result of re-running the recorded observations under
// new parameters.
type Comparison struct {
	Changes []ParamChange `json:"changes"`
	Before  []StepRecord  `json:"before"`
	After   []StepRecord  `json:"after"`
}

// Session is safe for concurrent use. Mutating calls are serialised;
// readers get copies.
type Session struct {
	mu   sync.RWMutex
	est  *estimator.Estimator
	opts Options

	history      []StepRecord
	observations []Observation
	started      bool
	lastTime     float64
}

// New creates a Session around est and resets it.
func New(est *estimator.Estimator, opts Options) *Session {
	if opts.DtPolicy == "" {
		opts.DtPolicy = DtFromTimestamps
	}
	s := &Session{est: est, opts: opts}
	s.resetLocked()
	return s
}

// Reset returns the session to its initial state. Idempotent.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.est.Reset()
	s.history = nil
	s.observations = nil
	s.started = false
	s.lastTime = 0
}

// Step processes one observation and records the result. Numeric failures
// in the correction are logged and recorded as CorrectionSkipped; the step
// still succeeds with the predicted state.
func (s *Session) Step(obs Observation) (StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.stepLocked(obs)
	if err != nil {
		return StepRecord{}, err
	}
	s.observations = append(s.observations, obs)
	return rec, nil
}

func (s *Session) stepLocked(obs Observation) (StepRecord, error) {
	if err := obs.validate(); err != nil {
		return StepRecord{}, err
	}
	if s.started && obs.Timestamp < s.lastTime {
		return StepRecord{}, fmt.Errorf("%w: t=%v after t=%v", ErrOutOfOrder, obs.Timestamp, s.lastTime)
	}

	if obs.ResetFix {
		s.est.ResetLastFix()
	}
	dt := s.dt(obs)
	if err := s.est.Predict(obs.Control, dt); err != nil {
		return StepRecord{}, err
	}

	res, err := s.est.Update(estimator.Measurement{GPS: obs.GPS, Gyro: obs.Gyro})
	skipped := false
	if err != nil {
		if !errors.Is(err, estimator.ErrSingularInnovation) && !errors.Is(err, estimator.ErrNonFinite) {
			return StepRecord{}, err
		}
		monitoring.Logf("session: step %d t=%.3f correction skipped: %v", len(s.history), obs.Timestamp, err)
		skipped = true
	}

	rec := StepRecord{
		Index:             len(s.history),
		Timestamp:         obs.Timestamp,
		Dt:                dt,
		State:             s.est.State(),
		Mode:              res.Mode.String(),
		GPSUsed:           res.Mode == estimator.ModeGPSFix && !skipped,
		CorrectionSkipped: skipped,
	}
	if res.Mode == estimator.ModeGPSFix {
		rec.Distance = res.Distance
		rec.Course = res.Course
	}
	s.history = append(s.history, rec)
	s.started = true
	s.lastTime = obs.Timestamp
	return rec, nil
}

func (s *Session) dt(obs Observation) float64 {
	if s.opts.DtPolicy == DtFixed {
		return s.opts.NominalDt
	}
	if !s.started {
		return 0
	}
	return obs.Timestamp - s.lastTime
}

// Run resets the session and steps through observations in order, which
// become the new recording. On error the history up to the failing
// observation is returned alongside it, and only the observations before it
// are kept for replay.
func (s *Session) Run(observations []Observation) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(observations)
}

func (s *Session) runLocked(observations []Observation) ([]StepRecord, error) {
	s.resetLocked()
	for i, obs := range observations {
		if _, err := s.stepLocked(obs); err != nil {
			return s.historyLocked(), fmt.Errorf("observation %d: %w", i, err)
		}
		s.observations = append(s.observations, obs)
	}
	return s.historyLocked(), nil
}

// Tune sets a single named parameter and replays the recording. An unknown
// name or invalid value leaves the session untouched.
func (s *Session) Tune(name string, value float64) (Comparison, error) {
	param, err := estimator.ParseParam(name)
	if err != nil {
		return Comparison{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.est.Params()
	if err := p.Set(param, value); err != nil {
		return Comparison{}, err
	}
	return s.retuneLocked(p)
}

// Retune replaces all parameters and replays the recording. If the replay
// fails the session is rolled back to its previous parameters and state.
func (s *Session) Retune(p estimator.Params) (Comparison, error) {
	if err := p.Validate(); err != nil {
		return Comparison{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retuneLocked(p)
}

func (s *Session) retuneLocked(p estimator.Params) (Comparison, error) {
	old := s.est.Params()
	cmp := Comparison{Before: s.historyLocked()}
	for _, param := range estimator.AllParams() {
		if b, a := old.Get(param), p.Get(param); b != a {
			cmp.Changes = append(cmp.Changes, ParamChange{Param: param.String(), Before: b, After: a})
		}
	}

	snap := s.snapshotLocked()
	if err := s.est.SetParams(p); err != nil {
		return Comparison{}, err
	}
	after, err := s.runLocked(snap.observations)
	cmp.After = after
	if err != nil {
		if rerr := s.restoreLocked(snap); rerr != nil {
			monitoring.Logf("session: rollback after failed replay: %v", rerr)
		}
		return cmp, fmt.Errorf("replay: %w", err)
	}
	return cmp, nil
}

// snapshot is everything a replay overwrites.
type snapshot struct {
	params       estimator.Params
	state        estimator.State
	cov          *mat.Dense
	lastFix      geo.Fix
	history      []StepRecord
	observations []Observation
	started      bool
	lastTime     float64
}

// snapshotLocked captures the session. The slices are shared, which is safe
// because resetLocked replaces them rather than truncating.
func (s *Session) snapshotLocked() snapshot {
	return snapshot{
		params:       s.est.Params(),
		state:        s.est.State(),
		cov:          s.est.Covariance(),
		lastFix:      s.est.LastFix(),
		history:      s.history,
		observations: s.observations,
		started:      s.started,
		lastTime:     s.lastTime,
	}
}

func (s *Session) restoreLocked(snap snapshot) error {
	s.history = snap.history
	s.observations = snap.observations
	s.started = snap.started
	s.lastTime = snap.lastTime
	if err := s.est.SetParams(snap.params); err != nil {
		return err
	}
	return s.est.Restore(snap.state, snap.cov, snap.lastFix)
}

// Params returns the current vehicle parameters.
func (s *Session) Params() estimator.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.est.Params()
}

// State returns the current state estimate.
func (s *Session) State() estimator.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.est.State()
}

// Covariance returns the current covariance as row slices.
func (s *Session) Covariance() [][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	P := s.est.Covariance()
	r, c := P.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = P.At(i, j)
		}
	}
	return out
}

// LastFix returns the last GPS fix seen.
func (s *Session) LastFix() geo.Fix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.est.LastFix()
}

// Latest returns the most recent step record.
func (s *Session) Latest() (StepRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return StepRecord{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of all step records since the last reset.
func (s *Session) History() []StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked()
}

func (s *Session) historyLocked() []StepRecord {
	return append([]StepRecord(nil), s.history...)
}

// Len returns the number of recorded steps.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Observations returns a copy of the recording.
func (s *Session) Observations() []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Observation(nil), s.observations...)
}
