package estimator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/units"
)

// StateDim is the length of the state vector.
const StateDim = 6

// State vector indices.
const (
	IdxX = iota
	IdxY
	IdxVX
	IdxVY
	IdxHeading
	IdxHeadingRate
)

var (
	// ErrNegativeDt is returned by Predict when asked to step backwards in time.
	ErrNegativeDt = errors.New("negative time step")
	// ErrNonFinite is returned when an input or a computed result is NaN or ±Inf.
	ErrNonFinite = errors.New("non-finite value")
	// ErrSingularInnovation is returned by Update when the innovation
	// covariance cannot be inverted.
	ErrSingularInnovation = errors.New("singular innovation covariance")
)

// State is an immutable snapshot of the filter state.
type State struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	Heading     float64 `json:"heading"`
	HeadingRate float64 `json:"heading_rate"`
}

// Vector returns the state in index order.
func (s State) Vector() [StateDim]float64 {
	return [StateDim]float64{s.X, s.Y, s.VX, s.VY, s.Heading, s.HeadingRate}
}

// Speed returns the magnitude of the velocity estimate (m/s).
func (s State) Speed() float64 {
	return units.Speed(s.VX, s.VY)
}

func stateFromVec(v mat.Vector) State {
	return State{
		X:           v.AtVec(IdxX),
		Y:           v.AtVec(IdxY),
		VX:          v.AtVec(IdxVX),
		VY:          v.AtVec(IdxVY),
		Heading:     v.AtVec(IdxHeading),
		HeadingRate: v.AtVec(IdxHeadingRate),
	}
}

// Control is the commanded power of the left and right motors.
type Control struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

func (c Control) vec() *mat.VecDense {
	return mat.NewVecDense(2, []float64{c.Left, c.Right})
}

// Config holds everything needed to construct an Estimator.
type Config struct {
	Params            Params
	InitialCovariance [StateDim]float64 // diagonal of P at reset
	ProcessNoise      [StateDim]float64 // diagonal of Q per second of prediction
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Params: Params{
			B1:                  cfg.GetB1(),
			B2:                  cfg.GetB2(),
			GPSNoise:            cfg.GetGPSNoise(),
			GPSAngleNoise:       cfg.GetGPSAngleNoise(),
			GyroNoise:           cfg.GetGyroNoise(),
			MotorForce:          cfg.GetMotorForce(),
			MotorTorque:         cfg.GetMotorTorque(),
			Width:               cfg.GetBoatWidth(),
			CourseNoiseDistance: cfg.GetCourseNoiseDistance(),
			CourseNoiseFloor:    cfg.GetCourseNoiseFloor(),
			InvertGyro:          cfg.GetInvertGyro(),
		},
		InitialCovariance: cfg.GetInitialCovariance(),
		ProcessNoise:      cfg.GetProcessNoise(),
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// Estimator is the Kalman filter. It owns the state vector and covariance;
// callers only ever see copies.
type Estimator struct {
	cfg     Config
	x       *mat.VecDense
	p       *mat.Dense
	lastFix geo.Fix // previous GPS fix, for course-over-ground
}

// New creates an Estimator at its reset state.
func New(cfg Config) *Estimator {
	e := &Estimator{cfg: cfg}
	e.Reset()
	return e
}

// Reset zeroes the state, restores the configured prior covariance and
// forgets the last GPS fix.
func (e *Estimator) Reset() {
	e.x = mat.NewVecDense(StateDim, nil)
	e.p = diagDense(e.cfg.InitialCovariance[:])
	e.lastFix = geo.NoFix()
}

// LastFix returns the most recent GPS fix seen by Update.
func (e *Estimator) LastFix() geo.Fix {
	return e.lastFix
}

// ResetLastFix forgets the last GPS fix so the next fix cannot produce a
// course measurement.
func (e *Estimator) ResetLastFix() {
	e.lastFix = geo.NoFix()
}

// State returns a copy of the current state.
func (e *Estimator) State() State {
	return stateFromVec(e.x)
}

// Covariance returns a copy of the current covariance.
func (e *Estimator) Covariance() *mat.Dense {
	return mat.DenseCopyOf(e.p)
}

// Params returns a copy of the vehicle parameters.
func (e *Estimator) Params() Params {
	return e.cfg.Params
}

// Config returns a copy of the estimator configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// SetParams replaces the vehicle parameters. State and covariance are left
// untouched; callers that want a clean comparison should Reset.
func (e *Estimator) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.cfg.Params = p
	return nil
}

// SetParam sets a single tunable parameter.
func (e *Estimator) SetParam(param Param, value float64) error {
	p := e.cfg.Params
	if err := p.Set(param, value); err != nil {
		return err
	}
	e.cfg.Params = p
	return nil
}

// Restore overwrites the state, covariance and last fix with a snapshot
// taken earlier. cov must be StateDim×StateDim.
func (e *Estimator) Restore(s State, cov mat.Matrix, lastFix geo.Fix) error {
	r, c := cov.Dims()
	if r != StateDim || c != StateDim {
		return fmt.Errorf("covariance must be %dx%d, got %dx%d", StateDim, StateDim, r, c)
	}
	v := s.Vector()
	for _, x := range v {
		if !isFinite(x) {
			return fmt.Errorf("restore state: %w", ErrNonFinite)
		}
	}
	e.x = mat.NewVecDense(StateDim, v[:])
	e.p = mat.DenseCopyOf(cov)
	e.lastFix = lastFix
	e.wrapHeading()
	return nil
}

func (e *Estimator) wrapHeading() {
	e.x.SetVec(IdxHeading, wrapHeading(e.x.AtVec(IdxHeading)))
}

func diagDense(diag []float64) *mat.Dense {
	n := len(diag)
	m := mat.NewDense(n, n, nil)
	for i, v := range diag {
		m.Set(i, i, v)
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// isFiniteState returns true if every element of the state vector and the
// covariance matrix is finite.
func isFiniteState(x mat.Vector, p mat.Matrix) bool {
	for i := 0; i < x.Len(); i++ {
		if !isFinite(x.AtVec(i)) {
			return false
		}
	}
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !isFinite(p.At(i, j)) {
				return false
			}
		}
	}
	return true
}
