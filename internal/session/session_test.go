package session

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/units"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	return New(estimator.New(estimator.DefaultConfig()), opts)
}

func scriptedObservations() []Observation {
	return []Observation{
		{Timestamp: 0, GPS: geo.NewFix(0, 0), Gyro: 0},
		{Timestamp: 0.1, GPS: geo.NewFix(0, 0), Gyro: 5},
		{Timestamp: 0.2, GPS: geo.NewFix(0, 2), Gyro: 5},
	}
}

func TestSession_ScriptedThreeSteps(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})

	hist, err := s.Run(scriptedObservations())
	require.NoError(t, err)
	require.Len(t, hist, 3)

	assert.Zero(t, hist[0].Dt)
	assert.InDelta(t, 0.1, hist[1].Dt, 1e-12)

	assert.False(t, hist[1].GPSUsed)
	assert.Equal(t, estimator.ModeNoGPS.String(), hist[1].Mode)
	assert.Greater(t, hist[1].State.HeadingRate, 0.0, "gyro should spin up the heading rate")

	require.True(t, hist[2].GPSUsed)
	assert.Equal(t, estimator.ModeGPSFix.String(), hist[2].Mode)
	assert.InDelta(t, 0, hist[2].Course, 1e-12)
	assert.InDelta(t, 2, hist[2].Distance, 1e-12)

	// The gyro alone would have turned the boat; the course of 0° pulls it back.
	gyroOnly := hist[1].State.Heading + hist[1].State.HeadingRate*hist[2].Dt
	require.Greater(t, gyroOnly, 0.0)
	blended := units.Wrap180(hist[2].State.Heading)
	assert.Less(t, math.Abs(blended), gyroOnly)
	assert.Greater(t, hist[2].State.Y, 0.0)
}

func TestSession_IdenticalFixesUseGyroOnly(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	for i := 0; i < 4; i++ {
		rec, err := s.Step(Observation{Timestamp: float64(i) * 0.1, GPS: geo.NewFix(3, 3), Gyro: 1})
		require.NoError(t, err)
		assert.False(t, rec.GPSUsed, "step %d", i)
	}
}

func TestSession_OutOfOrderRejected(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Step(Observation{Timestamp: 1})
	require.NoError(t, err)
	before := s.State()

	_, err = s.Step(Observation{Timestamp: 0.5, Gyro: 10})
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.Observations(), 1)
	assert.Equal(t, before, s.State())

	// equal timestamps are allowed and predict with dt = 0
	rec, err := s.Step(Observation{Timestamp: 1})
	require.NoError(t, err)
	assert.Zero(t, rec.Dt)
}

func TestSession_RejectsNonFinite(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Step(Observation{Timestamp: math.NaN()})
	assert.ErrorIs(t, err, estimator.ErrNonFinite)
	_, err = s.Step(Observation{Timestamp: 0, Control: estimator.Control{Left: math.Inf(1)}})
	assert.ErrorIs(t, err, estimator.ErrNonFinite)
	_, err = s.Step(Observation{Timestamp: 0, GPS: geo.NewFix(math.NaN(), 1)})
	assert.ErrorIs(t, err, estimator.ErrNonFinite)
	assert.Zero(t, s.Len())
}

func TestSession_FixedDt(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{DtPolicy: DtFixed, NominalDt: 0.1})
	hist, err := s.Run([]Observation{
		{Timestamp: 0},
		{Timestamp: 5},
		{Timestamp: 5.02},
	})
	require.NoError(t, err)
	for _, rec := range hist {
		assert.Equal(t, 0.1, rec.Dt)
	}
}

func TestSession_RunReportsFailingIndex(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	obs := scriptedObservations()
	obs = append(obs, Observation{Timestamp: 0.05})

	hist, err := s.Run(obs)
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Contains(t, err.Error(), "observation 3")
	assert.Len(t, hist, 3)
}

func TestSession_TuneAfterFailedRun(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Run([]Observation{{Timestamp: 1}, {Timestamp: 0.5}})
	require.ErrorIs(t, err, ErrOutOfOrder)
	require.Len(t, s.Observations(), 1)

	res, err := s.Tune("b1", 1)
	require.NoError(t, err)
	assert.Len(t, res.Before, 1)
	assert.Len(t, res.After, 1)
	assert.Equal(t, 1.0, s.Params().B1)
}

func TestSession_FailedReplayRollsBack(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	forward := estimator.Control{Left: 1, Right: 1}
	_, err := s.Run([]Observation{
		{Timestamp: 0, GPS: geo.NewFix(0, 0), Control: forward},
		{Timestamp: 10, GPS: geo.NewFix(0, 5), Control: forward},
	})
	require.NoError(t, err)
	params, hist, obs := s.Params(), s.History(), s.Observations()
	state, cov, fix := s.State(), s.Covariance(), s.LastFix()

	// thrust large enough to overflow over the 10 s step
	res, err := s.Tune("motorForce", 1e308)
	require.ErrorIs(t, err, estimator.ErrNonFinite)
	assert.Len(t, res.After, 1)

	assert.Equal(t, params, s.Params())
	assert.Equal(t, hist, s.History())
	assert.Equal(t, obs, s.Observations())
	assert.Equal(t, state, s.State())
	assert.Equal(t, cov, s.Covariance())
	assert.True(t, fix.Equal(s.LastFix()))

	rec, err := s.Step(Observation{Timestamp: 10.1, GPS: geo.NewFix(0, 5.1), Control: forward})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Index)
}

func TestSession_ResetFixForgetsLastFix(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Step(Observation{Timestamp: 0, GPS: geo.NewFix(0, 0)})
	require.NoError(t, err)
	require.True(t, s.LastFix().Valid)

	rec, err := s.Step(Observation{Timestamp: 0.1, ResetFix: true})
	require.NoError(t, err)
	assert.False(t, s.LastFix().Valid)
	assert.False(t, rec.GPSUsed)

	// the first fix after the dropout only re-seeds the course baseline
	rec, err = s.Step(Observation{Timestamp: 0.2, GPS: geo.NewFix(0, 3)})
	require.NoError(t, err)
	assert.Equal(t, estimator.ModeNoGPS.String(), rec.Mode)
	rec, err = s.Step(Observation{Timestamp: 0.3, GPS: geo.NewFix(0, 4)})
	require.NoError(t, err)
	assert.Equal(t, estimator.ModeGPSFix.String(), rec.Mode)
}

func TestSession_RunIsDeterministic(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	first, err := s.Run(scriptedObservations())
	require.NoError(t, err)
	second, err := s.Run(scriptedObservations())
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay mismatch (-first +second):\n%s", diff)
	}
}

func TestSession_ResetIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Run(scriptedObservations())
	require.NoError(t, err)

	s.Reset()
	s.Reset()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Observations())
	assert.Equal(t, estimator.State{}, s.State())
	assert.False(t, s.LastFix().Valid)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestSession_Tune(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Run(scriptedObservations())
	require.NoError(t, err)
	before := s.History()

	cmpRes, err := s.Tune("gyroNoise", 5)
	require.NoError(t, err)
	require.Len(t, cmpRes.Changes, 1)
	assert.Equal(t, ParamChange{Param: "gyroNoise", Before: 0.1, After: 5}, cmpRes.Changes[0])
	if diff := cmp.Diff(before, cmpRes.Before); diff != "" {
		t.Errorf("before history changed (-want +got):\n%s", diff)
	}
	require.Len(t, cmpRes.After, 3)
	// noisier gyro trusts the measurement less
	assert.Less(t, cmpRes.After[1].State.HeadingRate, cmpRes.Before[1].State.HeadingRate)
	assert.Equal(t, 5.0, s.Params().GyroNoise)
	assert.Len(t, s.Observations(), 3)
}

func TestSession_TuneRejectsUnknownParam(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Run(scriptedObservations())
	require.NoError(t, err)
	params := s.Params()
	hist := s.History()

	_, err = s.Tune("rudder", 1)
	require.ErrorIs(t, err, estimator.ErrUnknownParam)
	_, err = s.Tune("b1", -1)
	require.ErrorIs(t, err, estimator.ErrInvalidParamValue)

	assert.Equal(t, params, s.Params())
	assert.Equal(t, hist, s.History())
}

func TestSession_TuneBackRestoresHistory(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	orig, err := s.Run(scriptedObservations())
	require.NoError(t, err)

	_, err = s.Tune("b1", 2)
	require.NoError(t, err)
	res, err := s.Tune("b1", 0.8)
	require.NoError(t, err)

	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(orig, res.After, opt); diff != "" {
		t.Errorf("history after restoring b1 (-want +got):\n%s", diff)
	}
}

func TestSession_SingularCorrectionSkipped(t *testing.T) {
	t.Parallel()
	cfg := estimator.DefaultConfig()
	cfg.Params.GyroNoise = 0
	s := New(estimator.New(cfg), Options{})

	rec, err := s.Step(Observation{Timestamp: 0, Gyro: 4})
	require.NoError(t, err)
	assert.True(t, rec.CorrectionSkipped)
	assert.False(t, rec.GPSUsed)
	assert.Equal(t, estimator.State{}, rec.State)

	rec, err = s.Step(Observation{Timestamp: 0.1, Gyro: 4})
	require.NoError(t, err)
	assert.False(t, rec.CorrectionSkipped)
	assert.False(t, math.IsNaN(rec.State.HeadingRate))
}

func TestSession_HistoryIsCopy(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, Options{})
	_, err := s.Run(scriptedObservations())
	require.NoError(t, err)

	h := s.History()
	h[0].Timestamp = 99
	assert.Zero(t, s.History()[0].Timestamp)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, latest.Index)

	cov := s.Covariance()
	require.Len(t, cov, estimator.StateDim)
	assert.Len(t, cov[0], estimator.StateDim)
}

func TestOptionsFromTuning(t *testing.T) {
	t.Parallel()
	opts := OptionsFromTuning(config.DefaultTuningConfig())
	assert.Equal(t, Options{DtPolicy: DtFromTimestamps, NominalDt: 0.1}, opts)

	s := newTestSession(t, Options{})
	assert.Equal(t, DtFromTimestamps, s.opts.DtPolicy)
}
