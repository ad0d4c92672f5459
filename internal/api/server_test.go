package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boatnav/internal/command"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/units"
)

func newTestSession(t *testing.T, n int) *session.Session {
	t.Helper()
	sess := session.New(estimator.New(estimator.DefaultConfig()), session.Options{})
	for i := 0; i < n; i++ {
		obs := session.Observation{
			Timestamp: float64(i) * 0.1,
			Gyro:      2,
			Control:   estimator.Control{Left: 0.5, Right: 0.5},
		}
		if i%5 == 0 {
			obs.GPS = geo.NewFix(0, float64(i)*0.1)
		}
		_, err := sess.Step(obs)
		require.NoError(t, err)
	}
	return sess
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if method == http.MethodPost && strings.HasPrefix(body, "command=") {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestShowState(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, 12)
	mux := NewServer(sess, nil, units.KMPH).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp stateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 12, resp.Steps)
	assert.Equal(t, "kmph", resp.Units)
	assert.InDelta(t, sess.State().Speed()*3.6, resp.Speed, 1e-9)
	require.Len(t, resp.Covariance, estimator.StateDim)
	require.NotNil(t, resp.LastFix)
	assert.InDelta(t, 1.0, resp.LastFix.Y, 1e-12)
	require.NotNil(t, resp.Latest)
	assert.Equal(t, 11, resp.Latest.Index)

	rec = do(t, mux, http.MethodPost, "/api/state", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShowState_Empty(t *testing.T) {
	t.Parallel()
	sess := session.New(estimator.New(estimator.DefaultConfig()), session.Options{})
	mux := NewServer(sess, nil, "furlongs").ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp["last_fix"])
	assert.NotContains(t, resp, "latest")
	assert.Equal(t, "mps", resp["units"], "invalid units fall back to m/s")
}

func TestListHistory(t *testing.T) {
	t.Parallel()
	mux := NewServer(newTestSession(t, 10), nil, units.MPS).ServeMux()

	tests := []struct {
		query     string
		status    int
		wantFirst int
		wantLen   int
	}{
		{"", http.StatusOK, 0, 10},
		{"?since=4", http.StatusOK, 4, 6},
		{"?since=4&limit=2", http.StatusOK, 4, 2},
		{"?since=50", http.StatusOK, 0, 0},
		{"?since=-1", http.StatusBadRequest, 0, 0},
		{"?limit=x", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, "/api/history"+tt.query, "")
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var steps []session.StepRecord
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&steps))
			require.NotNil(t, steps)
			require.Len(t, steps, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantFirst, steps[0].Index)
			}
		})
	}
}

func TestShowParams(t *testing.T) {
	t.Parallel()
	mux := NewServer(newTestSession(t, 1), nil, units.MPS).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paramsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, estimator.DefaultConfig().Params, resp.Params)
	assert.Contains(t, resp.Tunable, "gyroNoise")
}

func TestTune(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, 20)
	mux := NewServer(sess, nil, units.MPS).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/tune", `{"param":"gyroNoise","value":1.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tuneResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, session.ParamChange{Param: "gyroNoise", Before: 0.1, After: 1.5}, resp.Changes[0])
	assert.Equal(t, 1.5, resp.Params.GyroNoise)
	assert.Equal(t, 20, resp.Steps)
	require.NotNil(t, resp.Before)
	require.NotNil(t, resp.After)
	assert.Equal(t, 1.5, sess.Params().GyroNoise)

	bad := []struct {
		name string
		body string
	}{
		{"unknown param", `{"param":"warp","value":1}`},
		{"negative", `{"param":"b1","value":-1}`},
		{"missing value", `{"param":"b1"}`},
		{"malformed", `{"param":`},
		{"unknown field", `{"param":"b1","value":1,"x":2}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/tune", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, 1.5, sess.Params().GyroNoise, "rejected tunes leave params alone")

	rec = do(t, mux, http.MethodGet, "/api/tune", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShowConfig(t *testing.T) {
	t.Parallel()
	mux := NewServer(newTestSession(t, 0), nil, units.KNOTS).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "knots", resp["units"])
	assert.NotEmpty(t, resp["version"])
}

type fakeDispatcher struct {
	got []command.Command
	err error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, cmd command.Command) (command.Result, error) {
	f.got = append(f.got, cmd)
	if f.err != nil {
		return command.Result{}, f.err
	}
	return command.Result{Message: "sent " + cmd.Token}, nil
}

func TestSendCommand(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	mux := NewServer(newTestSession(t, 0), d, units.MPS).ServeMux()

	form := func(c string) string { return url.Values{"command": {c}}.Encode() }

	rec := do(t, mux, http.MethodPost, "/api/command", form("f"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "sent f")
	require.Len(t, d.got, 1)
	assert.Equal(t, command.KindMotion, d.got[0].Kind)

	rec = do(t, mux, http.MethodPost, "/api/command", form("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/command", form("nope"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, d.got, 1)

	d.err = command.ErrNoRoute
	rec = do(t, mux, http.MethodPost, "/api/command", form("s"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/command", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSendCommand_NotMountedWithoutDispatcher(t *testing.T) {
	t.Parallel()
	mux := NewServer(newTestSession(t, 0), nil, units.MPS).ServeMux()
	rec := do(t, mux, http.MethodPost, "/api/command", "command=f")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := do(t, h, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
