package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/boatnav/internal/command"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/httputil"
	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/units"
	"github.com/banshee-data/boatnav/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Session is the read side of the estimator session plus tuning.
type Session interface {
	State() estimator.State
	Covariance() [][]float64
	LastFix() geo.Fix
	Params() estimator.Params
	Latest() (session.StepRecord, bool)
	History() []session.StepRecord
	Observations() []session.Observation
	Len() int
	Tune(name string, value float64) (session.Comparison, error)
}

// Dispatcher runs operator commands received over HTTP.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (command.Result, error)
}

type Server struct {
	sess       Session
	dispatcher Dispatcher
	units      string
}

// NewServer returns a server over sess. dispatcher may be nil, in which
// case POST /api/command is not offered.
func NewServer(sess Session, dispatcher Dispatcher, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	return &Server{
		sess:       sess,
		dispatcher: dispatcher,
		units:      speedUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/history", s.listHistory)
	mux.HandleFunc("/api/params", s.showParams)
	mux.HandleFunc("/api/tune", s.tune)
	mux.HandleFunc("/api/config", s.showConfig)
	if s.dispatcher != nil {
		mux.HandleFunc("/api/command", s.sendCommand)
	}
	mux.HandleFunc("/charts/track", s.trackChart)
	mux.HandleFunc("/charts/heading", s.headingChart)
	mux.HandleFunc("/charts/", s.dashboard)
	return mux
}

type fixJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type stateResponse struct {
	State      estimator.State     `json:"state"`
	Speed      float64             `json:"speed"`
	Units      string              `json:"units"`
	Covariance [][]float64         `json:"covariance"`
	LastFix    *fixJSON            `json:"last_fix"`
	Steps      int                 `json:"steps"`
	Latest     *session.StepRecord `json:"latest,omitempty"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	st := s.sess.State()
	resp := stateResponse{
		State:      st,
		Speed:      units.ConvertSpeed(st.Speed(), s.units),
		Units:      s.units,
		Covariance: s.sess.Covariance(),
		Steps:      s.sess.Len(),
	}
	if fix := s.sess.LastFix(); fix.Valid {
		resp.LastFix = &fixJSON{X: fix.Point.X(), Y: fix.Point.Y()}
	}
	if latest, ok := s.sess.Latest(); ok {
		resp.Latest = &latest
	}
	httputil.WriteJSONOK(w, resp)
}

// listHistory returns steps with Index >= since, at most limit of them.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	since, err := queryInt(r, "since", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	history := s.sess.History()
	if since > len(history) {
		since = len(history)
	}
	history = history[since:]
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	if history == nil {
		history = []session.StepRecord{}
	}
	httputil.WriteJSONOK(w, history)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid '" + key + "' parameter")
	}
	return n, nil
}

type paramsResponse struct {
	Params  estimator.Params `json:"params"`
	Tunable []string         `json:"tunable"`
}

func (s *Server) showParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, paramsResponse{
		Params:  s.sess.Params(),
		Tunable: estimator.ParamNames(),
	})
}

type tuneRequest struct {
	Param string   `json:"param"`
	Value *float64 `json:"value"`
}

type tuneResponse struct {
	Changes []session.ParamChange `json:"changes"`
	Params  estimator.Params      `json:"params"`
	Before  *session.StepRecord   `json:"before,omitempty"`
	After   *session.StepRecord   `json:"after,omitempty"`
	Steps   int                   `json:"steps"`
}

// tune applies one parameter change and reports the final step of the
// replay before and after.
func (s *Server) tune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req tuneRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Param == "" || req.Value == nil {
		httputil.BadRequest(w, "'param' and 'value' are required")
		return
	}

	cmp, err := s.sess.Tune(req.Param, *req.Value)
	switch {
	case errors.Is(err, estimator.ErrUnknownParam), errors.Is(err, estimator.ErrInvalidParamValue):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}

	resp := tuneResponse{Changes: cmp.Changes, Params: s.sess.Params(), Steps: len(cmp.After)}
	if resp.Changes == nil {
		resp.Changes = []session.ParamChange{}
	}
	if n := len(cmp.Before); n > 0 {
		resp.Before = &cmp.Before[n-1]
	}
	if n := len(cmp.After); n > 0 {
		resp.After = &cmp.After[n-1]
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"units":      s.units,
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// sendCommand accepts the same tokens as the console, except exit.
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	cmd, err := command.Parse(r.FormValue("command"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if cmd.Kind == command.KindExit {
		httputil.BadRequest(w, "exit is only available on the console")
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), cmd)
	switch {
	case errors.Is(err, command.ErrUnavailable), errors.Is(err, command.ErrNoRoute):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, estimator.ErrUnknownParam), errors.Is(err, estimator.ErrInvalidParamValue):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"result": res.Message})
}
