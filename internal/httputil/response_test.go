package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "test error", decodeBody(t, rec)["error"])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hello", decodeBody(t, rec)["message"])
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]string{"error": ""}) }, http.StatusOK, ""},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w) }, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeBody(t, rec)["error"])
		})
	}
}

func TestMethodNotAllowed_AllowHeader(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodPost)
	assert.Equal(t, []string{"GET", "POST"}, rec.Header().Values("Allow"))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	type body struct {
		Param string  `json:"param"`
		Value float64 `json:"value"`
	}
	tests := []struct {
		name    string
		body    string
		want    body
		wantErr string
	}{
		{"valid", `{"param":"b1","value":2}`, body{"b1", 2}, ""},
		{"empty", ``, body{}, "empty request body"},
		{"unknown field", `{"param":"b1","extra":1}`, body{}, "unknown field"},
		{"trailing", `{"param":"b1"} {}`, body{}, "trailing data"},
		{"malformed", `{"param":`, body{}, "invalid JSON body"},
		{"too large", `{"param":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, body{}, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var got body
			err := DecodeJSON(req, &got)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
