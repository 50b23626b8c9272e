package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	t.Parallel()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	})

	rec := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	t.Parallel()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "caller-chosen")
	RequestID()(inner).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "caller-chosen", seen)
}

// logLine decodes one zerolog JSON line from the buffer.
func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLoggerDemotesProbePaths(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		path      string
		wantLevel string
	}{
		{"/health", "debug"},
		{"/metrics", "debug"},
		{"/status", "debug"},
		{"/generate", "info"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log := zerolog.New(&buf)

		Logger(log)(ok).ServeHTTP(httptest.NewRecorder(),
			httptest.NewRequest(http.MethodGet, tc.path, nil))

		line := logLine(t, &buf)
		require.Equal(t, tc.wantLevel, line["level"], "path %s", tc.path)
		require.Equal(t, tc.path, line["path"])
	}
}

func TestLoggerKeepsErrorsLoudOnProbePaths(t *testing.T) {
	t.Parallel()

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	var buf bytes.Buffer
	Logger(zerolog.New(&buf))(failing).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/status", nil))

	line := logLine(t, &buf)
	require.Equal(t, "error", line["level"])
	require.Equal(t, float64(http.StatusBadGateway), line["status"])
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	t.Parallel()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	Recover(zerolog.New(&buf))(panicking).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/generate", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	line := logLine(t, &buf)
	require.Equal(t, "boom", line["error"])
	require.Equal(t, "/generate", line["path"])
}
