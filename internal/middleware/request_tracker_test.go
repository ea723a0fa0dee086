package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTrackerRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	var buf bytes.Buffer
	rt := NewRequestTracker(reg, "test", zerolog.New(&buf))

	r := chi.NewRouter()
	r.Use(rt.Middleware())
	r.Get("/guilds/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	for _, id := range []string{"1", "2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/guilds/"+id, nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(rt.requests.WithLabelValues("/guilds/{id}", "GET", "418")))
	assert.Equal(t, float64(0), testutil.ToFloat64(rt.inFlight))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/guilds/{id}", entry["route"])
	assert.Equal(t, float64(418), entry["status"])
	assert.Equal(t, float64(len("short and stout")), entry["size"])
}

func TestRequestTrackerDefaultsToOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := NewRequestTracker(reg, "test", zerolog.Nop())

	h := rt.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/plain", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(rt.requests.WithLabelValues("unmatched", "GET", "200")))
}
