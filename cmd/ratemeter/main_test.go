package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/ratemeter/internal/config"
	"github.com/AlexKimmel/ratemeter/internal/obs"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit/memory"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSimulate(t *testing.T) {
	out, err := execute(t, "simulate", "--capacity", "2", "--period", "1s", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "interval=500ms tau=1s", lines[0])
	assert.Contains(t, lines[1], "admit remaining=1")
	assert.Contains(t, lines[2], "admit remaining=0")
	assert.Contains(t, lines[3], "reject wait=500ms")
	assert.Equal(t, "admitted 2 of 3", lines[4])
}

func TestSimulate_SpacedChecksAllAdmit(t *testing.T) {
	out, err := execute(t, "simulate", "--capacity", "10", "--period", "1s", "--count", "30", "--every", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "admitted 30 of 30")
}

func TestSimulate_InsufficientCapacity(t *testing.T) {
	out, err := execute(t, "simulate", "--capacity", "5", "--n", "6", "--count", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "reject insufficient capacity")
	assert.Contains(t, out, "admitted 0 of 1")
}

func TestSimulate_InvalidPolicy(t *testing.T) {
	_, err := execute(t, "simulate", "--capacity", "0")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ratemeter "+version+"\n", out)
}

func TestHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	}))
	defer upstream.Close()

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
auth:
  allow_anonymous: true
routes:
  - id: api
    match:
      path_prefix: /api
    upstream:
      url: %s
    limit:
      capacity: 1
      period: 1m
`, upstream.URL)))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	lim := memory.New()
	defer lim.Close()
	m := obs.NewMetrics(reg, lim.Len)

	h, err := newHandler(cfg, zerolog.Nop(), lim, reg, m)
	require.NoError(t, err)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/items")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream /api/items", rec.Body.String())

	rec = get("/api/items")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNotFound, get("/other").Code)
	assert.Equal(t, http.StatusOK, get("/health").Code)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ratemeter_buckets 1")
}
