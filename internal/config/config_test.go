package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

const sample = `
server:
  addr: ":9090"
  read_timeout_ms: 2000
observability:
  log_level: DEBUG
auth:
  header: X-Key
  allow_anonymous: true
  keys:
    - id: alice
      secret: s3cret
limits:
  default:
    capacity: 5
    period: 1s
  max_idle: 30m
routes:
  - id: api
    match:
      path_prefix: /api
      methods: [GET]
    upstream:
      url: http://localhost:9000
    limit:
      capacity: 10
      weight: 2
      period: 2s
    overrides:
      alice:
        capacity: 50
        period: 1s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout())
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBody())
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "/metrics", cfg.Observability.PrometheusPath)
	assert.True(t, cfg.Auth.AllowAnonymous)

	assert.Equal(t, ratelimit.Policy{Capacity: 5, Weight: 1, Period: time.Second}, cfg.Limits.Default.Policy())
	assert.Equal(t, "X-RateLimit-Cost", cfg.Limits.CostHeader)
	assert.Equal(t, time.Minute, cfg.Limits.EvictInterval)
	assert.Equal(t, 30*time.Minute, cfg.Limits.MaxIdle)

	require.Len(t, cfg.Routes, 1)
	rt := cfg.Routes[0]
	assert.Equal(t, 3*time.Second, rt.Upstream.Timeout())
	require.NotNil(t, rt.Limit)
	assert.Equal(t, ratelimit.Policy{Capacity: 10, Weight: 2, Period: 2 * time.Second}, rt.Limit.Policy())
	assert.Equal(t, uint32(50), rt.Overrides["alice"].Capacity)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "X-API-Key", cfg.Auth.Header)
	assert.Equal(t, ratelimit.Policy{Capacity: 60, Weight: 1, Period: time.Minute}, cfg.Limits.Default.Policy())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "interval rounds to zero",
			doc:  "limits:\n  default:\n    capacity: 1000\n    period: 100ns\n",
			want: "limits.default",
		},
		{
			name: "weight above capacity",
			doc: `
routes:
  - id: a
    match: {path_prefix: /a}
    upstream: {url: "http://x"}
    limit: {capacity: 1, weight: 2, period: 1s}
`,
			want: "routes[0] (a).limit",
		},
		{
			name: "bad override",
			doc: `
routes:
  - id: a
    match: {path_prefix: /a}
    upstream: {url: "http://x"}
    overrides:
      bob: {capacity: 0, period: 1s}
`,
			want: "Capacity",
		},
		{
			name: "duplicate route",
			doc: `
routes:
  - {id: a, match: {path_prefix: /a}, upstream: {url: "http://x"}}
  - {id: a, match: {path_prefix: /b}, upstream: {url: "http://y"}}
`,
			want: "duplicate route id",
		},
		{
			name: "missing upstream",
			doc: `
routes:
  - {id: a, match: {path_prefix: /a}}
`,
			want: "Upstream.URL",
		},
		{
			name: "relative prefix",
			doc: `
routes:
  - {id: a, match: {path_prefix: a}, upstream: {url: "http://x"}}
`,
			want: "PathPrefix",
		},
		{
			name: "unknown log level",
			doc:  "observability:\n  log_level: loud\n",
			want: "LogLevel",
		},
		{
			name: "reused secret",
			doc: `
auth:
  keys:
    - {id: a, secret: s}
    - {id: b, secret: s}
`,
			want: "secret reused",
		},
		{
			name: "malformed period",
			doc:  "limits:\n  default:\n    capacity: 1\n    period: soon\n",
			want: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ConstructionErrorIsWrapped(t *testing.T) {
	_, err := Parse([]byte("limits:\n  default:\n    capacity: 1000\n    period: 100ns\n"))
	assert.ErrorIs(t, err, ratelimit.ErrIntervalTooSmall)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Example(t *testing.T) {
	cfg, err := Load("../../config.example.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, uint32(100), cfg.Routes[0].Overrides["acme"].Capacity)
	assert.Equal(t, 3*time.Second, cfg.Routes[1].Upstream.Timeout())
	assert.Equal(t, uint32(2), cfg.Routes[1].Limit.Weight)
}
