package routing

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/ratemeter/internal/config"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

func testRoutes(t *testing.T) *Router {
	t.Helper()
	cfg, err := config.Parse([]byte(`
routes:
  - id: api
    match:
      path_prefix: /api/
      methods: [get, POST]
    upstream:
      url: http://127.0.0.1:9000
    limit:
      capacity: 10
      period: 1s
    overrides:
      vip:
        capacity: 100
        period: 1s
  - id: catchall
    match:
      path_prefix: /
    upstream:
      url: http://127.0.0.1:9001
      timeout_ms: 500
`))
	require.NoError(t, err)

	r, err := FromConfig(cfg.Routes)
	require.NoError(t, err)
	return r
}

func TestRouter_Match(t *testing.T) {
	r := testRoutes(t)

	tests := []struct {
		method, path, want string
	}{
		{"GET", "/api", "api"},
		{"get", "/api/users", "api"},
		{"POST", "/api/users/1", "api"},
		{"DELETE", "/api/users", "catchall"},
		{"GET", "/apix", "catchall"},
		{"GET", "/", "catchall"},
	}
	for _, tt := range tests {
		rt, ok := r.Match(tt.method, tt.path)
		require.True(t, ok, "%s %s", tt.method, tt.path)
		assert.Equal(t, tt.want, rt.ID, "%s %s", tt.method, tt.path)
	}

	assert.Len(t, r.Routes(), 2)
	assert.Equal(t, 500*time.Millisecond, r.Routes()[1].Timeout)
	assert.Equal(t, "127.0.0.1:9001", r.Routes()[1].UpURL.Host)
}

func TestRouter_NoMatch(t *testing.T) {
	r := New()
	r.Add(&Route{ID: "only", Prefix: "/only", Methods: map[string]struct{}{"GET": {}}})

	_, ok := r.Match("GET", "/other")
	assert.False(t, ok)
	_, ok = r.Match("PUT", "/only")
	assert.False(t, ok)
}

func TestRoute_PolicyFor(t *testing.T) {
	r := testRoutes(t)
	fallback := ratelimit.Policy{Capacity: 1, Weight: 1, Period: time.Minute}

	api := r.Routes()[0]
	assert.Equal(t, uint32(100), api.PolicyFor("vip", fallback).Capacity)
	assert.Equal(t, uint32(10), api.PolicyFor("someone", fallback).Capacity)
	assert.Equal(t, fallback, r.Routes()[1].PolicyFor("vip", fallback))

	var none *Route
	assert.Equal(t, fallback, none.PolicyFor("x", fallback))
}

func TestSlot(t *testing.T) {
	slot := NewSlot()
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithSlot(context.Background(), slot))

	assert.Nil(t, slot.Route())
	_, ok := RouteFrom(req)
	assert.False(t, ok)

	rt := &Route{ID: "x"}
	req = WithRoute(req, rt)

	got, ok := RouteFrom(req)
	require.True(t, ok)
	assert.Same(t, rt, got)
	assert.Same(t, rt, slot.Route())
}
