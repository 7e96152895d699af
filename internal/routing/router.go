package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AlexKimmel/ratemeter/internal/config"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

type Route struct {
	ID      string
	Methods map[string]struct{} // empty matches every method
	Prefix  string
	UpURL   *url.URL
	Timeout time.Duration

	// Policy overrides the global default when non-nil.
	Policy *ratelimit.Policy
	// Overrides holds per-subject policies on this route.
	Overrides map[string]ratelimit.Policy
}

// PolicyFor picks the policy for subject: a per-subject override, then the
// route policy, then fallback.
func (rt *Route) PolicyFor(subject string, fallback ratelimit.Policy) ratelimit.Policy {
	if rt == nil {
		return fallback
	}
	if p, ok := rt.Overrides[subject]; ok {
		return p
	}
	if rt.Policy != nil {
		return *rt.Policy
	}
	return fallback
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

// FromConfig builds a router from validated route definitions.
func FromConfig(routes []config.Route) (*Router, error) {
	r := New()
	for _, c := range routes {
		up, err := url.Parse(c.Upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("route %s: upstream: %w", c.ID, err)
		}
		rt := &Route{
			ID:      c.ID,
			Methods: make(map[string]struct{}, len(c.Match.Methods)),
			Prefix:  c.Match.PathPrefix,
			UpURL:   up,
			Timeout: c.Upstream.Timeout(),
		}
		for _, m := range c.Match.Methods {
			rt.Methods[strings.ToUpper(m)] = struct{}{}
		}
		if c.Limit != nil {
			p := c.Limit.Policy()
			rt.Policy = &p
		}
		if len(c.Overrides) > 0 {
			rt.Overrides = make(map[string]ratelimit.Policy, len(c.Overrides))
			for subject, o := range c.Overrides {
				rt.Overrides[subject] = o.Policy()
			}
		}
		r.Add(rt)
	}
	return r, nil
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match returns the first route whose methods and path prefix match.
// Prefixes match on segment boundaries: "/api" matches "/api" and
// "/api/x" but not "/apix".
func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if len(rt.Methods) > 0 {
			if _, ok := rt.Methods[m]; !ok {
				continue
			}
		}
		prefix := strings.TrimSuffix(strings.TrimSpace(rt.Prefix), "/")
		if prefix == "" {
			return rt, true
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

type ctxKey int

const (
	keyRoute ctxKey = iota
	keySlot
)

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	if s, ok := ctx.Value(keySlot).(*Slot); ok {
		s.set(rt)
	}
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	rt, ok := r.Context().Value(keyRoute).(*Route)
	return rt, ok && rt != nil
}

// Slot lets middleware that runs before route matching see the matched
// route once the inner handler returns.
type Slot struct {
	route atomic.Pointer[Route]
}

func NewSlot() *Slot { return &Slot{} }

func (s *Slot) set(rt *Route) { s.route.Store(rt) }

// Route returns the matched route, or nil if none matched.
func (s *Slot) Route() *Route { return s.route.Load() }

func WithSlot(ctx context.Context, s *Slot) context.Context {
	return context.WithValue(ctx, keySlot, s)
}
