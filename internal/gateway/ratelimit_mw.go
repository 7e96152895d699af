package gateway

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/ratemeter/internal/auth"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
	"github.com/AlexKimmel/ratemeter/internal/routing"
)

// DefaultCostHeader carries the number of cells a request consumes.
const DefaultCostHeader = "X-RateLimit-Cost"

// Hooks observe rate-limit outcomes, e.g. for metrics. Nil hooks are skipped.
type Hooks struct {
	OnDecision func(routeID string, n uint32, res ratelimit.Result)
	OnError    func(routeID string)
}

type RateLimitOptions struct {
	// Default applies when neither the route nor a per-subject override
	// sets a policy.
	Default    ratelimit.Policy
	CostHeader string
	Skip       map[string]struct{}
	Hooks      Hooks
	// Now defaults to time.Now.
	Now func() time.Time
}

// RateLimit admits or rejects each request against the bucket of its
// route and subject. Overloaded requests get 429 with Retry-After;
// requests whose cost can never fit the bucket get 413.
func RateLimit(lim ratelimit.Limiter, opts RateLimitOptions) Middleware {
	costHeader := opts.CostHeader
	if costHeader == "" {
		costHeader = DefaultCostHeader
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := opts.Skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			subject, ok := auth.SubjectFrom(r.Context())
			if !ok {
				subject = auth.Anonymous
			}

			rt, _ := routing.RouteFrom(r)
			routeID := "unknown"
			limKey := subject
			if rt != nil && rt.ID != "" {
				routeID = rt.ID
				limKey = rt.ID + ":" + subject
			}

			n, err := parseCost(r.Header.Get(costHeader))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, "invalid_cost", costHeader+" must be a non-negative integer")
				return
			}

			p := rt.PolicyFor(subject, opts.Default)
			res, err := lim.Allow(r.Context(), limKey, p, n, now())
			if err != nil {
				if opts.Hooks.OnError != nil {
					opts.Hooks.OnError(routeID)
				}
				hlog.FromRequest(r).Error().Err(err).Str("route", routeID).Msg("rate limiter")
				writeJSON(w, http.StatusInternalServerError, "rate_limiter_error", "internal rate limiter error")
				return
			}
			if opts.Hooks.OnDecision != nil {
				opts.Hooks.OnDecision(routeID, n, res)
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatUint(uint64(res.Limit), 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatUint(uint64(res.Remaining), 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(res.ResetAfter), 10))

			switch {
			case res.Allowed:
				next.ServeHTTP(w, r)
			case res.Insufficient():
				hlog.FromRequest(r).Debug().Str("key", limKey).Uint32("cost", n).Msg("cost exceeds capacity")
				writeJSON(w, http.StatusRequestEntityTooLarge, "insufficient_capacity", "request cost exceeds rate limit capacity")
			default:
				hlog.FromRequest(r).Debug().Str("key", limKey).Dur("retry_after", res.RetryAfter).Msg("rate limited")
				h.Set("Retry-After", strconv.FormatInt(ceilSeconds(res.RetryAfter), 10))
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			}
		})
	}
}

func parseCost(v string) (uint32, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 1, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// ceilSeconds rounds up so a client honouring the header never retries early.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
