package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/ratemeter/internal/gateway"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
	"github.com/AlexKimmel/ratemeter/internal/routing"
)

// Decision outcome label values.
const (
	OutcomeAdmit        = "admit"
	OutcomeOverloaded   = "overloaded"
	OutcomeInsufficient = "insufficient_capacity"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	Cells           *prometheus.CounterVec
	RetryAfter      *prometheus.HistogramVec
	LimiterErrors   *prometheus.CounterVec
	Evictions       prometheus.Counter
}

// NewMetrics registers the collectors on reg. buckets, when non-nil,
// backs a gauge of tracked rate-limit buckets.
func NewMetrics(reg prometheus.Registerer, buckets func() int) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemeter_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratemeter_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemeter_decisions_total",
				Help: "Rate limit decisions by outcome",
			},
			[]string{"route", "outcome"},
		),
		Cells: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemeter_admitted_cells_total",
				Help: "Cells admitted by the rate limiter",
			},
			[]string{"route"},
		),
		RetryAfter: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratemeter_retry_after_seconds",
				Help:    "Wait time handed to overloaded callers",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"route"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratemeter_limiter_errors_total",
				Help: "Total rate limiter errors",
			},
			[]string{"route"},
		),
		Evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ratemeter_bucket_evictions_total",
				Help: "Idle rate-limit buckets dropped by the sweeper",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Decisions, m.Cells, m.RetryAfter, m.LimiterErrors, m.Evictions)
	if buckets != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ratemeter_buckets",
				Help: "Rate-limit buckets currently tracked",
			},
			func() float64 { return float64(buckets()) },
		))
	}
	return m
}

// Outcome maps a decision to its label value.
func Outcome(res ratelimit.Result) string {
	switch {
	case res.Allowed:
		return OutcomeAdmit
	case res.Insufficient():
		return OutcomeInsufficient
	default:
		return OutcomeOverloaded
	}
}

// ObserveDecision records one rate-limit decision for route.
func (m *Metrics) ObserveDecision(route string, n uint32, res ratelimit.Result) {
	m.Decisions.WithLabelValues(route, Outcome(res)).Inc()
	if res.Allowed {
		m.Cells.WithLabelValues(route).Add(float64(n))
		return
	}
	if res.RetryAfter > 0 {
		m.RetryAfter.WithLabelValues(route).Observe(res.RetryAfter.Seconds())
	}
}

// ObserveError records a limiter failure for route.
func (m *Metrics) ObserveError(route string) {
	m.LimiterErrors.WithLabelValues(route).Inc()
}

// ObserveEvictions is shaped for memory.OnEvict.
func (m *Metrics) ObserveEvictions(n int) {
	m.Evictions.Add(float64(n))
}

// Hooks adapts the metrics to the rate-limit middleware callbacks.
func (m *Metrics) Hooks() gateway.Hooks {
	return gateway.Hooks{
		OnDecision: m.ObserveDecision,
		OnError:    m.ObserveError,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics. It must run outside the
// route matcher so the matched route is visible after next returns.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			slot := routing.NewSlot()

			next.ServeHTTP(rec, r.WithContext(routing.WithSlot(r.Context(), slot)))

			route := "unknown"
			if rt := slot.Route(); rt != nil && rt.ID != "" {
				route = rt.ID
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
