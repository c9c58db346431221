// Package metrics wraps the spec.md §6 metric set in a
// prometheus/client_golang registry, replacing the hand-rolled
// counter/gauge/histogram maps and bespoke text-exposition writer the
// teacher's internal/metrics carried. Exposing a prometheus.Gatherer
// rather than writing the exposition format ourselves keeps this package
// honest about what it's for: recording observations, not serving
// /metrics (that's internal/admin's job, wired to promhttp at the edge).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter/gauge/histogram spec.md §6 names.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
	UpstreamFailures   *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	EndpointHealthy    *prometheus.GaugeVec
	RateLimitedTotal   *prometheus.CounterVec
	ActiveConnections  *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total requests admitted to a route, by final status.",
		}, []string{"route", "status"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Upstream round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Upstream dispatch failures, by endpoint and failure kind.",
		}, []string{"endpoint", "kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker phase per endpoint: 0=closed, 1=half_open, 2=open.",
		}, []string{"endpoint"}),
		EndpointHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_healthy",
			Help: "Endpoint health state: 1=healthy, 0=unhealthy/unknown.",
		}, []string{"endpoint"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by a rate limit, by route.",
		}, []string{"route"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Open connections per listener.",
		}, []string{"listener"}),
	}

	reg.MustRegister(
		r.RequestsTotal,
		r.UpstreamLatency,
		r.UpstreamFailures,
		r.BreakerState,
		r.EndpointHealthy,
		r.RateLimitedTotal,
		r.ActiveConnections,
	)
	return r
}

// Gatherer exposes the underlying collector set to an exposition
// handler (promhttp.HandlerFor), kept out of this package by design.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) IncRequest(route, status string) {
	r.RequestsTotal.WithLabelValues(route, status).Inc()
}

func (r *Registry) ObserveUpstreamLatency(route string, d time.Duration) {
	r.UpstreamLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) IncUpstreamFailure(endpoint, kind string) {
	r.UpstreamFailures.WithLabelValues(endpoint, kind).Inc()
}

func (r *Registry) SetBreakerState(endpoint string, phase int) {
	r.BreakerState.WithLabelValues(endpoint).Set(float64(phase))
}

func (r *Registry) SetEndpointHealthy(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.EndpointHealthy.WithLabelValues(endpoint).Set(v)
}

func (r *Registry) IncRateLimited(route string) {
	r.RateLimitedTotal.WithLabelValues(route).Inc()
}

func (r *Registry) IncActiveConnections(listener string) {
	r.ActiveConnections.WithLabelValues(listener).Inc()
}

func (r *Registry) DecActiveConnections(listener string) {
	r.ActiveConnections.WithLabelValues(listener).Dec()
}
