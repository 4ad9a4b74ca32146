// Package obs exposes the proxy's Prometheus metrics on a private
// registry so tests can assert on counters without global state.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every collector the proxy updates.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests    *prometheus.CounterVec
	InterceptedFlows prometheus.Counter
	Decisions        *prometheus.CounterVec
	Injections       *prometheus.CounterVec
	CallbackHits     prometheus.Counter
	UpstreamDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmb_proxy_requests_total",
			Help: "Proxied requests by outcome (forwarded, tunneled, dropped, bad_request, upstream_error).",
		}, []string{"outcome"}),
		InterceptedFlows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmb_intercepted_flows_total",
			Help: "Requests held for an operator decision.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmb_decisions_total",
			Help: "Operator decisions delivered, by kind (forward, drop, modify, timeout).",
		}, []string{"kind"}),
		Injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmb_injections_total",
			Help: "Beacon injection attempts by result (injected, appended, skipped, failed).",
		}, []string{"result"}),
		CallbackHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmb_callback_hits_total",
			Help: "Requests received on the beacon endpoint.",
		}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pmb_upstream_duration_seconds",
			Help:    "Latency of upstream origin requests.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.ProxyRequests,
		m.InterceptedFlows,
		m.Decisions,
		m.Injections,
		m.CallbackHits,
		m.UpstreamDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
