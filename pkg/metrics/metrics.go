// Package metrics exposes the gateway's Prometheus instrumentation:
// request volume and latency by provider and verdict, webhook delivery
// outcomes, and analysis-model call latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemom/aip/pkg/types"
)

// Registry bundles every collector the gateway records against. It is
// safe to construct more than one (tests do), each with its own
// prometheus.Registry so collectors never collide across cases.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	VerdictsTotal       *prometheus.CounterVec
	AnalysisDuration    prometheus.Histogram
	WebhookDeliveries   *prometheus.CounterVec
	AutoContainments    prometheus.Counter
	QuotaRejections     *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aip_gateway_requests_total",
			Help: "Proxied requests, by provider and upstream status class.",
		}, []string{"provider", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aip_gateway_request_duration_seconds",
			Help:    "End-to-end proxied request duration, including integrity analysis.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aip_integrity_verdicts_total",
			Help: "Integrity checkpoints emitted, by verdict.",
		}, []string{"verdict"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aip_analysis_model_duration_seconds",
			Help:    "Analysis-model call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aip_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
		AutoContainments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aip_auto_containments_total",
			Help: "Agents auto-paused for consecutive boundary_violation checkpoints.",
		}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aip_quota_rejections_total",
			Help: "Requests rejected by the quota decision table, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(r.RequestsTotal, r.RequestDuration, r.VerdictsTotal, r.AnalysisDuration, r.WebhookDeliveries, r.AutoContainments, r.QuotaRejections)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveRequest(provider string, statusClass string, d time.Duration) {
	r.RequestsTotal.WithLabelValues(provider, statusClass).Inc()
	r.RequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (r *Registry) ObserveVerdict(v types.Verdict) {
	r.VerdictsTotal.WithLabelValues(string(v)).Inc()
}

func (r *Registry) ObserveAnalysisDuration(d time.Duration) {
	r.AnalysisDuration.Observe(d.Seconds())
}

func (r *Registry) ObserveWebhookDelivery(outcome string) {
	r.WebhookDeliveries.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveAutoContainment() {
	r.AutoContainments.Inc()
}

func (r *Registry) ObserveQuotaRejection(reason string) {
	r.QuotaRejections.WithLabelValues(reason).Inc()
}
