// Package metrics provides Prometheus metrics for the question answering pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	ChatRequestsTotal   *prometheus.CounterVec
	ChatDuration        *prometheus.HistogramVec
	RetrievalTotal      *prometheus.CounterVec
	RetrievalDuration   *prometheus.HistogramVec
	RefusalsTotal       *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter
	TokenExchangesTotal *prometheus.CounterVec
	TitleJobsTotal      *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChatRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_chat_requests_total",
				Help: "Total number of chat requests by outcome",
			},
			[]string{"approach", "outcome"},
		),
		ChatDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_chat_duration_seconds",
				Help:    "End-to-end duration of chat requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"approach"},
		),
		RetrievalTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_retrieval_total",
				Help: "Total number of retrieval calls by approach and outcome",
			},
			[]string{"approach", "outcome"},
		),
		RetrievalDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_retrieval_duration_seconds",
				Help:    "Duration of retrieval calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"approach"},
		),
		RefusalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_refusals_total",
				Help: "Total number of refused turns by reason",
			},
			[]string{"reason"},
		),
		RateLimitedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		TokenExchangesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_token_exchanges_total",
				Help: "Total number of on-behalf-of exchanges by outcome",
			},
			[]string{"outcome"},
		),
		TitleJobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_title_jobs_total",
				Help: "Total number of conversation title jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordChat records a finished chat request.
func (m *Metrics) RecordChat(approach, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(approach, outcome).Inc()
	m.ChatDuration.WithLabelValues(approach).Observe(d.Seconds())
}

// RecordRetrieval records one backend call.
func (m *Metrics) RecordRetrieval(approach, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalTotal.WithLabelValues(approach, outcome).Inc()
	m.RetrievalDuration.WithLabelValues(approach).Observe(d.Seconds())
}

// RecordRefusal records a refused turn.
func (m *Metrics) RecordRefusal(reason string) {
	if m == nil {
		return
	}
	m.RefusalsTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimited records a rejected admission.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordTokenExchange records an exchange attempt (hit, exchanged, failed, rejected).
func (m *Metrics) RecordTokenExchange(outcome string) {
	if m == nil {
		return
	}
	m.TokenExchangesTotal.WithLabelValues(outcome).Inc()
}

// RecordTitleJob records a title job transition.
func (m *Metrics) RecordTitleJob(outcome string) {
	if m == nil {
		return
	}
	m.TitleJobsTotal.WithLabelValues(outcome).Inc()
}
