// Package metrics exposes Prometheus collectors for the ledger core.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry           *prometheus.Registry
	movementsPosted    *prometheus.CounterVec
	movementsFailed    *prometheus.CounterVec
	fraudAlerts        *prometheus.CounterVec
	fraudEvalDuration  prometheus.Histogram
	fraudJobsDropped   prometheus.Counter
	fraudQueueDepth    prometheus.Gauge
	escrowSwept        prometheus.Counter
	riskScores         prometheus.Histogram
	httpRequestLatency *prometheus.HistogramVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	return &Collector{
		registry: registry,
		movementsPosted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_movements_posted_total",
			Help: "Completed ledger movements by kind",
		}, []string{"kind"}),
		movementsFailed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_movements_failed_total",
			Help: "Rejected ledger movements by kind and error code",
		}, []string{"kind", "code"}),
		fraudAlerts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Fraud alerts raised by rule type and severity",
		}, []string{"rule_type", "severity"}),
		fraudEvalDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_evaluation_duration_seconds",
			Help:    "Time taken to evaluate all active rules for one movement",
			Buckets: prometheus.DefBuckets,
		}),
		fraudJobsDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "fraud_jobs_dropped_total",
			Help: "Fraud evaluation jobs dropped because the queue was full or stopped",
		}),
		fraudQueueDepth: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "fraud_queue_depth",
			Help: "Fraud evaluation jobs waiting for a worker",
		}),
		escrowSwept: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "escrow_holds_expired_total",
			Help: "Escrow holds refunded by the expiry sweep",
		}),
		riskScores: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_score_distribution",
			Help:    "Distribution of computed account risk scores",
			Buckets: []float64{0, 20, 40, 60, 80, 100},
		}),
		httpRequestLatency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (c *Collector) MovementPosted(kind string) {
	if c == nil {
		return
	}
	c.movementsPosted.WithLabelValues(kind).Inc()
}

func (c *Collector) MovementFailed(kind, code string) {
	if c == nil {
		return
	}
	c.movementsFailed.WithLabelValues(kind, code).Inc()
}

func (c *Collector) FraudAlert(ruleType, severity string) {
	if c == nil {
		return
	}
	c.fraudAlerts.WithLabelValues(ruleType, severity).Inc()
}

func (c *Collector) FraudEvaluated(duration time.Duration) {
	if c == nil {
		return
	}
	c.fraudEvalDuration.Observe(duration.Seconds())
}

func (c *Collector) FraudJobDropped() {
	if c == nil {
		return
	}
	c.fraudJobsDropped.Inc()
}

func (c *Collector) FraudQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.fraudQueueDepth.Set(float64(depth))
}

func (c *Collector) EscrowExpired(count int) {
	if c == nil {
		return
	}
	c.escrowSwept.Add(float64(count))
}

func (c *Collector) RiskScore(score int) {
	if c == nil {
		return
	}
	c.riskScores.Observe(float64(score))
}

func (c *Collector) HTTPRequest(method, route, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestLatency.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
