// Package metrics exposes prometheus collectors for executions, steps, the
// queue and triggers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowgate"

type Metrics struct {
	registry     *prometheus.Registry
	executions   *prometheus.CounterVec
	steps        *prometheus.CounterVec
	queueItems   *prometheus.CounterVec
	itemDuration prometheus.Histogram
	webhooks     *prometheus.CounterVec
	schedules    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions that reached a terminal or suspended state",
		}, []string{"status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step executions by node kind and resulting status",
		}, []string{"kind", "status"}),
		queueItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_total",
			Help:      "Queue item transitions",
		}, []string{"outcome"}),
		itemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_item_duration_seconds",
			Help:      "Time spent processing one queue item",
			Buckets:   prometheus.DefBuckets,
		}),
		webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook trigger requests by result",
		}, []string{"result"}),
		schedules: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Schedule evaluations by result",
		}, []string{"status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(status).Inc()
}

func (m *Metrics) StepFinished(kind string, status string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) QueueItem(outcome string) {
	if m == nil {
		return
	}
	m.queueItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueItemProcessed(d time.Duration) {
	if m == nil {
		return
	}
	m.itemDuration.Observe(d.Seconds())
}

func (m *Metrics) WebhookRequest(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) ScheduleFired(status string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(status).Inc()
}
