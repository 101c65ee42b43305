// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shelf"

// Write operations, used as the "op" label.
const (
	OpAdd    = "add"
	OpDelete = "delete"
)

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	MountedViews         prometheus.Gauge
	DroppedNotifications prometheus.Counter
	AppliedNotifications *prometheus.CounterVec
	WriteFailures        *prometheus.CounterVec
	Resyncs              prometheus.Counter
	PendingViews         prometheus.Gauge
	SubscriptionFailures prometheus.Counter
}

// New registers every collector. liveSubs reports the number of open
// feed subscriptions at scrape time.
func New(liveSubs func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MountedViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mounted_views",
			Help:      "Reconciliation controllers currently mounted.",
		}),
		DroppedNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Insert notifications discarded because they belong to another owner.",
		}),
		AppliedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_applied_total",
			Help:      "Change notifications that modified a view, by kind.",
		}, []string{"kind"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Failed store writes issued by views, by operation.",
		}, []string{"op"}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Full-list resyncs performed after a failed delete.",
		}),
		PendingViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_views",
			Help:      "Rendered pages waiting for their websocket.",
		}),
		SubscriptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_failures_total",
			Help:      "Change subscriptions that ended in the errored state.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MountedViews,
		m.DroppedNotifications,
		m.AppliedNotifications,
		m.WriteFailures,
		m.Resyncs,
		m.PendingViews,
		m.SubscriptionFailures,
	)
	if liveSubs != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscriptions",
			Help:      "Open change-feed subscriptions.",
		}, func() float64 { return float64(liveSubs()) }))
	}

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry to tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
