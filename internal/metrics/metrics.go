// Package metrics — prometheus-счётчики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PullsTotal       *prometheus.CounterVec
	PullErrors       *prometheus.CounterVec
	PullDuration     prometheus.Histogram
	EventsAdded      *prometheus.CounterVec
	EventsRemoved    *prometheus.CounterVec
	ReconcileChanged *prometheus.CounterVec
	ReconcileNoop    *prometheus.CounterVec
	PushResults      *prometheus.CounterVec
	MissingCriticals *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	return NewWith(namespace, prometheus.DefaultRegisterer)
}

// NewWith позволяет тестам подсовывать свой Registry.
func NewWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PullsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_pulls_total",
			Help:      "Batch pull calls issued to carriers",
		}, []string{"operator"}),
		PullErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_pull_errors_total",
			Help:      "Failed carrier pull calls",
		}, []string{"operator"}),
		PullDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "carrier_pull_duration_seconds",
			Help:      "Duration of carrier pull calls",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsAdded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_added_total",
			Help:      "Events inserted by reconciliation",
		}, []string{"operator"}),
		EventsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_removed_total",
			Help:      "Stale events deleted by reconciliation",
		}, []string{"operator"}),
		ReconcileChanged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_changed_total",
			Help:      "Reconciliations that produced a write",
		}, []string{"operator"}),
		ReconcileNoop: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_noop_total",
			Help:      "Reconciliations with identical event sets (no write)",
		}, []string{"operator"}),
		PushResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_entities_total",
			Help:      "Pushed entities by outcome",
		}, []string{"operator", "result"}),
		MissingCriticals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_critical_statuses_total",
			Help:      "Completed entities missing a critical milestone",
		}, []string{"operator"}),
	}
}
