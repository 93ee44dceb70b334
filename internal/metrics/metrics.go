package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds board counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	CardsAdded      *prometheus.CounterVec
	CardsMoved      *prometheus.CounterVec
	CardsDeleted    *prometheus.CounterVec
	TrashPurged     prometheus.Counter
	PersistFailures *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CardsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cards_added_total",
			Help: "Cards added, by column.",
		}, []string{"column"}),
		CardsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cards_moved_total",
			Help: "Successful reorders, by destination column.",
		}, []string{"column"}),
		CardsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cards_deleted_total",
			Help: "Soft deletes, by entry point.",
		}, []string{"source"}),
		TrashPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskboard_trash_purged_total",
			Help: "History entries removed permanently.",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_persist_failures_total",
			Help: "Swallowed snapshot write failures, by key.",
		}, []string{"key"}),
	}
	reg.MustRegister(m.CardsAdded, m.CardsMoved, m.CardsDeleted, m.TrashPurged, m.PersistFailures)
	return m
}

func (m *Metrics) Added(column string) {
	if m != nil {
		m.CardsAdded.WithLabelValues(column).Inc()
	}
}

func (m *Metrics) Moved(column string) {
	if m != nil {
		m.CardsMoved.WithLabelValues(column).Inc()
	}
}

func (m *Metrics) Deleted(source string) {
	if m != nil {
		m.CardsDeleted.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Purged(n int) {
	if m != nil && n > 0 {
		m.TrashPurged.Add(float64(n))
	}
}

func (m *Metrics) PersistFailed(key string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(key).Inc()
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
