package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/deepdesk/internal/deepresearch"
)

// Metrics groups the Prometheus instruments of the daemon. Each instance
// owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	StatusPolls    *prometheus.CounterVec
	PhaseEntries   *prometheus.CounterVec
	Notifications  prometheus.Counter
	Deliveries     *prometheus.CounterVec
	HistoryEntries prometheus.Gauge
	OutboxBacklog  prometheus.Gauge
}

// NewMetrics registers the instruments under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StatusPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status fetches by path and outcome.",
		}, []string{"source", "outcome"}),
		PhaseEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_phase_entries_total",
			Help:      "Lifecycle phase transitions of session tasks.",
		}, []string{"phase"}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_notifications_total",
			Help:      "Completion notifications sent.",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		HistoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Entries currently kept in the research history.",
		}),
		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Remote writes waiting for delivery.",
		}),
	}
}

// PollCompleted counts one status fetch.
func (m *Metrics) PollCompleted(source string, err error) {
	m.StatusPolls.WithLabelValues(source, outcome(err)).Inc()
}

// PhaseEntered counts one lifecycle transition.
func (m *Metrics) PhaseEntered(phase string) {
	m.PhaseEntries.WithLabelValues(phase).Inc()
}

// NotificationSent counts one completion notification.
func (m *Metrics) NotificationSent() {
	m.Notifications.Inc()
}

// DeliveryFinished counts one outbox attempt.
func (m *Metrics) DeliveryFinished(kind string, err error) {
	m.Deliveries.WithLabelValues(kind, outcome(err)).Inc()
}

// SetHistoryEntries records the history size.
func (m *Metrics) SetHistoryEntries(n int) {
	m.HistoryEntries.Set(float64(n))
}

// OutboxPending records the outbox backlog.
func (m *Metrics) OutboxPending(n int) {
	m.OutboxBacklog.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case deepresearch.IsAuthExpired(err):
		return "auth_expired"
	default:
		return "error"
	}
}
