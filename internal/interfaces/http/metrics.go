package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's Prometheus collectors. Each instance owns its
// registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	statusPolls     *prometheus.CounterVec
	agentStatus     *prometheus.GaugeVec
	reconnectsTotal prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

var knownStatuses = []string{"online", "offline", "error", "restarting", "connecting"}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawdeck",
				Subsystem: "actions",
				Name:      "total",
				Help:      "Panel actions dispatched, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clawdeck",
				Subsystem: "actions",
				Name:      "duration_seconds",
				Help:      "Time from button press to agent response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		statusPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawdeck",
				Subsystem: "status",
				Name:      "polls_total",
				Help:      "Status polls, by resulting status",
			},
			[]string{"status"},
		),
		agentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clawdeck",
				Subsystem: "agent",
				Name:      "status",
				Help:      "1 for the agent's current status, 0 otherwise",
			},
			[]string{"status"},
		),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clawdeck",
			Subsystem: "agent",
			Name:      "reconnects_total",
			Help:      "Agent RPC reconnect attempts",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawdeck",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Status API requests",
			},
			[]string{"path", "method", "status"},
		),
	}
	m.registry.MustRegister(
		m.actionsTotal,
		m.actionDuration,
		m.statusPolls,
		m.agentStatus,
		m.reconnectsTotal,
		m.httpRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// ActionDispatched records one dispatched action.
func (m *Metrics) ActionDispatched(actionID, outcome string, d time.Duration) {
	m.actionsTotal.WithLabelValues(actionID, outcome).Inc()
	m.actionDuration.WithLabelValues(actionID).Observe(d.Seconds())
}

// StatusPolled records a poll result and flips the status gauge.
func (m *Metrics) StatusPolled(status string, _ error) {
	m.statusPolls.WithLabelValues(status).Inc()
	for _, s := range knownStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.agentStatus.WithLabelValues(s).Set(v)
	}
}

// Reconnected counts an agent reconnect attempt.
func (m *Metrics) Reconnected() {
	m.reconnectsTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// middleware counts requests by route pattern, not raw path, to keep label
// cardinality bounded.
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
