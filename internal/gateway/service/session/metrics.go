package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "respec"
	sessionSubsystem = "session"
)

// Metrics holds the Prometheus collectors of the session service.
type Metrics struct {
	// OperationsTotal counts operations by name and result (ok, error).
	OperationsTotal *prometheus.CounterVec
	// OperationSeconds measures operation latency by name.
	OperationSeconds *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	// Questions counts events that carried a pending conflict question.
	Questions prometheus.Counter
	// Candidates counts extracted candidates by outcome (added, rejected).
	Candidates *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "operations_total",
			Help:      "Session operations by operation and result.",
		}, []string{"operation", "result"}),
		OperationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "operation_seconds",
			Help:      "Session operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "Live sessions.",
		}),
		Questions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "questions_total",
			Help:      "Published events carrying a conflict question.",
		}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "extracted_candidates_total",
			Help:      "Candidates extracted from free text by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
	m.OperationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
