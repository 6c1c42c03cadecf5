package reports

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for query orchestration.
type Metrics struct {
	QueriesIssued     *prometheus.CounterVec // Queries handed to the QueryService, by query name
	QueriesFailed     *prometheus.CounterVec // Queries that resolved as Failed, by query name
	ResultsSuperseded *prometheus.CounterVec // Responses dropped because a newer request was issued, by target
	QueryDuration     *prometheus.HistogramVec
	ActiveSessions    prometheus.Gauge
}

// NewMetrics creates the orchestration metrics and registers them with reg.
// Pass a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_queries_issued_total",
			Help: "Total number of named queries issued to the analytics backend",
		}, []string{"query"}),
		QueriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_queries_failed_total",
			Help: "Total number of named queries that failed",
		}, []string{"query"}),
		ResultsSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_results_superseded_total",
			Help: "Total number of query responses discarded because a newer request was issued",
		}, []string{"target"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_query_duration_seconds",
			Help:    "Wall time of named query executions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"query", "status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_sessions_active",
			Help: "Current number of open report sessions",
		}),
	}

	reg.MustRegister(m.QueriesIssued, m.QueriesFailed, m.ResultsSuperseded, m.QueryDuration, m.ActiveSessions)
	return m
}
