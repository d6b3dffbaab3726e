package query

import "github.com/prometheus/client_golang/prometheus"

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	joinLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "blotter_join_latency_seconds",
		Help: "Hash join latency distribution",
	})
	aggregateLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "blotter_aggregate_latency_seconds",
		Help: "Group count latency distribution",
	}, []string{"column"})
	normalizeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "blotter_normalize_latency_seconds",
		Help: "Min-max fit and transform latency distribution",
	})
	joinedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blotter_joined_rows_total",
		Help: "Rows produced by the correlator",
	})
)

func init() {
	prometheus.MustRegister(joinLatency, aggregateLatency, normalizeLatency, joinedRows)
}
