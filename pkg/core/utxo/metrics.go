package utxo

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons reported on the skipped-entries counter.
const (
	skipReasonDecode  = "decode"
	skipReasonMissing = "missing"
	skipReasonIO      = "io"
)

var (
	prometheusReindex         prometheus.Counter
	prometheusReindexErrors   prometheus.Counter
	prometheusIndexedEntries  prometheus.Gauge
	prometheusSkippedEntries  *prometheus.CounterVec
	prometheusQueryDuration   *prometheus.HistogramVec
	prometheusCacheHits       prometheus.Counter
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusReindex = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "reindex",
			Help:      "Number of completed UTXO index rebuilds",
		},
	)
	prometheusReindexErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "reindex_errors",
			Help:      "Number of UTXO index rebuilds that aborted",
		},
	)
	prometheusIndexedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "indexed_transactions",
			Help:      "Number of transaction ids written by the last successful rebuild",
		},
	)
	prometheusSkippedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "skipped_entries",
			Help:      "Number of index entries skipped during query scans",
		},
		[]string{"reason"},
	)
	prometheusQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "query_duration_seconds",
			Help:      "Duration of UTXO index queries",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"query"},
	)
	prometheusCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxod",
			Subsystem: "utxoset",
			Name:      "cache_hits",
			Help:      "Number of queries answered from the cached owner view",
		},
	)
}
