// Package metrics exposes Prometheus collectors for the CRDT store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Publish pipeline metrics
	NodesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshkv_dag_nodes_published_total",
			Help: "Total number of DAG nodes published locally",
		},
	)

	NodesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshkv_dag_nodes_processed_total",
			Help: "Total number of DAG nodes merged into the set",
		},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshkv_dag_jobs_queued",
			Help: "Number of DAG jobs waiting for a worker",
		},
	)

	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshkv_dag_jobs_failed_total",
			Help: "Total number of DAG jobs that failed by reason",
		},
		[]string{"reason"},
	)

	// Head set metrics
	HeadsCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshkv_heads_current",
			Help: "Current number of Merkle-DAG heads",
		},
	)

	HeadMaxHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshkv_head_max_height",
			Help: "Maximum height across current heads",
		},
	)

	// Broadcast metrics
	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshkv_broadcasts_sent_total",
			Help: "Total number of head broadcasts sent by kind",
		},
		[]string{"kind"},
	)

	BroadcastsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshkv_broadcasts_dropped_total",
			Help: "Total number of inbound broadcasts dropped (bad payload or unsubscribed topic)",
		},
	)

	// Merge metrics
	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshkv_merge_duration_seconds",
			Help:    "Time taken to merge a delta in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesPublished)
	prometheus.MustRegister(NodesProcessed)
	prometheus.MustRegister(JobsQueued)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(HeadsCurrent)
	prometheus.MustRegister(HeadMaxHeight)
	prometheus.MustRegister(BroadcastsSent)
	prometheus.MustRegister(BroadcastsDropped)
	prometheus.MustRegister(MergeDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
