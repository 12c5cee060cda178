// Package prometheus exports textgo engine events as Prometheus metrics.
//
//	obs, err := prometheus.NewObserver(prom.DefaultRegisterer)
//	db, err := textgo.Open("./data", textgo.WithMetricsObserver(obs))
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "textgo"

// Observer implements textgo.MetricsObserver.
type Observer struct {
	opLatency   *prometheus.HistogramVec
	writes      *prometheus.CounterVec
	searchHits  prometheus.Histogram
	commitOps   prometheus.Histogram
	conflicts   prometheus.Counter
	flushes     *prometheus.CounterVec
	flushedDocs prometheus.Counter
	flushBytes  prometheus.Counter
	compactions *prometheus.CounterVec
	mergedSegs  prometheus.Counter
	queueDepth  *prometheus.GaugeVec
	throughput  *prometheus.CounterVec
	memUsed     prometheus.Gauge
	memLimit    prometheus.Gauge
}

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of engine operations.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op", "status"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Writes by type.",
		}, []string{"type"}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Number of hits returned per search.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 1000},
		}),
		commitOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_ops",
			Help:      "Operations per committed transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_conflicts_total",
			Help:      "Commits rejected by conflict detection.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Write buffer flushes.",
		}, []string{"status"}),
		flushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_documents_total",
			Help:      "Documents written to segments by flushes.",
		}),
		flushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_bytes_total",
			Help:      "Segment bytes written by flushes.",
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Segment merges.",
		}, []string{"status"}),
		mergedSegs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_segments_total",
			Help:      "Input segments consumed by merges.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Depth of background queues.",
		}, []string{"queue"}),
		throughput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_bytes_total",
			Help:      "Bytes processed by background IO.",
		}, []string{"stage"}),
		memUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_memory_bytes",
			Help:      "Write buffer memory in use.",
		}),
		memLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_memory_limit_bytes",
			Help:      "Write buffer memory ceiling. Zero means unlimited.",
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		o.opLatency, o.writes, o.searchHits, o.commitOps, o.conflicts,
		o.flushes, o.flushedDocs, o.flushBytes, o.compactions, o.mergedSegs,
		o.queueDepth, o.throughput, o.memUsed, o.memLimit,
	} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return o, nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) OnInsert(d time.Duration, err error) {
	o.opLatency.WithLabelValues("insert", status(err)).Observe(d.Seconds())
	o.writes.WithLabelValues("insert").Inc()
}

func (o *Observer) OnDelete(d time.Duration, err error) {
	o.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
	o.writes.WithLabelValues("delete").Inc()
}

func (o *Observer) OnSearch(d time.Duration, hits int, err error) {
	o.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if err == nil {
		o.searchHits.Observe(float64(hits))
	}
}

func (o *Observer) OnCommit(d time.Duration, ops int, err error) {
	o.opLatency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
	if err == nil {
		o.commitOps.Observe(float64(ops))
	}
}

func (o *Observer) OnConflict() { o.conflicts.Inc() }

func (o *Observer) OnFlush(d time.Duration, docs int, bytes int64, err error) {
	o.opLatency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	o.flushes.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.flushedDocs.Add(float64(docs))
		o.flushBytes.Add(float64(bytes))
	}
}

func (o *Observer) OnCompaction(d time.Duration, inputs, _ int, err error) {
	o.opLatency.WithLabelValues("compaction", status(err)).Observe(d.Seconds())
	o.compactions.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.mergedSegs.Add(float64(inputs))
	}
}

func (o *Observer) OnQueueDepth(name string, depth int) {
	o.queueDepth.WithLabelValues(name).Set(float64(depth))
}

func (o *Observer) OnThroughput(name string, bytes int64) {
	o.throughput.WithLabelValues(name).Add(float64(bytes))
}

func (o *Observer) OnMemoryStatus(used, limit int64) {
	o.memUsed.Set(float64(used))
	o.memLimit.Set(float64(limit))
}
