// Package stats owns the process-wide self-metrics registry. The
// collector is expected to keep working while the host is under
// pressure; these series are how we notice when it is not.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder bundles the collector's self-metrics.
type Recorder struct {
	registry *prometheus.Registry

	TickDuration      prometheus.Histogram
	SamplesCollected  prometheus.Counter
	ExitEventsDropped prometheus.Counter
	ExitEventsLost    prometheus.Counter
	StoreBytesWritten prometheus.Counter
	StoreSyncs        prometheus.Counter
	WriteFailures     prometheus.Counter
	Degraded          prometheus.Gauge
}

// NewRecorder builds the registry and registers every series.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	ns := func(name string) string { return prometheus.BuildFQName("below", "collector", name) }

	r.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ns("tick_duration_seconds"),
		Help:    "Wall time one sample assembly took.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	r.SamplesCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ns("samples_collected_total"),
		Help: "Samples assembled since start.",
	})
	r.ExitEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ns("exit_events_dropped_total"),
		Help: "Exit events evicted from the per-tick buffer on overflow.",
	})
	r.ExitEventsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ns("exit_events_lost_total"),
		Help: "Exit events the kernel dropped before we read them.",
	})
	r.StoreBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName("below", "store", "bytes_written_total"),
		Help: "Payload and index bytes appended to the store.",
	})
	r.StoreSyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName("below", "store", "sync_total"),
		Help: "fsync pairs issued by the store writer.",
	})
	r.WriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName("below", "store", "write_failures_total"),
		Help: "Samples dropped because the store writer failed.",
	})
	r.Degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ns("degraded"),
		Help: "1 while sampling continues without a healthy store.",
	})

	r.registry.MustRegister(
		r.TickDuration, r.SamplesCollected,
		r.ExitEventsDropped, r.ExitEventsLost,
		r.StoreBytesWritten, r.StoreSyncs, r.WriteFailures,
		r.Degraded,
	)
	return r
}

// Registry exposes the underlying registry for the exporter.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
